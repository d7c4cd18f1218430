package productvalidation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/quiby-ai/ordersaga/pkg/saga"
)

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresStoreWithSchema initializes the schema then returns the store.
func NewPostgresStoreWithSchema(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := NewPostgresStore(db)
	if err := s.InitSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			code TEXT PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("create products: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS validations (
			order_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (order_id, transaction_id)
		)
	`); err != nil {
		return fmt.Errorf("create validations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, key saga.Key) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM validations WHERE order_id = $1 AND transaction_id = $2)`,
		key.OrderID, key.TransactionID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) AddProduct(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO products (code) VALUES ($1) ON CONFLICT (code) DO NOTHING`, code)
	return err
}

func (s *PostgresStore) MissingProducts(ctx context.Context, codes []string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM products WHERE code = ANY($1)`, pq.Array(codes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]bool, len(codes))
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		found[code] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, c := range codes {
		if !found[c] {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

func (s *PostgresStore) Create(ctx context.Context, v Validation) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO validations (order_id, transaction_id, success) VALUES ($1, $2, $3) ON CONFLICT (order_id, transaction_id) DO NOTHING`,
		v.OrderID, v.TransactionID, v.Success)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, key saga.Key) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validations (order_id, transaction_id, success) VALUES ($1, $2, FALSE)
		 ON CONFLICT (order_id, transaction_id) DO UPDATE SET success = FALSE, updated_at = NOW()`,
		key.OrderID, key.TransactionID)
	return err
}

func (s *PostgresStore) Find(ctx context.Context, key saga.Key) (Validation, error) {
	v := Validation{OrderID: key.OrderID, TransactionID: key.TransactionID}
	err := s.db.QueryRowContext(ctx,
		`SELECT success, created_at, updated_at FROM validations WHERE order_id = $1 AND transaction_id = $2`,
		key.OrderID, key.TransactionID).Scan(&v.Success, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Validation{}, ErrNotFound
	}
	return v, err
}
