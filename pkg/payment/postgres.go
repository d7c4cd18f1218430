package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quiby-ai/ordersaga/pkg/saga"
)

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func NewPostgresStoreWithSchema(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := NewPostgresStore(db)
	if err := s.InitSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payments (
			order_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			total_items INTEGER NOT NULL,
			total_amount DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (order_id, transaction_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create payments: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, key saga.Key) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE order_id = $1 AND transaction_id = $2)`,
		key.OrderID, key.TransactionID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Save(ctx context.Context, p Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (order_id, transaction_id, total_items, total_amount, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, transaction_id) DO UPDATE
		SET total_items = EXCLUDED.total_items,
			total_amount = EXCLUDED.total_amount,
			status = EXCLUDED.status,
			updated_at = NOW()
	`, p.OrderID, p.TransactionID, p.TotalItems, p.TotalAmount, string(p.Status))
	return err
}

func (s *PostgresStore) Find(ctx context.Context, key saga.Key) (Payment, error) {
	p := Payment{OrderID: key.OrderID, TransactionID: key.TransactionID}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT total_items, total_amount, status, created_at, updated_at
		FROM payments WHERE order_id = $1 AND transaction_id = $2
	`, key.OrderID, key.TransactionID).Scan(&p.TotalItems, &p.TotalAmount, &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	p.Status = Status(status)
	return p, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, key saga.Key, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = $3, updated_at = NOW() WHERE order_id = $1 AND transaction_id = $2`,
		key.OrderID, key.TransactionID, string(status))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}
