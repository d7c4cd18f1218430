package inventory

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
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS inventories (
			product_code TEXT PRIMARY KEY,
			available INTEGER NOT NULL CHECK (available >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create inventories: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS order_inventories (
			order_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			product_code TEXT NOT NULL REFERENCES inventories (product_code),
			old_quantity INTEGER NOT NULL,
			order_quantity INTEGER NOT NULL,
			new_quantity INTEGER NOT NULL,
			released BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (order_id, transaction_id, product_code)
		)
	`); err != nil {
		return fmt.Errorf("create order_inventories: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, key saga.Key) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM order_inventories WHERE order_id = $1 AND transaction_id = $2)`,
		key.OrderID, key.TransactionID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Reserve(ctx context.Context, key saga.Key, lines []Line) (records []OrderInventory, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reserve: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err := loadRecords(ctx, tx, key, false)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, tx.Commit()
	}

	for _, l := range lines {
		var old int
		err := tx.QueryRowContext(ctx,
			`SELECT available FROM inventories WHERE product_code = $1 FOR UPDATE`,
			l.ProductCode).Scan(&old)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrInventoryNotFound, l.ProductCode)
		}
		if err != nil {
			return nil, fmt.Errorf("lock inventory %s: %w", l.ProductCode, err)
		}
		if l.Quantity > old {
			return nil, fmt.Errorf("%w: %s has %d, requested %d", ErrOutOfStock, l.ProductCode, old, l.Quantity)
		}

		rec := OrderInventory{
			OrderID:       key.OrderID,
			TransactionID: key.TransactionID,
			ProductCode:   l.ProductCode,
			OldQuantity:   old,
			OrderQuantity: l.Quantity,
			NewQuantity:   old - l.Quantity,
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE inventories SET available = $2, updated_at = NOW() WHERE product_code = $1`,
			rec.ProductCode, rec.NewQuantity); err != nil {
			return nil, fmt.Errorf("update inventory %s: %w", l.ProductCode, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_inventories (order_id, transaction_id, product_code, old_quantity, order_quantity, new_quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, rec.OrderID, rec.TransactionID, rec.ProductCode, rec.OldQuantity, rec.OrderQuantity, rec.NewQuantity); err != nil {
			return nil, fmt.Errorf("record order inventory %s: %w", l.ProductCode, err)
		}
		records = append(records, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reserve: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Release(ctx context.Context, key saga.Key) (released int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin release: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	records, err := loadRecords(ctx, tx, key, true)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx,
			`UPDATE inventories SET available = available + $2, updated_at = NOW() WHERE product_code = $1`,
			rec.ProductCode, rec.OrderQuantity); err != nil {
			return 0, fmt.Errorf("restore inventory %s: %w", rec.ProductCode, err)
		}
	}
	if len(records) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE order_inventories SET released = TRUE WHERE order_id = $1 AND transaction_id = $2 AND released = FALSE`,
			key.OrderID, key.TransactionID); err != nil {
			return 0, fmt.Errorf("mark released: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit release: %w", err)
	}
	return len(records), nil
}

// loadRecords reads the movements of key, optionally only the unreleased
// ones locked for update. Rows are fully read before the caller issues
// further statements on tx.
func loadRecords(ctx context.Context, tx *sql.Tx, key saga.Key, unreleasedForUpdate bool) ([]OrderInventory, error) {
	query := `SELECT product_code, old_quantity, order_quantity, new_quantity, released, created_at
		FROM order_inventories WHERE order_id = $1 AND transaction_id = $2`
	if unreleasedForUpdate {
		query += ` AND released = FALSE FOR UPDATE`
	}
	rows, err := tx.QueryContext(ctx, query, key.OrderID, key.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("load order inventories: %w", err)
	}
	defer rows.Close()

	var out []OrderInventory
	for rows.Next() {
		rec := OrderInventory{OrderID: key.OrderID, TransactionID: key.TransactionID}
		if err := rows.Scan(&rec.ProductCode, &rec.OldQuantity, &rec.OrderQuantity, &rec.NewQuantity, &rec.Released, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Available(ctx context.Context, productCode string) (int, error) {
	var available int
	err := s.db.QueryRowContext(ctx,
		`SELECT available FROM inventories WHERE product_code = $1`, productCode).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrInventoryNotFound, productCode)
	}
	return available, err
}

func (s *PostgresStore) SetAvailable(ctx context.Context, productCode string, available int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventories (product_code, available) VALUES ($1, $2)
		ON CONFLICT (product_code) DO UPDATE SET available = EXCLUDED.available, updated_at = NOW()
	`, productCode, available)
	return err
}

// Seed never touches an existing row, so restarts keep committed reservations.
func (s *PostgresStore) Seed(ctx context.Context, productCode string, available int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO inventories (product_code, available) VALUES ($1, $2)
		ON CONFLICT (product_code) DO NOTHING
	`, productCode, available)
	if err != nil {
		return false, fmt.Errorf("seed inventory %s: %w", productCode, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
