package saga

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quiby-ai/ordersaga/pkg/events"
)

// PostgresDecisionLog keeps decisions in the participant's own database,
// next to its local records.
type PostgresDecisionLog struct {
	db *sql.DB
}

var _ DecisionLog = (*PostgresDecisionLog)(nil)

func NewPostgresDecisionLog(db *sql.DB) *PostgresDecisionLog {
	return &PostgresDecisionLog{db: db}
}

func NewPostgresDecisionLogWithSchema(ctx context.Context, db *sql.DB) (*PostgresDecisionLog, error) {
	l := NewPostgresDecisionLog(db)
	if err := l.InitSchema(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PostgresDecisionLog) InitSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS saga_decisions (
			participant TEXT NOT NULL,
			order_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			input_id TEXT NOT NULL,
			outcome JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (participant, order_id, transaction_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create saga_decisions: %w", err)
	}
	return nil
}

func (l *PostgresDecisionLog) Decided(ctx context.Context, source events.Source, key Key) (Decision, bool, error) {
	var (
		d   Decision
		raw []byte
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT input_id, outcome FROM saga_decisions
		WHERE participant = $1 AND order_id = $2 AND transaction_id = $3
	`, string(source), key.OrderID, key.TransactionID).Scan(&d.InputID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, fmt.Errorf("load decision %s: %w", key, err)
	}
	if d.Outcome, err = events.Unmarshal(raw); err != nil {
		return Decision{}, false, fmt.Errorf("decode decision %s: %w", key, err)
	}
	return d, true, nil
}

func (l *PostgresDecisionLog) Remember(ctx context.Context, source events.Source, key Key, d Decision) error {
	raw, err := events.Marshal(d.Outcome)
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", key, err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO saga_decisions (participant, order_id, transaction_id, input_id, outcome)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (participant, order_id, transaction_id) DO NOTHING
	`, string(source), key.OrderID, key.TransactionID, d.InputID, raw)
	if err != nil {
		return fmt.Errorf("remember decision %s: %w", key, err)
	}
	return nil
}
