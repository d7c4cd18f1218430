package saga

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiby-ai/ordersaga/pkg/events"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		mock.ExpectClose()
		require.NoError(t, db.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})
	return db, mock
}

func TestPostgresDecisionLog_InitSchema(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS saga_decisions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := NewPostgresDecisionLogWithSchema(context.Background(), db)
	require.NoError(t, err)
}

func TestPostgresDecisionLog_Remember(t *testing.T) {
	db, mock := newMockDB(t)
	out := pending().Next(events.SourcePayment, events.StatusSuccess)
	raw, err := events.Marshal(out)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO saga_decisions .+ ON CONFLICT \(participant, order_id, transaction_id\) DO NOTHING`).
		WithArgs("PAYMENT", "order-1", "tx-1", out.CausationID, raw).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPostgresDecisionLog(db).Remember(context.Background(), events.SourcePayment, KeyOf(out),
		Decision{InputID: out.CausationID, Outcome: out})
	require.NoError(t, err)
}

func TestPostgresDecisionLog_Decided(t *testing.T) {
	out := pending().Next(events.SourcePayment, events.StatusSuccess)
	raw, err := events.Marshal(out)
	require.NoError(t, err)
	key := KeyOf(out)
	query := `SELECT input_id, outcome FROM saga_decisions`

	tests := []struct {
		name    string
		setup   func(sqlmock.Sqlmock)
		wantOK  bool
		wantErr string
	}{
		{
			name: "found",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(query).WithArgs("PAYMENT", key.OrderID, key.TransactionID).
					WillReturnRows(sqlmock.NewRows([]string{"input_id", "outcome"}).AddRow(out.CausationID, raw))
			},
			wantOK: true,
		},
		{
			name: "missing",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(query).WithArgs("PAYMENT", key.OrderID, key.TransactionID).
					WillReturnError(sql.ErrNoRows)
			},
		},
		{
			name: "undecodable outcome",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(query).WithArgs("PAYMENT", key.OrderID, key.TransactionID).
					WillReturnRows(sqlmock.NewRows([]string{"input_id", "outcome"}).AddRow(out.CausationID, []byte("{")))
			},
			wantErr: "decode decision",
		},
		{
			name: "query error",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(query).WithArgs("PAYMENT", key.OrderID, key.TransactionID).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: "load decision",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tt.setup(mock)

			d, ok, err := NewPostgresDecisionLog(db).Decided(context.Background(), events.SourcePayment, key)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, out.CausationID, d.InputID)
				assert.Equal(t, out.ID, d.Outcome.ID)
				assert.Equal(t, events.StatusSuccess, d.Outcome.Status)
			}
		})
	}
}
