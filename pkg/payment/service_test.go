package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

func orderEvent(lines ...events.OrderProduct) *events.Event {
	return events.NewEvent(events.Order{ID: "order-1", Products: lines}, "tx-1")
}

func line(code string, unit float64, qty int) events.OrderProduct {
	return events.OrderProduct{Product: events.Product{Code: code, UnitValue: unit}, Quantity: qty}
}

func TestService_ExecuteWritesTotals(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	e := orderEvent(line("COMIC_BOOKS", 15.5, 3), line("BOOKS", 10, 2))

	msg, err := svc.Execute(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "Payment realized successfully!", msg)
	assert.Equal(t, 5, e.Payload.TotalItems)
	assert.InDelta(t, 66.5, e.Payload.TotalAmount, 1e-9)

	p, err := store.Find(context.Background(), saga.KeyOf(e))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, p.Status)
	assert.Equal(t, 5, p.TotalItems)
	assert.InDelta(t, 66.5, p.TotalAmount, 1e-9)
}

func TestService_ExecuteRejectsSmallAmount(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		ok     bool
	}{
		{name: "below minimum", amount: 0.05},
		{name: "zero", amount: 0},
		{name: "at minimum", amount: 0.1, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			e := orderEvent(line("BOOKS", tt.amount, 1))

			_, err := NewService(store).Execute(context.Background(), e)
			p, ferr := store.Find(context.Background(), saga.KeyOf(e))
			require.NoError(t, ferr)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, StatusSuccess, p.Status)
				return
			}
			f, ok := saga.AsFailure(err)
			require.True(t, ok)
			assert.Equal(t, saga.CodeInvalidAmount, f.Code)
			assert.Equal(t, "The minimum amount value is 0.1", f.Message)
			assert.Equal(t, StatusPending, p.Status)
		})
	}
}

func TestService_Compensate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store)
	e := orderEvent(line("BOOKS", 10, 1))

	msg, err := svc.Compensate(ctx, e)
	require.NoError(t, err)
	assert.Contains(t, msg, "nothing to refund")

	_, err = svc.Execute(ctx, e)
	require.NoError(t, err)

	msg, err = svc.Compensate(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "Rollback executed for payment!", msg)

	p, err := store.Find(ctx, saga.KeyOf(e))
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, p.Status)

	msg, err = svc.Compensate(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "Payment already refunded", msg)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f failingStore) Save(context.Context, Payment) error { return f.err }

func TestService_ExecuteInfrastructureError(t *testing.T) {
	boom := errors.New("connection reset")
	svc := NewService(failingStore{MemoryStore: NewMemoryStore(), err: boom})

	_, err := svc.Execute(context.Background(), orderEvent(line("BOOKS", 10, 1)))
	require.ErrorIs(t, err, boom)
	_, isFailure := saga.AsFailure(err)
	assert.False(t, isFailure)
}

func TestMemoryStore_UpdateStatusMissing(t *testing.T) {
	err := NewMemoryStore().UpdateStatus(context.Background(), saga.Key{OrderID: "x", TransactionID: "y"}, StatusRefunded)
	assert.ErrorIs(t, err, ErrNotFound)
}
