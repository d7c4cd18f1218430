package productvalidation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

func pendingEvent(products ...events.OrderProduct) *events.Event {
	order := events.Order{ID: "order-1", Products: products}
	return events.NewEvent(order, "tx-1")
}

func line(code string, qty int) events.OrderProduct {
	return events.OrderProduct{Product: events.Product{Code: code, UnitValue: 10}, Quantity: qty}
}

func TestService_Execute(t *testing.T) {
	tests := []struct {
		name     string
		products []events.OrderProduct
		wantCode saga.FailureCode
	}{
		{name: "all products exist", products: []events.OrderProduct{line("BOOKS", 1), line("COMIC_BOOKS", 2)}},
		{name: "repeated product", products: []events.OrderProduct{line("BOOKS", 1), line("BOOKS", 2)}},
		{name: "empty list", wantCode: saga.CodeInvalidPayload},
		{name: "blank code", products: []events.OrderProduct{line("", 1)}, wantCode: saga.CodeInvalidPayload},
		{name: "zero quantity", products: []events.OrderProduct{line("BOOKS", 0)}, wantCode: saga.CodeInvalidPayload},
		{name: "unknown product", products: []events.OrderProduct{line("BOOKS", 1), line("MUSIC", 1)}, wantCode: saga.CodeRecordNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore("BOOKS", "COMIC_BOOKS")
			svc := NewService(store)
			e := pendingEvent(tt.products...)

			msg, err := svc.Execute(context.Background(), e)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, "Products are validated successfully!", msg)
				v, err := store.Find(context.Background(), saga.KeyOf(e))
				require.NoError(t, err)
				assert.True(t, v.Success)
				return
			}

			f, ok := saga.AsFailure(err)
			require.True(t, ok, "expected failure, got %v", err)
			assert.Equal(t, tt.wantCode, f.Code)
			exists, _ := store.Exists(context.Background(), saga.KeyOf(e))
			assert.False(t, exists)
		})
	}
}

func TestService_ExecuteTwiceIsDuplicate(t *testing.T) {
	svc := NewService(NewMemoryStore("BOOKS"))
	e := pendingEvent(line("BOOKS", 1))

	_, err := svc.Execute(context.Background(), e)
	require.NoError(t, err)

	exists, err := svc.Exists(context.Background(), saga.KeyOf(e))
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = svc.Execute(context.Background(), e)
	f, ok := saga.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, saga.CodeDuplicateTransaction, f.Code)
}

func TestService_Compensate(t *testing.T) {
	store := NewMemoryStore("BOOKS")
	svc := NewService(store)
	e := pendingEvent(line("BOOKS", 1))
	ctx := context.Background()

	_, err := svc.Execute(ctx, e)
	require.NoError(t, err)

	msg, err := svc.Compensate(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "Rollback executed on product validation!", msg)

	v, err := store.Find(ctx, saga.KeyOf(e))
	require.NoError(t, err)
	assert.False(t, v.Success)

	// compensating an attempt that never executed leaves a failed record
	other := events.NewEvent(e.Payload, "tx-2")
	_, err = svc.Compensate(ctx, other)
	require.NoError(t, err)
	v, err = store.Find(ctx, saga.KeyOf(other))
	require.NoError(t, err)
	assert.False(t, v.Success)
}

func TestMemoryStore_AddProduct(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	missing, err := store.MissingProducts(ctx, []string{"BOOKS"})
	require.NoError(t, err)
	assert.Equal(t, []string{"BOOKS"}, missing)

	require.NoError(t, store.AddProduct(ctx, "BOOKS"))
	missing, err = store.MissingProducts(ctx, []string{"BOOKS"})
	require.NoError(t, err)
	assert.Empty(t, missing)
}
