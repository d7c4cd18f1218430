package inventory

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiby-ai/ordersaga/pkg/saga"
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

var (
	testKey     = saga.Key{OrderID: "order-1", TransactionID: "tx-1"}
	recordCols  = []string{"product_code", "old_quantity", "order_quantity", "new_quantity", "released", "created_at"}
	comicsLine  = Line{ProductCode: "COMIC_BOOKS", Quantity: 3}
	booksLine   = Line{ProductCode: "BOOKS", Quantity: 2}
	reserveMany = []Line{booksLine, comicsLine}
)

func TestPostgresStore_InitSchema(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS inventories").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS order_inventories").WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresStoreWithSchema(context.Background(), db)
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestPostgresStore_InitSchemaError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS inventories").WillReturnError(errors.New("boom"))

	_, err := NewPostgresStoreWithSchema(context.Background(), db)
	require.Error(t, err)
}

func TestPostgresStore_Reserve(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT product_code, old_quantity").
		WithArgs("order-1", "tx-1").
		WillReturnRows(sqlmock.NewRows(recordCols))
	mock.ExpectQuery("SELECT available FROM inventories").
		WithArgs("BOOKS").
		WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow(10))
	mock.ExpectExec("UPDATE inventories SET available").
		WithArgs("BOOKS", 8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_inventories").
		WithArgs("order-1", "tx-1", "BOOKS", 10, 2, 8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT available FROM inventories").
		WithArgs("COMIC_BOOKS").
		WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow(6))
	mock.ExpectExec("UPDATE inventories SET available").
		WithArgs("COMIC_BOOKS", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_inventories").
		WithArgs("order-1", "tx-1", "COMIC_BOOKS", 6, 3, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	records, err := NewPostgresStore(db).Reserve(context.Background(), testKey, reserveMany)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 8, records[0].NewQuantity)
	assert.Equal(t, 3, records[1].NewQuantity)
}

func TestPostgresStore_ReserveOutOfStockRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT product_code, old_quantity").
		WithArgs("order-1", "tx-1").
		WillReturnRows(sqlmock.NewRows(recordCols))
	mock.ExpectQuery("SELECT available FROM inventories").
		WithArgs("COMIC_BOOKS").
		WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow(1))
	mock.ExpectRollback()

	_, err := NewPostgresStore(db).Reserve(context.Background(), testKey, []Line{comicsLine})
	assert.ErrorIs(t, err, ErrOutOfStock)
}

func TestPostgresStore_ReserveUnknownProduct(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT product_code, old_quantity").
		WithArgs("order-1", "tx-1").
		WillReturnRows(sqlmock.NewRows(recordCols))
	mock.ExpectQuery("SELECT available FROM inventories").
		WithArgs("BOOKS").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := NewPostgresStore(db).Reserve(context.Background(), testKey, []Line{booksLine})
	assert.ErrorIs(t, err, ErrInventoryNotFound)
}

func TestPostgresStore_ReserveReturnsExisting(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT product_code, old_quantity").
		WithArgs("order-1", "tx-1").
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow("BOOKS", 10, 2, 8, false, time.Now()))
	mock.ExpectCommit()

	records, err := NewPostgresStore(db).Reserve(context.Background(), testKey, []Line{booksLine})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 8, records[0].NewQuantity)
}

func TestPostgresStore_Release(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT product_code, old_quantity").
		WithArgs("order-1", "tx-1").
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow("BOOKS", 10, 2, 8, false, time.Now()))
	mock.ExpectExec("UPDATE inventories SET available").
		WithArgs("BOOKS", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE order_inventories SET released").
		WithArgs("order-1", "tx-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	released, err := NewPostgresStore(db).Release(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
}

func TestPostgresStore_ReleaseNothing(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT product_code, old_quantity").
		WithArgs("order-1", "tx-1").
		WillReturnRows(sqlmock.NewRows(recordCols))
	mock.ExpectCommit()

	released, err := NewPostgresStore(db).Release(context.Background(), testKey)
	require.NoError(t, err)
	assert.Zero(t, released)
}

func TestPostgresStore_Available(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT available FROM inventories").
		WithArgs("BOOKS").
		WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow(4))
	mock.ExpectQuery("SELECT available FROM inventories").
		WithArgs("MUSIC").
		WillReturnError(sql.ErrNoRows)

	store := NewPostgresStore(db)
	n, err := store.Available(context.Background(), "BOOKS")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = store.Available(context.Background(), "MUSIC")
	assert.ErrorIs(t, err, ErrInventoryNotFound)
}

func TestPostgresStore_SetAvailable(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO inventories").
		WithArgs("BOOKS", 4).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresStore(db).SetAvailable(context.Background(), "BOOKS", 4))
}

func TestPostgresStore_Seed(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "missing row is created", affected: 1, want: true},
		{name: "existing row is kept", affected: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectExec(`INSERT INTO inventories .+ ON CONFLICT \(product_code\) DO NOTHING`).
				WithArgs("BOOKS", 4).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			created, err := NewPostgresStore(db).Seed(context.Background(), "BOOKS", 4)
			require.NoError(t, err)
			assert.Equal(t, tt.want, created)
		})
	}
}

func TestPostgresStore_SeedError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO inventories").
		WithArgs("BOOKS", 4).
		WillReturnError(errors.New("connection reset"))

	_, err := NewPostgresStore(db).Seed(context.Background(), "BOOKS", 4)
	assert.ErrorContains(t, err, "seed inventory BOOKS")
}
