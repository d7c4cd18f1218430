package productvalidation

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

var testKey = saga.Key{OrderID: "order-1", TransactionID: "tx-1"}

func TestPostgresStore_WithSchema(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS validations").WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresStoreWithSchema(context.Background(), db)
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestPostgresStore_WithSchemaError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").WillReturnError(errors.New("boom"))

	store, err := NewPostgresStoreWithSchema(context.Background(), db)
	require.Error(t, err)
	assert.Nil(t, store)
}

func TestPostgresStore_Exists(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("order-1", "tx-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := NewPostgresStore(db).Exists(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPostgresStore_MissingProducts(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT code FROM products").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("BOOKS"))

	missing, err := NewPostgresStore(db).MissingProducts(context.Background(), []string{"BOOKS", "MUSIC"})
	require.NoError(t, err)
	assert.Equal(t, []string{"MUSIC"}, missing)
}

func TestPostgresStore_CreateOnce(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO validations").
		WithArgs("order-1", "tx-1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO validations").
		WithArgs("order-1", "tx-1", true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPostgresStore(db)
	v := Validation{OrderID: "order-1", TransactionID: "tx-1", Success: true}
	require.NoError(t, store.Create(context.Background(), v))
	assert.ErrorIs(t, store.Create(context.Background(), v), ErrDuplicate)
}

func TestPostgresStore_MarkFailed(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO validations").
		WithArgs("order-1", "tx-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresStore(db).MarkFailed(context.Background(), testKey))
}

func TestPostgresStore_Find(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT success, created_at, updated_at FROM validations").
		WithArgs("order-1", "tx-1").
		WillReturnRows(sqlmock.NewRows([]string{"success", "created_at", "updated_at"}).AddRow(true, now, now))
	mock.ExpectQuery("SELECT success, created_at, updated_at FROM validations").
		WithArgs("order-1", "tx-2").
		WillReturnError(sql.ErrNoRows)

	store := NewPostgresStore(db)
	v, err := store.Find(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, v.Success)
	assert.Equal(t, now, v.CreatedAt)

	_, err = store.Find(context.Background(), saga.Key{OrderID: "order-1", TransactionID: "tx-2"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_AddProduct(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO products").
		WithArgs("BOOKS").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresStore(db).AddProduct(context.Background(), "BOOKS"))
}
