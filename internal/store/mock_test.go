package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDisk = errors.New("disk I/O error")

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	defs := make(map[string]CollectionDef, len(DefaultCollections))
	for _, d := range DefaultCollections {
		defs[d.Name] = d
	}
	return &Store{db: db, defs: defs}, mock
}

func TestMock_GetAllQueryFailure(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT key, data FROM records`)).
		WithArgs("products").
		WillReturnError(errDisk)

	records, err := s.GetAll(context.Background(), "products")
	assert.Nil(t, records, "an unavailable store must not look empty")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errDisk)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMock_GetAllRowError(t *testing.T) {
	s, mock := setupMockStore(t)

	rows := sqlmock.NewRows([]string{"key", "data"}).
		AddRow("p1", `{"id":"p1"}`).
		RowError(0, errDisk)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT key, data FROM records`)).
		WillReturnRows(rows)

	_, err := s.GetAll(context.Background(), "products")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestMock_GetFailure(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM records`)).
		WithArgs("customers", "c1").
		WillReturnError(errDisk)

	_, err := s.Get(context.Background(), "customers", "c1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMock_BeginFailure(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin().WillReturnError(errDisk)

	err := s.Put(context.Background(), "products", testProduct{ID: "p1"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMock_WriteFailureRollsBack(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO records`)).
		WillReturnError(errDisk)
	mock.ExpectRollback()

	err := s.Put(context.Background(), "products", testProduct{ID: "p1"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMock_CommitFailure(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM records`)).
		WithArgs("orders", "o1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errDisk)

	err := s.Delete(context.Background(), "orders", "o1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMock_SettingFailure(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM settings`)).
		WithArgs("last_backup").
		WillReturnError(errDisk)

	_, err := s.Setting(context.Background(), "last_backup")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
