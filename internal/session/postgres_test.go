package session

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresStoreWithExec(mock), mock
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT value FROM session_values").
		WithArgs("s1", "available_tokens").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("700"))
	mock.ExpectQuery("SELECT value FROM session_values").
		WithArgs("s2", "available_tokens").
		WillReturnRows(pgxmock.NewRows([]string{"value"}))

	v, ok, err := store.Get(context.Background(), "s1", "available_tokens")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "700", v)

	_, ok, err = store.Get(context.Background(), "s2", "available_tokens")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetReturnsPrevious(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectQuery("WITH prev AS").
		WithArgs("s1", "available_tokens", "900").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce", "exists"}).AddRow("700", true))

	prev, existed, err := store.Set(context.Background(), "s1", "available_tokens", "900")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "700", prev)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompareAndSet(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectExec("INSERT INTO session_values").
		WithArgs("s1", "available_tokens", "700").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO session_values").
		WithArgs("s1", "available_tokens", "700").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("UPDATE session_values").
		WithArgs("s1", "available_tokens", "700", "1400").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	ok, err := store.CompareAndSet(ctx, "s1", "available_tokens", nil, "700")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CompareAndSet(ctx, "s1", "available_tokens", nil, "700")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CompareAndSet(ctx, "s1", "available_tokens", Expect("700"), "1400")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ErrorsAreUnavailable(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT value FROM session_values").
		WithArgs("s1", "available_tokens").
		WillReturnError(errors.New("connection refused"))

	_, _, err := store.Get(context.Background(), "s1", "available_tokens")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}
