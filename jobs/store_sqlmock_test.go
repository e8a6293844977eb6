package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qaflow/db"
	"github.com/teranos/qaflow/errors"
)

func newMockStore(t *testing.T, dialect db.Dialect) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewStore(conn, dialect, WithClock(func() time.Time { return fixed })), mock
}

func TestCreate_DatabaseError(t *testing.T) {
	store, mock := newMockStore(t, db.DialectSQLite)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO qa_jobs")).
		WillReturnError(sql.ErrConnDone)

	err := store.Create(context.Background(), New("j", "q", nil, store.Now(), time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create job j")
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_DatabaseError(t *testing.T) {
	store, mock := newMockStore(t, db.DialectSQLite)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT job_id")).
		WithArgs("j", sqlmock.AnyArg()).
		WillReturnError(sql.ErrConnDone)

	_, err := store.Get(context.Background(), "j")
	require.Error(t, err)
	assert.False(t, errors.IsNotFoundError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_PostgresPlaceholders(t *testing.T) {
	store, mock := newMockStore(t, db.DialectPostgres)

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE qa_jobs SET updated_at = $1, status = $2, result = $3 WHERE job_id = $4 AND expires_at > $5 AND status = $6 AND status = $7")).
		WithArgs(sqlmock.AnyArg(), "completed", `{"answer":"a"}`, "j", sqlmock.AnyArg(), "processing", "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Update(context.Background(), "j", Completed(json.RawMessage(`{"answer":"a"}`)), Expect(StatusProcessing))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_ProbeDistinguishesMiss(t *testing.T) {
	t.Run("condition failed", func(t *testing.T) {
		store, mock := newMockStore(t, db.DialectSQLite)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE qa_jobs")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM qa_jobs")).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

		err := store.Update(context.Background(), "j", Failed("late"), Expect(StatusProcessing))
		assert.True(t, errors.IsConditionFailed(err))
		assert.Contains(t, err.Error(), "is completed")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t, db.DialectSQLite)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE qa_jobs")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM qa_jobs")).WillReturnError(sql.ErrNoRows)

		err := store.Update(context.Background(), "j", Failed("late"), nil)
		assert.True(t, errors.IsNotFoundError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("probe error", func(t *testing.T) {
		store, mock := newMockStore(t, db.DialectSQLite)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE qa_jobs")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM qa_jobs")).WillReturnError(sql.ErrConnDone)

		err := store.Update(context.Background(), "j", Failed("late"), nil)
		require.Error(t, err)
		assert.False(t, errors.IsNotFoundError(err))
		assert.False(t, errors.IsConditionFailed(err))
	})
}

func TestUpdate_WriteError(t *testing.T) {
	store, mock := newMockStore(t, db.DialectSQLite)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE qa_jobs")).WillReturnError(sql.ErrConnDone)

	err := store.Update(context.Background(), "j", Failed("x"), Expect(StatusProcessing))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update job j")
}

func TestDeleteExpired_Error(t *testing.T) {
	store, mock := newMockStore(t, db.DialectSQLite)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM qa_jobs")).WillReturnError(sql.ErrConnDone)

	_, err := store.DeleteExpired(context.Background())
	require.Error(t, err)
}
