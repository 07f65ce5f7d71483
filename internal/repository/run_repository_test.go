package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/draftsend/draftsend/internal/database"
	"github.com/draftsend/draftsend/internal/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) (*RunRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRunRepository(database.NewPostgresFromDB(db)), mock
}

func strPtr(s string) *string { return &s }

func TestRunRepository_Create(t *testing.T) {
	repo, mock := setupRepo(t)
	started := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs("run-1", "Newsletter", "graph", sqlmock.AnyArg(), "validating", 0, 0, 0, started).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &model.Run{
		ID:        "run-1",
		Subject:   "Newsletter",
		Provider:  "graph",
		Account:   strPtr("ann@contoso.com"),
		State:     "validating",
		StartedAt: started,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_CreateDuplicate(t *testing.T) {
	repo, mock := setupRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := repo.Create(context.Background(), &model.Run{ID: "run-1"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRunRepository_Finish(t *testing.T) {
	repo, mock := setupRepo(t)
	finished := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs")).
		WithArgs("completed", 3, 2, 1, sqlmock.AnyArg(), sqlmock.AnyArg(), "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	run := &model.Run{ID: "run-1", State: "completed", TotalBatches: 3, Succeeded: 2, Failed: 1, FinishedAt: &finished}
	require.NoError(t, repo.Finish(context.Background(), run))

	run.ID = "missing"
	assert.ErrorIs(t, repo.Finish(context.Background(), run), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_RecordAttempt(t *testing.T) {
	repo, mock := setupRepo(t)
	status := 429

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batch_attempts")).
		WithArgs("run-1", 2, 50, false, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(120), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordAttempt(context.Background(), &model.BatchAttempt{
		RunID:        "run-1",
		BatchIndex:   2,
		AddressCount: 50,
		StatusCode:   &status,
		Detail:       strPtr("throttled"),
		DurationMS:   120,
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_GetByID(t *testing.T) {
	repo, mock := setupRepo(t)
	started := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	columns := []string{"id", "subject", "provider", "account", "state", "total_batches",
		"succeeded", "failed", "reason", "started_at", "finished_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("run-1", "Newsletter", "graph", nil, "aborted", 4, 1, 0, "canceled", started, finished))

	run, err := repo.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "aborted", run.State)
	assert.Nil(t, run.Account)
	require.NotNil(t, run.Reason)
	assert.Equal(t, "canceled", *run.Reason)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, finished.Equal(*run.FinishedAt))

	mock.ExpectQuery(regexp.QuoteMeta("FROM runs")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunRepository_ListAttempts(t *testing.T) {
	repo, mock := setupRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM batch_attempts")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "batch_index", "address_count",
			"succeeded", "status_code", "detail", "duration_ms", "created_at"}).
			AddRow("run-1", 1, 50, true, nil, nil, int64(80), now).
			AddRow("run-1", 2, 10, false, int64(500), "server error", int64(95), now))

	attempts, err := repo.ListAttempts(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.True(t, attempts[0].Succeeded)
	assert.Nil(t, attempts[0].StatusCode)
	require.NotNil(t, attempts[1].StatusCode)
	assert.Equal(t, 500, *attempts[1].StatusCode)

	mock.ExpectQuery(regexp.QuoteMeta("FROM batch_attempts")).
		WillReturnError(errors.New("connection reset"))
	_, err = repo.ListAttempts(context.Background(), "run-2")
	assert.ErrorContains(t, err, "connection reset")
}

func TestRunRepository_DeleteFinishedBefore(t *testing.T) {
	repo, mock := setupRepo(t)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM runs")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteFinishedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
