package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/temple-admission/internal/model"
)

func newMockRepo(t *testing.T) (*PassRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPassRepo(db), mock
}

func TestPassRepo_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	p := &model.Pass{
		Token:      "tok-1",
		VenueID:    "v1",
		VisitDate:  time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC),
		TimeWindow: "06:00-08:00",
		PartySize:  3,
		State:      model.PassConfirmed,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO passes")).
		WithArgs("tok-1", "v1", "2026-10-20", "06:00-08:00", 3, "CONFIRMED", "", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token, err := repo.Create(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.False(t, p.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPassRepo_Create_DuplicateToken(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO passes")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	_, err := repo.Create(context.Background(), &model.Pass{Token: "dup", State: model.PassConfirmed})
	assert.ErrorIs(t, err, ErrDuplicateToken)
}

func TestPassRepo_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	visit := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	entered := time.Date(2026, 10, 20, 6, 15, 0, 0, time.UTC)
	cols := []string{"token", "venue_id", "visit_date", "time_window", "party_size", "state", "holder_name",
		"holder_email", "entry_at", "exit_at", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM passes WHERE token = ?")).
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"tok-1", "v1", visit, "06:00-08:00", 2, "USED", "Asha", "asha@example.com",
			entered, nil, visit, entered,
		))

	p, err := repo.Get(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, model.PassUsed, p.State)
	assert.Equal(t, 2, p.PartySize)
	require.NotNil(t, p.EntryAt)
	assert.True(t, entered.Equal(*p.EntryAt))
	assert.Nil(t, p.ExitAt)
}

func TestPassRepo_Get_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM passes WHERE token = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"token"}))

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPassNotFound)
}

func TestPassRepo_Transition(t *testing.T) {
	t.Run("applies when state matches", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta("entry_at = UTC_TIMESTAMP() WHERE token = ? AND state = ?")).
			WithArgs("USED", "tok", "CONFIRMED").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Transition(context.Background(), "tok", model.PassConfirmed, model.PassUsed))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict when state differs", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE passes SET state = ?")).
			WithArgs("USED", "tok", "CONFIRMED").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM passes WHERE token = ?")).
			WithArgs("tok").
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		err := repo.Transition(context.Background(), "tok", model.PassConfirmed, model.PassUsed)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("not found when token unknown", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE passes SET state = ?")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM passes WHERE token = ?")).
			WillReturnRows(sqlmock.NewRows([]string{"1"}))

		err := repo.Transition(context.Background(), "nope", model.PassUsed, model.PassCompleted)
		assert.ErrorIs(t, err, ErrPassNotFound)
	})

	t.Run("revert clears entry timestamp", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta("entry_at = NULL")).
			WithArgs("CONFIRMED", "tok", "USED").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Transition(context.Background(), "tok", model.PassUsed, model.PassConfirmed))
	})
}

func TestPassRepo_BookedVisitors(t *testing.T) {
	repo, mock := newMockRepo(t)
	day := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(party_size), 0) FROM passes")).
		WithArgs("v1", "2026-10-20", "06:00-08:00").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(17))

	n, err := repo.BookedVisitors(context.Background(), "v1", day, "06:00-08:00")
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)
}

func TestVenueRepo_GetAppliesDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewVenueRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM venues WHERE id = ?")).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "capacity_total", "slot_capacity", "warning_ratio", "critical_ratio"}).
			AddRow("v1", "Kashi Vishwanath", 500, 50, nil, nil))

	v, err := repo.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), v.CapacityTotal)
	assert.Equal(t, model.DefaultWarningRatio, v.WarningRatio)
	assert.Equal(t, model.DefaultCriticalRatio, v.CriticalRatio)
}

func TestVenueRepo_Snapshots(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewVenueRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE venues SET live_count = ?")).
		WithArgs(int64(42), "v1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveLiveCount(context.Background(), "v1", 42))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, live_count FROM venues")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "live_count"}).AddRow("v1", 42).AddRow("v2", 0))
	counts, err := repo.LiveCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"v1": 42, "v2": 0}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
