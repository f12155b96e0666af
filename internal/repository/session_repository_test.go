package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func sessionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "teacher_id", "student_id", "topic_id", "window_id",
		"scheduled_at", "completed_at", "duration_minutes", "tier",
		"status", "timezone", "hold_expires_at", "created_at", "updated_at",
	})
}

func TestSessionRepositoryBookClaimsAvailableSlot(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET student_id").
		WithArgs("s1", "l1", "algebra", models.TierFree, models.SessionUpcoming, sqlmock.AnyArg(), models.SessionAvailable).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.Book(context.Background(), "s1", "l1", "algebra", models.TierFree)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryBookLosesRace(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET student_id").
		WithArgs("s1", "l2", "algebra", models.TierFree, models.SessionUpcoming, sqlmock.AnyArg(), models.SessionAvailable).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.Book(context.Background(), "s1", "l2", "algebra", models.TierFree)
	require.NoError(t, err)
	assert.False(t, claimed, "a slot already claimed must not be claimed twice")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryListIntersecting(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	from := time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)
	to := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	rows := sessionRows().AddRow(
		"s1", "t1", nil, "", nil,
		start, start.Add(90*time.Minute), 90, models.TierFree,
		models.SessionUpcoming, "UTC", nil, time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM sessions").
		WithArgs("t1", sqlmock.AnyArg(), to, from, "").
		WillReturnRows(rows)

	sessions, err := repo.ListIntersecting(context.Background(), "t1", from, to, []models.SessionStatus{models.SessionUpcoming}, "")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCreateDerivesCompletedAt(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	session := &models.Session{
		TeacherID:       "t1",
		ScheduledAt:     start,
		DurationMinutes: 120,
		Tier:            models.TierFree,
		Status:          models.SessionAvailable,
		Timezone:        "UTC",
	}
	require.NoError(t, repo.Create(context.Background(), session))
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, start.Add(2*time.Hour), session.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryExpireHolds(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("UPDATE sessions SET student_id").
		WithArgs(models.SessionAvailable, now, models.SessionPending).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1").AddRow("s2"))

	ids, err := repo.ExpireHolds(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryTransitionRequiresCurrentStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET status").
		WithArgs("s1", models.SessionUpcoming, models.SessionCompleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	moved, err := repo.Transition(context.Background(), "s1", models.SessionUpcoming, models.SessionCompleted)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCancelOpenByWindow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET status").
		WithArgs("w1", models.SessionCancelled, sqlmock.AnyArg(), models.SessionAvailable).
		WillReturnResult(sqlmock.NewResult(0, 3))

	withdrawn, err := repo.CancelOpenByWindow(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), withdrawn)
	assert.NoError(t, mock.ExpectationsWereMet())
}
