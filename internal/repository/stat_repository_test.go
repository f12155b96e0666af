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

func TestStatRepositoryListEligibleTeacherIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStatRepository(db)

	mock.ExpectQuery("SELECT teacher_id FROM teacher_topic_stats").
		WillReturnRows(sqlmock.NewRows([]string{"teacher_id"}).AddRow("t1").AddRow("t2"))

	ids, err := repo.ListEligibleTeacherIDs(context.Background(), "algebra", models.TierFree, "l1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatRepositoryIncrementSessionCount(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStatRepository(db)

	mock.ExpectExec("UPDATE teacher_topic_stats SET session_count = session_count \\+ 1").
		WithArgs("t1", "algebra", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementSessionCount(context.Background(), "t1", "algebra"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatRepositoryUpdateProgressRunsInTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStatRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE teacher_topic_stats SET tier").
		WithArgs("st1", models.TierPaid, models.LevelExpert, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	paidAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := repo.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return repo.UpdateProgress(context.Background(), tx, "st1", models.TierPaid, models.LevelExpert, &paidAt)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
