package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

func windowRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "teacher_id", "topic_ids", "weekday", "specific_date",
		"start_minute", "end_minute", "timezone", "recurring", "active",
		"created_at", "updated_at",
	})
}

func TestAvailabilityRepositoryListByTeacher(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	rows := windowRows().AddRow(
		"w1", "t1", "{algebra}", 1, nil,
		540, 660, "Asia/Kolkata", true, true,
		time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM availability_windows").
		WithArgs("t1").
		WillReturnRows(rows)

	windows, err := repo.ListByTeacher(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 540, windows[0].StartMinute)
	assert.Equal(t, []string{"algebra"}, []string(windows[0].TopicIDs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryExistsDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectQuery("SELECT 1 FROM availability_windows").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	weekday := 1
	dup, err := repo.ExistsDuplicate(context.Background(), &models.AvailabilityWindow{
		TeacherID:   "t1",
		Weekday:     &weekday,
		StartMinute: 540,
		EndMinute:   660,
		Timezone:    "Asia/Kolkata",
	}, "")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryUpdateSpan(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectExec("UPDATE availability_windows SET start_minute").
		WithArgs("w1", 630, 660, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateSpan(context.Background(), "w1", 630, 660))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryDeactivate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAvailabilityRepository(db)

	mock.ExpectExec("UPDATE availability_windows SET active = FALSE").
		WithArgs("w1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Deactivate(context.Background(), "w1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
