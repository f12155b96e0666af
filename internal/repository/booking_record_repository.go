package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

// BookingRecordRepository appends immutable booking history rows. Records
// are insert-only; there is no update path.
type BookingRecordRepository struct {
	db *sqlx.DB
}

// NewBookingRecordRepository creates a new booking record repository.
func NewBookingRecordRepository(db *sqlx.DB) *BookingRecordRepository {
	return &BookingRecordRepository{db: db}
}

// Create appends a booking record.
func (r *BookingRecordRepository) Create(ctx context.Context, record *models.BookingRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO booking_records (id, session_id, teacher_id, student_id, topic_id, teacher_name, topic_name, scheduled_at, duration_minutes, tier, local_start_time, created_at)
		VALUES (:id, :session_id, :teacher_id, :student_id, :topic_id, :teacher_name, :topic_name, :scheduled_at, :duration_minutes, :tier, :local_start_time, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create booking record: %w", err)
	}
	return nil
}

// ListByStudent returns a learner's booking history, newest first.
func (r *BookingRecordRepository) ListByStudent(ctx context.Context, studentID string) ([]models.BookingRecord, error) {
	const query = `SELECT id, session_id, teacher_id, student_id, topic_id, teacher_name, topic_name, scheduled_at, duration_minutes, tier, local_start_time, created_at
		FROM booking_records WHERE student_id = $1 ORDER BY created_at DESC`
	var records []models.BookingRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list booking records: %w", err)
	}
	return records, nil
}
