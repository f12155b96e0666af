package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

const windowColumns = `id, teacher_id, topic_ids, weekday, specific_date, start_minute, end_minute, timezone, recurring, active, created_at, updated_at`

// AvailabilityRepository provides persistence for availability windows.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository creates a new availability repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// FindByID loads a window by id.
func (r *AvailabilityRepository) FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error) {
	query := fmt.Sprintf(`SELECT %s FROM availability_windows WHERE id = $1`, windowColumns)
	var window models.AvailabilityWindow
	if err := r.db.GetContext(ctx, &window, query, id); err != nil {
		return nil, err
	}
	return &window, nil
}

// ListByTeacher returns a teacher's active windows ordered by weekday/date
// then start time.
func (r *AvailabilityRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.AvailabilityWindow, error) {
	query := fmt.Sprintf(`SELECT %s FROM availability_windows WHERE teacher_id = $1 AND active = TRUE ORDER BY weekday ASC NULLS LAST, specific_date ASC NULLS LAST, start_minute ASC`, windowColumns)
	var windows []models.AvailabilityWindow
	if err := r.db.SelectContext(ctx, &windows, query, teacherID); err != nil {
		return nil, fmt.Errorf("list windows by teacher: %w", err)
	}
	return windows, nil
}

// ExistsDuplicate reports whether the teacher already declared the exact
// same (weekday|date, start, end) block, excluding a window being updated.
func (r *AvailabilityRepository) ExistsDuplicate(ctx context.Context, window *models.AvailabilityWindow, excludeID string) (bool, error) {
	const query = `SELECT 1 FROM availability_windows
		WHERE teacher_id = $1 AND active = TRUE
		  AND weekday IS NOT DISTINCT FROM $2
		  AND specific_date IS NOT DISTINCT FROM $3
		  AND start_minute = $4 AND end_minute = $5
		  AND ($6 = '' OR id <> $6)
		LIMIT 1`
	var one int
	err := r.db.GetContext(ctx, &one, query, window.TeacherID, window.Weekday, window.SpecificDate, window.StartMinute, window.EndMinute, excludeID)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("check duplicate window: %w", err)
	}
	return true, nil
}

// Create stores a new availability window.
func (r *AvailabilityRepository) Create(ctx context.Context, window *models.AvailabilityWindow) error {
	if window.ID == "" {
		window.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if window.CreatedAt.IsZero() {
		window.CreatedAt = now
	}
	window.UpdatedAt = now

	const query = `INSERT INTO availability_windows (id, teacher_id, topic_ids, weekday, specific_date, start_minute, end_minute, timezone, recurring, active, created_at, updated_at)
		VALUES (:id, :teacher_id, :topic_ids, :weekday, :specific_date, :start_minute, :end_minute, :timezone, :recurring, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	return nil
}

// Update modifies a window record.
func (r *AvailabilityRepository) Update(ctx context.Context, window *models.AvailabilityWindow) error {
	window.UpdatedAt = time.Now().UTC()
	const query = `UPDATE availability_windows SET topic_ids = :topic_ids, weekday = :weekday, specific_date = :specific_date, start_minute = :start_minute, end_minute = :end_minute, timezone = :timezone, recurring = :recurring, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		return fmt.Errorf("update window: %w", err)
	}
	return nil
}

// UpdateSpan rewrites only the minute span of a window. Used by slot
// consumption when shrinking remaining availability.
func (r *AvailabilityRepository) UpdateSpan(ctx context.Context, id string, startMinute, endMinute int) error {
	const query = `UPDATE availability_windows SET start_minute = $2, end_minute = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, startMinute, endMinute, time.Now().UTC()); err != nil {
		return fmt.Errorf("update window span: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a window. Rows stay behind because sessions keep
// a reference to their originating window.
func (r *AvailabilityRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE availability_windows SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate window: %w", err)
	}
	return nil
}

// ListActive returns every active window across teachers. Used by the
// horizon-roll job to keep upcoming slots materialized.
func (r *AvailabilityRepository) ListActive(ctx context.Context) ([]models.AvailabilityWindow, error) {
	query := fmt.Sprintf(`SELECT %s FROM availability_windows WHERE active = TRUE ORDER BY teacher_id, start_minute ASC`, windowColumns)
	var windows []models.AvailabilityWindow
	if err := r.db.SelectContext(ctx, &windows, query); err != nil {
		return nil, fmt.Errorf("list active windows: %w", err)
	}
	return windows, nil
}
