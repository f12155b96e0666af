package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

const sessionColumns = `id, teacher_id, student_id, topic_id, window_id, scheduled_at, completed_at, duration_minutes, tier, status, timezone, hold_expires_at, created_at, updated_at`

// SessionRepository provides persistence for sessions. Status transitions
// are conditional updates keyed on the current status so concurrent bookers
// cannot both win the same slot.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// FindByID loads a session by id.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns sessions with optional filtering and pagination.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	base := "FROM sessions WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TopicID != "" {
		conditions = append(conditions, fmt.Sprintf("topic_id = $%d", len(args)+1))
		args = append(args, filter.TopicID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY scheduled_at ASC LIMIT %d OFFSET %d", sessionColumns, base, size, offset)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	return sessions, total, nil
}

// ListAvailableByTopic returns open free-tier candidate slots covering a
// topic, owned by one of the given teachers, starting no earlier than
// notBefore and lasting at least minDuration minutes. Topic coverage comes
// from the originating window since open slots are not stamped yet.
func (r *SessionRepository) ListAvailableByTopic(ctx context.Context, topicID string, teacherIDs []string, notBefore time.Time, minDuration int) ([]models.Session, error) {
	if len(teacherIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM sessions s
		JOIN availability_windows w ON w.id = s.window_id AND w.active = TRUE
		WHERE $1 = ANY(w.topic_ids) AND s.status = $2 AND s.tier = $3
		  AND s.teacher_id = ANY($4)
		  AND s.scheduled_at >= $5 AND s.duration_minutes >= $6
		ORDER BY s.scheduled_at ASC`, prefixColumns("s", sessionColumns))
	var sessions []models.Session
	err := r.db.SelectContext(ctx, &sessions, query, topicID, models.SessionAvailable, models.TierFree, pq.Array(teacherIDs), notBefore, minDuration)
	if err != nil {
		return nil, fmt.Errorf("list available sessions: %w", err)
	}
	return sessions, nil
}

// ListIntersecting returns the teacher's booked sessions whose span
// intersects [from, to). Statuses filters which states count as booked.
func (r *SessionRepository) ListIntersecting(ctx context.Context, teacherID string, from, to time.Time, statuses []models.SessionStatus, excludeID string) ([]models.Session, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	query := fmt.Sprintf(`SELECT %s FROM sessions
		WHERE teacher_id = $1 AND status = ANY($2)
		  AND scheduled_at < $3 AND completed_at > $4
		  AND ($5 = '' OR id <> $5)
		ORDER BY scheduled_at ASC`, sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, teacherID, pq.Array(values), to, from, excludeID); err != nil {
		return nil, fmt.Errorf("list intersecting sessions: %w", err)
	}
	return sessions, nil
}

// ExistsAt reports whether the teacher already has any session starting at
// the given instant. Used to keep slot materialization idempotent.
func (r *SessionRepository) ExistsAt(ctx context.Context, teacherID string, scheduledAt time.Time) (bool, error) {
	const query = `SELECT 1 FROM sessions WHERE teacher_id = $1 AND scheduled_at = $2 AND status <> $3 LIMIT 1`
	var one int
	err := r.db.GetContext(ctx, &one, query, teacherID, scheduledAt, models.SessionCancelled)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("check session existence: %w", err)
	}
	return true, nil
}

// Create stores a new session record.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.CompletedAt = session.ScheduledAt.Add(time.Duration(session.DurationMinutes) * time.Minute)

	const query = `INSERT INTO sessions (id, teacher_id, student_id, topic_id, window_id, scheduled_at, completed_at, duration_minutes, tier, status, timezone, hold_expires_at, created_at, updated_at)
		VALUES (:id, :teacher_id, :student_id, :topic_id, :window_id, :scheduled_at, :completed_at, :duration_minutes, :tier, :status, :timezone, :hold_expires_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Book atomically claims an available slot for a student, stamping the
// topic and moving the slot to upcoming. Returns false when the slot was
// no longer available.
func (r *SessionRepository) Book(ctx context.Context, id, studentID, topicID string, tier models.Tier) (bool, error) {
	const query = `UPDATE sessions SET student_id = $2, topic_id = $3, tier = $4, status = $5, hold_expires_at = NULL, updated_at = $6
		WHERE id = $1 AND status = $7`
	res, err := r.db.ExecContext(ctx, query, id, studentID, topicID, tier, models.SessionUpcoming, time.Now().UTC(), models.SessionAvailable)
	if err != nil {
		return false, fmt.Errorf("book session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("book session result: %w", err)
	}
	return affected == 1, nil
}

// Hold atomically places a pending payment hold on an available slot.
func (r *SessionRepository) Hold(ctx context.Context, id, studentID, topicID string, expiresAt time.Time) (bool, error) {
	const query = `UPDATE sessions SET student_id = $2, topic_id = $3, tier = $4, status = $5, hold_expires_at = $6, updated_at = $7
		WHERE id = $1 AND status = $8`
	res, err := r.db.ExecContext(ctx, query, id, studentID, topicID, models.TierPaid, models.SessionPending, expiresAt, time.Now().UTC(), models.SessionAvailable)
	if err != nil {
		return false, fmt.Errorf("hold session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("hold session result: %w", err)
	}
	return affected == 1, nil
}

// Transition conditionally moves a session from one status to another.
func (r *SessionRepository) Transition(ctx context.Context, id string, from, to models.SessionStatus) (bool, error) {
	const query = `UPDATE sessions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition session result: %w", err)
	}
	return affected == 1, nil
}

// Release reverts a slot to available, clearing the student and any hold.
func (r *SessionRepository) Release(ctx context.Context, id string, from models.SessionStatus) (bool, error) {
	const query = `UPDATE sessions SET student_id = NULL, topic_id = '', status = $3, hold_expires_at = NULL, updated_at = $4
		WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, models.SessionAvailable, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("release session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release session result: %w", err)
	}
	return affected == 1, nil
}

// ExpireHolds releases every pending hold whose deadline has passed and
// returns the ids of the released sessions.
func (r *SessionRepository) ExpireHolds(ctx context.Context, now time.Time) ([]string, error) {
	const query = `UPDATE sessions SET student_id = NULL, topic_id = '', status = $1, hold_expires_at = NULL, updated_at = $2
		WHERE status = $3 AND hold_expires_at IS NOT NULL AND hold_expires_at <= $2
		RETURNING id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, models.SessionAvailable, now, models.SessionPending); err != nil {
		return nil, fmt.Errorf("expire session holds: %w", err)
	}
	return ids, nil
}

// CancelOpenByWindow cancels every still-open slot materialized from the
// given window. Booked and held slots are left untouched.
func (r *SessionRepository) CancelOpenByWindow(ctx context.Context, windowID string) (int64, error) {
	const query = `UPDATE sessions SET status = $2, updated_at = $3
		WHERE window_id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, windowID, models.SessionCancelled, time.Now().UTC(), models.SessionAvailable)
	if err != nil {
		return 0, fmt.Errorf("cancel open sessions by window: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel open sessions result: %w", err)
	}
	return affected, nil
}

// Cancel marks a non-terminal session cancelled.
func (r *SessionRepository) Cancel(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE sessions SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5, $6)`
	res, err := r.db.ExecContext(ctx, query, id, models.SessionCancelled, time.Now().UTC(), models.SessionAvailable, models.SessionPending, models.SessionUpcoming)
	if err != nil {
		return false, fmt.Errorf("cancel session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel session result: %w", err)
	}
	return affected == 1, nil
}
