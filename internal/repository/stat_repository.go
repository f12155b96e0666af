package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

const statColumns = `id, teacher_id, topic_id, tier, level, session_count, rating, paid_at, active, created_at, updated_at`

// StatRepository provides persistence for teacher-topic standings.
type StatRepository struct {
	db *sqlx.DB
}

// NewStatRepository creates a new stat repository.
func NewStatRepository(db *sqlx.DB) *StatRepository {
	return &StatRepository{db: db}
}

// WithTx runs fn inside a transaction, rolling back on error.
func (r *StatRepository) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Find loads the stat row for a (teacher, topic) pair.
func (r *StatRepository) Find(ctx context.Context, teacherID, topicID string) (*models.TeacherTopicStat, error) {
	query := fmt.Sprintf(`SELECT %s FROM teacher_topic_stats WHERE teacher_id = $1 AND topic_id = $2`, statColumns)
	var stat models.TeacherTopicStat
	if err := r.db.GetContext(ctx, &stat, query, teacherID, topicID); err != nil {
		return nil, err
	}
	return &stat, nil
}

// FindForUpdate loads the stat row under a row lock inside the given
// transaction so concurrent progression evaluations serialize.
func (r *StatRepository) FindForUpdate(ctx context.Context, tx *sqlx.Tx, teacherID, topicID string) (*models.TeacherTopicStat, error) {
	query := fmt.Sprintf(`SELECT %s FROM teacher_topic_stats WHERE teacher_id = $1 AND topic_id = $2 FOR UPDATE`, statColumns)
	var stat models.TeacherTopicStat
	if err := tx.GetContext(ctx, &stat, query, teacherID, topicID); err != nil {
		return nil, err
	}
	return &stat, nil
}

// ListByTeacher returns every stat row a teacher holds.
func (r *StatRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.TeacherTopicStat, error) {
	query := fmt.Sprintf(`SELECT %s FROM teacher_topic_stats WHERE teacher_id = $1 ORDER BY topic_id ASC`, statColumns)
	var stats []models.TeacherTopicStat
	if err := r.db.SelectContext(ctx, &stats, query, teacherID); err != nil {
		return nil, fmt.Errorf("list stats by teacher: %w", err)
	}
	return stats, nil
}

// ListEligibleTeacherIDs returns teachers with an active stat row of the
// given tier for a topic, excluding one user (the learner).
func (r *StatRepository) ListEligibleTeacherIDs(ctx context.Context, topicID string, tier models.Tier, excludeID string) ([]string, error) {
	const query = `SELECT teacher_id FROM teacher_topic_stats
		WHERE topic_id = $1 AND tier = $2 AND active = TRUE AND teacher_id <> $3
		ORDER BY teacher_id ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, topicID, tier, excludeID); err != nil {
		return nil, fmt.Errorf("list eligible teachers: %w", err)
	}
	return ids, nil
}

// Create stores a new stat row.
func (r *StatRepository) Create(ctx context.Context, stat *models.TeacherTopicStat) error {
	if stat.ID == "" {
		stat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if stat.CreatedAt.IsZero() {
		stat.CreatedAt = now
	}
	stat.UpdatedAt = now

	const query = `INSERT INTO teacher_topic_stats (id, teacher_id, topic_id, tier, level, session_count, rating, paid_at, active, created_at, updated_at)
		VALUES (:id, :teacher_id, :topic_id, :tier, :level, :session_count, :rating, :paid_at, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, stat); err != nil {
		return fmt.Errorf("create stat: %w", err)
	}
	return nil
}

// UpdateProgress persists the recomputed tier and level inside the given
// transaction.
func (r *StatRepository) UpdateProgress(ctx context.Context, tx *sqlx.Tx, id string, tier models.Tier, level models.Level, paidAt *time.Time) error {
	const query = `UPDATE teacher_topic_stats SET tier = $2, level = $3, paid_at = $4, updated_at = $5 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, tier, level, paidAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update stat progress: %w", err)
	}
	return nil
}

// IncrementSessionCount bumps the completed-session counter atomically.
func (r *StatRepository) IncrementSessionCount(ctx context.Context, teacherID, topicID string) error {
	const query = `UPDATE teacher_topic_stats SET session_count = session_count + 1, updated_at = $3
		WHERE teacher_id = $1 AND topic_id = $2`
	if _, err := r.db.ExecContext(ctx, query, teacherID, topicID, time.Now().UTC()); err != nil {
		return fmt.Errorf("increment session count: %w", err)
	}
	return nil
}

// SetTier applies an explicit tier toggle outside the progression engine.
func (r *StatRepository) SetTier(ctx context.Context, teacherID, topicID string, tier models.Tier, paidAt *time.Time) error {
	const query = `UPDATE teacher_topic_stats SET tier = $3, paid_at = $4, updated_at = $5
		WHERE teacher_id = $1 AND topic_id = $2`
	if _, err := r.db.ExecContext(ctx, query, teacherID, topicID, tier, paidAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("set stat tier: %w", err)
	}
	return nil
}
