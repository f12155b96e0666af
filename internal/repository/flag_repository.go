package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

// FlagRepository appends moderation records for reported sessions.
type FlagRepository struct {
	db *sqlx.DB
}

// NewFlagRepository creates a new flag repository.
func NewFlagRepository(db *sqlx.DB) *FlagRepository {
	return &FlagRepository{db: db}
}

// Create appends a moderation record.
func (r *FlagRepository) Create(ctx context.Context, flag *models.SessionFlag) error {
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = time.Now().UTC()
	}
	if flag.Status == "" {
		flag.Status = models.FlagOpen
	}

	const query = `INSERT INTO session_flags (id, session_id, reporter_id, reason, notes, status, created_at)
		VALUES (:id, :session_id, :reporter_id, :reason, :notes, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, flag); err != nil {
		return fmt.Errorf("create session flag: %w", err)
	}
	return nil
}

// ListBySession returns moderation records for a session, newest first.
func (r *FlagRepository) ListBySession(ctx context.Context, sessionID string) ([]models.SessionFlag, error) {
	const query = `SELECT id, session_id, reporter_id, reason, notes, status, created_at FROM session_flags WHERE session_id = $1 ORDER BY created_at DESC`
	var flags []models.SessionFlag
	if err := r.db.SelectContext(ctx, &flags, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session flags: %w", err)
	}
	return flags, nil
}
