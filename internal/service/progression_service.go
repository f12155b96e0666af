package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/pkg/clock"
	"github.com/mentorlink/mentorlink-api/pkg/config"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
)

type progressionStatRepository interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	Find(ctx context.Context, teacherID, topicID string) (*models.TeacherTopicStat, error)
	FindForUpdate(ctx context.Context, tx *sqlx.Tx, teacherID, topicID string) (*models.TeacherTopicStat, error)
	UpdateProgress(ctx context.Context, tx *sqlx.Tx, id string, tier models.Tier, level models.Level, paidAt *time.Time) error
	SetTier(ctx context.Context, teacherID, topicID string, tier models.Tier, paidAt *time.Time) error
}

type domainResolver interface {
	ResolveDomain(ctx context.Context, topicID string) (*models.Topic, error)
	Thresholds(domain *models.Topic) models.DomainThresholds
}

// ProgressionService recomputes a teacher's tier and level on a topic from
// their accumulated stats. Recomputation is idempotent: running it twice
// on the same inputs writes the same standing, and it runs under a row
// lock so concurrent evaluations serialize.
type ProgressionService struct {
	stats     progressionStatRepository
	catalogue domainResolver
	metrics   *MetricsService
	cfg       config.ProgressionConfig
	clock     clock.Clock
	logger    *zap.Logger
}

// NewProgressionService constructs a ProgressionService. metrics may be nil.
func NewProgressionService(stats progressionStatRepository, catalogue domainResolver, metrics *MetricsService, cfg config.ProgressionConfig, clk clock.Clock, logger *zap.Logger) *ProgressionService {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressionService{stats: stats, catalogue: catalogue, metrics: metrics, cfg: cfg, clock: clk, logger: logger}
}

// Evaluate recomputes the teacher's standing on the topic. Returns the
// written standing, or nil when no stat row exists or the topic has no
// domain ancestor; both are silent no-ops so lifecycle callers never fail
// a session report over progression bookkeeping.
func (s *ProgressionService) Evaluate(ctx context.Context, teacherID, topicID string) (*models.TeacherTopicStat, error) {
	domain, err := s.catalogue.ResolveDomain(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if domain == nil {
		s.logger.Debug("topic has no domain ancestor, skipping progression",
			zap.String("teacher_id", teacherID),
			zap.String("topic_id", topicID),
		)
		return nil, nil
	}
	thresholds := s.catalogue.Thresholds(domain)

	var updated *models.TeacherTopicStat
	err = s.stats.WithTx(ctx, func(tx *sqlx.Tx) error {
		stat, err := s.stats.FindForUpdate(ctx, tx, teacherID, topicID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher standing")
		}

		tier, paidAt := s.nextTier(stat)
		level := nextLevel(stat, thresholds)

		if tier == stat.Tier && level == stat.Level {
			updated = stat
			return nil
		}
		if err := s.stats.UpdateProgress(ctx, tx, stat.ID, tier, level, paidAt); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store teacher standing")
		}
		if level != stat.Level {
			s.metrics.RecordLevelChange(string(level))
		}
		s.logger.Info("teacher progression updated",
			zap.String("teacher_id", teacherID),
			zap.String("topic_id", topicID),
			zap.String("tier", string(tier)),
			zap.String("level", string(level)),
		)
		stat.Tier = tier
		stat.Level = level
		stat.PaidAt = paidAt
		updated = stat
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Standing returns the current standing without recomputation.
func (s *ProgressionService) Standing(ctx context.Context, teacherID, topicID string) (*models.TeacherTopicStat, error) {
	stat, err := s.stats.Find(ctx, teacherID, topicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher standing not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher standing")
	}
	return stat, nil
}

// ToggleTier explicitly sets the tier, e.g. an admin demoting a teacher
// back to free. Explicit toggles are the only path that lowers a tier.
func (s *ProgressionService) ToggleTier(ctx context.Context, teacherID, topicID string, tier models.Tier) error {
	if tier != models.TierFree && tier != models.TierPaid {
		return appErrors.Clone(appErrors.ErrValidation, "unknown tier")
	}
	var paidAt *time.Time
	if tier == models.TierPaid {
		now := s.clock.Now()
		paidAt = &now
	}
	if err := s.stats.SetTier(ctx, teacherID, topicID, tier, paidAt); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set tier")
	}
	return nil
}

// nextTier promotes to paid once the rating clears the minimum. Evaluation
// never demotes; that is reserved for ToggleTier.
func (s *ProgressionService) nextTier(stat *models.TeacherTopicStat) (models.Tier, *time.Time) {
	if stat.Tier == models.TierPaid {
		return models.TierPaid, stat.PaidAt
	}
	if stat.Rating >= s.cfg.PaidRatingMinimum && stat.Rating > 0 {
		now := s.clock.Now()
		return models.TierPaid, &now
	}
	return stat.Tier, stat.PaidAt
}

// nextLevel derives the level from the completed-session count. Master is
// only ever granted manually: recomputation preserves it unless the count
// clears the Legend threshold.
func nextLevel(stat *models.TeacherTopicStat, thresholds models.DomainThresholds) models.Level {
	switch {
	case stat.SessionCount >= thresholds.Legend:
		return models.LevelLegend
	case stat.Level == models.LevelMaster:
		return models.LevelMaster
	case stat.SessionCount >= thresholds.Expert:
		return models.LevelExpert
	default:
		return models.LevelBridger
	}
}
