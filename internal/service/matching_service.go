package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/pkg/clock"
	"github.com/mentorlink/mentorlink-api/pkg/config"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
)

type matchingStatRepository interface {
	ListEligibleTeacherIDs(ctx context.Context, topicID string, tier models.Tier, excludeID string) ([]string, error)
}

type matchingSessionRepository interface {
	ListAvailableByTopic(ctx context.Context, topicID string, teacherIDs []string, notBefore time.Time, minDuration int) ([]models.Session, error)
}

type matchingUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
}

type conflictChecker interface {
	Check(ctx context.Context, teacherID string, start time.Time, duration time.Duration, excludeID string) error
}

type slotBooker interface {
	Consume(ctx context.Context, session *models.Session, studentID, topicID string, tier models.Tier) (*models.BookingSummary, bool, error)
}

// MatchingService picks the best free-tier teacher slot for a learner and
// books it. Scoring is deterministic; the booking itself goes through the
// conflict guard and the slot consumer's atomic claim, so losing a race
// simply moves on to the next candidate.
type MatchingService struct {
	stats      matchingStatRepository
	sessions   matchingSessionRepository
	users      matchingUserRepository
	guard      conflictChecker
	consumer   slotBooker
	matching   config.MatchingConfig
	scheduling config.SchedulingConfig
	clock      clock.Clock
	logger     *zap.Logger
}

// NewMatchingService constructs a MatchingService.
func NewMatchingService(stats matchingStatRepository, sessions matchingSessionRepository, users matchingUserRepository, guard conflictChecker, consumer slotBooker, matching config.MatchingConfig, scheduling config.SchedulingConfig, clk clock.Clock, logger *zap.Logger) *MatchingService {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchingService{
		stats:      stats,
		sessions:   sessions,
		users:      users,
		guard:      guard,
		consumer:   consumer,
		matching:   matching,
		scheduling: scheduling,
		clock:      clk,
		logger:     logger,
	}
}

// BookFreeSession finds and books the highest-scoring open slot on the
// topic for the learner. Distinct errors report the three supply stages:
// no eligible teachers, no open slots, and no slot surviving conflicts.
func (s *MatchingService) BookFreeSession(ctx context.Context, learnerID, topicID string) (*models.BookingSummary, error) {
	learner, err := s.users.FindByID(ctx, learnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "learner not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load learner")
	}

	teacherIDs, err := s.stats.ListEligibleTeacherIDs(ctx, topicID, models.TierFree, learnerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list eligible teachers")
	}
	minSupply := s.matching.MinSupply
	if minSupply < 1 {
		minSupply = 1
	}
	if len(teacherIDs) < minSupply {
		return nil, appErrors.Clone(appErrors.ErrNoSupply, "")
	}

	now := s.clock.Now()
	notBefore := now.Add(s.scheduling.BookingLeadTime)
	minDuration := int(s.scheduling.MinSessionDuration / time.Minute)

	candidates, err := s.sessions.ListAvailableByTopic(ctx, topicID, teacherIDs, notBefore, minDuration)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list open slots")
	}
	if len(candidates) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoAvailability, "")
	}

	teachers, err := s.users.FindByIDs(ctx, distinctTeacherIDs(candidates))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load candidate teachers")
	}

	scores := make(map[string]float64, len(teachers))
	for id, teacher := range teachers {
		scores[id] = matchScore(s.matching, learner, teacher, now)
	}

	// Best score first; earlier start then slot id break ties so repeated
	// runs walk candidates in the same order.
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := scores[candidates[i].TeacherID], scores[candidates[j].TeacherID]
		if si != sj {
			return si > sj
		}
		if !candidates[i].ScheduledAt.Equal(candidates[j].ScheduledAt) {
			return candidates[i].ScheduledAt.Before(candidates[j].ScheduledAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	for i := range candidates {
		candidate := &candidates[i]
		if _, ok := teachers[candidate.TeacherID]; !ok {
			continue
		}
		duration := time.Duration(candidate.DurationMinutes) * time.Minute

		if err := s.guard.Check(ctx, candidate.TeacherID, candidate.ScheduledAt, duration, candidate.ID); err != nil {
			var conflict *models.SessionConflictError
			if errors.As(err, &conflict) {
				s.logger.Debug("candidate rejected by conflict guard",
					zap.String("session_id", candidate.ID),
					zap.String("teacher_id", candidate.TeacherID),
				)
				continue
			}
			return nil, err
		}

		summary, claimed, err := s.consumer.Consume(ctx, candidate, learnerID, topicID, models.TierFree)
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}
		s.logger.Info("free session booked",
			zap.String("session_id", candidate.ID),
			zap.String("teacher_id", candidate.TeacherID),
			zap.String("learner_id", learnerID),
			zap.String("topic_id", topicID),
			zap.Float64("score", scores[candidate.TeacherID]),
		)
		return summary, nil
	}

	return nil, appErrors.Clone(appErrors.ErrNoValidSlot, "")
}

func distinctTeacherIDs(sessions []models.Session) []string {
	seen := make(map[string]struct{}, len(sessions))
	var ids []string
	for _, s := range sessions {
		if _, ok := seen[s.TeacherID]; ok {
			continue
		}
		seen[s.TeacherID] = struct{}{}
		ids = append(ids, s.TeacherID)
	}
	return ids
}
