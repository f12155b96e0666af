package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mentorlink/mentorlink-api/internal/models"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
)

type guardSessionRepository interface {
	ListIntersecting(ctx context.Context, teacherID string, from, to time.Time, statuses []models.SessionStatus, excludeID string) ([]models.Session, error)
}

// blockingStatuses are the states that occupy a teacher's calendar. Open
// slots never block since they are the thing being claimed.
var blockingStatuses = []models.SessionStatus{
	models.SessionPending,
	models.SessionUpcoming,
	models.SessionCompleted,
}

// ScheduleConflictGuard ensures a proposed session keeps a configured
// buffer away from everything already on the teacher's calendar.
type ScheduleConflictGuard struct {
	sessions guardSessionRepository
	buffer   time.Duration
	logger   *zap.Logger
}

// NewScheduleConflictGuard constructs a guard with the given buffer.
func NewScheduleConflictGuard(sessions guardSessionRepository, buffer time.Duration, logger *zap.Logger) *ScheduleConflictGuard {
	if buffer <= 0 {
		buffer = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleConflictGuard{sessions: sessions, buffer: buffer, logger: logger}
}

// Check verifies that the proposed [start, start+duration) padded by the
// buffer stays disjoint from the buffered window of every booked session
// of the teacher. Both sides carry the buffer, so two raw spans conflict
// when they come within twice the buffer of each other. A
// SCHEDULE_CONFLICT error wrapping a SessionConflictError is returned when
// it does not; excludeID skips the slot being claimed.
func (g *ScheduleConflictGuard) Check(ctx context.Context, teacherID string, start time.Time, duration time.Duration, excludeID string) error {
	bufferedStart := start.Add(-g.buffer)
	bufferedEnd := start.Add(duration + g.buffer)

	// Existing sessions are buffered too, so the raw-span query widens by
	// another buffer on each side.
	existing, err := g.sessions.ListIntersecting(ctx, teacherID, bufferedStart.Add(-g.buffer), bufferedEnd.Add(g.buffer), blockingStatuses, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher schedule")
	}
	if len(existing) == 0 {
		return nil
	}

	conflict := &models.SessionConflictError{
		TeacherID: teacherID,
		Proposed: models.ConflictWindow{
			BufferedStart: bufferedStart,
			BufferedEnd:   bufferedEnd,
		},
	}
	for _, s := range existing {
		conflict.Conflicts = append(conflict.Conflicts, models.ConflictWindow{
			SessionID:     s.ID,
			BufferedStart: s.ScheduledAt.Add(-g.buffer),
			BufferedEnd:   s.EndsAt().Add(g.buffer),
		})
	}
	g.logger.Debug("schedule conflict detected",
		zap.String("teacher_id", teacherID),
		zap.Time("proposed_start", start),
		zap.Int("conflicts", len(conflict.Conflicts)),
	)
	return appErrors.Wrap(conflict, appErrors.ErrScheduleClash.Code, appErrors.ErrScheduleClash.Status, appErrors.ErrScheduleClash.Message)
}
