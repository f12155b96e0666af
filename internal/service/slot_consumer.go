package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/pkg/clock"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
)

type consumerSessionRepository interface {
	Book(ctx context.Context, id, studentID, topicID string, tier models.Tier) (bool, error)
}

type consumerRecordRepository interface {
	Create(ctx context.Context, record *models.BookingRecord) error
}

type consumerWindowRepository interface {
	FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error)
	UpdateSpan(ctx context.Context, id string, startMinute, endMinute int) error
	Create(ctx context.Context, window *models.AvailabilityWindow) error
	Deactivate(ctx context.Context, id string) error
}

type consumerUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type consumerTopicRepository interface {
	FindByID(ctx context.Context, id string) (*models.Topic, error)
}

// SlotConsumer atomically claims an open slot, appends the immutable
// booking record and shrinks the originating availability window. The
// claim is the linearization point: once it lands no other student can win
// the slot, and the follow-up bookkeeping never rolls it back.
type SlotConsumer struct {
	sessions consumerSessionRepository
	records  consumerRecordRepository
	windows  consumerWindowRepository
	users    consumerUserRepository
	topics   consumerTopicRepository
	clock    clock.Clock
	logger   *zap.Logger
}

// NewSlotConsumer constructs a SlotConsumer.
func NewSlotConsumer(sessions consumerSessionRepository, records consumerRecordRepository, windows consumerWindowRepository, users consumerUserRepository, topics consumerTopicRepository, clk clock.Clock, logger *zap.Logger) *SlotConsumer {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlotConsumer{sessions: sessions, records: records, windows: windows, users: users, topics: topics, clock: clk, logger: logger}
}

// Consume claims the slot for the student. ok is false when another booking
// won the race; err reports infrastructure failures only.
func (c *SlotConsumer) Consume(ctx context.Context, session *models.Session, studentID, topicID string, tier models.Tier) (*models.BookingSummary, bool, error) {
	claimed, err := c.sessions.Book(ctx, session.ID, studentID, topicID, tier)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim slot")
	}
	if !claimed {
		return nil, false, nil
	}

	teacherName := c.lookupTeacherName(ctx, session.TeacherID)
	topicName := c.lookupTopicName(ctx, topicID)
	localStart := localStartTime(session.ScheduledAt, session.Timezone)

	record := &models.BookingRecord{
		SessionID:       session.ID,
		TeacherID:       session.TeacherID,
		StudentID:       studentID,
		TopicID:         topicID,
		TeacherName:     teacherName,
		TopicName:       topicName,
		ScheduledAt:     session.ScheduledAt,
		DurationMinutes: session.DurationMinutes,
		Tier:            tier,
		LocalStartTime:  localStart,
	}
	if err := c.records.Create(ctx, record); err != nil {
		// The claim already committed; losing the audit row must not undo
		// the booking.
		c.logger.Error("failed to append booking record",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}

	c.shrinkWindow(ctx, session)

	summary := &models.BookingSummary{
		SessionID:       session.ID,
		TeacherID:       session.TeacherID,
		TeacherName:     teacherName,
		TopicName:       topicName,
		ScheduledAt:     session.ScheduledAt,
		LocalStartTime:  localStart,
		DurationMinutes: session.DurationMinutes,
		Tier:            tier,
	}
	return summary, true, nil
}

func (c *SlotConsumer) lookupTeacherName(ctx context.Context, teacherID string) string {
	teacher, err := c.users.FindByID(ctx, teacherID)
	if err != nil {
		c.logger.Warn("failed to load teacher for booking record", zap.String("teacher_id", teacherID), zap.Error(err))
		return ""
	}
	return teacher.FullName
}

func (c *SlotConsumer) lookupTopicName(ctx context.Context, topicID string) string {
	topic, err := c.topics.FindByID(ctx, topicID)
	if err != nil {
		c.logger.Warn("failed to load topic for booking record", zap.String("topic_id", topicID), zap.Error(err))
		return ""
	}
	return topic.Name
}

// shrinkWindow removes the consumed span from the originating window so
// future materialization does not offer it again. Best-effort: failures
// are logged, the booking stands.
func (c *SlotConsumer) shrinkWindow(ctx context.Context, session *models.Session) {
	if session.WindowID == nil {
		return
	}
	window, err := c.windows.FindByID(ctx, *session.WindowID)
	if err != nil {
		c.logger.Warn("failed to load window for shrink", zap.String("window_id", *session.WindowID), zap.Error(err))
		return
	}
	if !window.Active {
		return
	}

	sessionStart, sessionEnd, ok := windowLocalSpan(window, session.ScheduledAt, session.DurationMinutes)
	if !ok {
		return
	}
	if sessionEnd <= window.StartMinute || sessionStart >= window.EndMinute {
		return
	}

	switch {
	case sessionStart <= window.StartMinute && sessionEnd >= window.EndMinute:
		// The booking swallowed the whole window.
		err = c.windows.Deactivate(ctx, window.ID)
	case sessionStart <= window.StartMinute:
		err = c.windows.UpdateSpan(ctx, window.ID, sessionEnd, window.EndMinute)
	case sessionEnd >= window.EndMinute:
		err = c.windows.UpdateSpan(ctx, window.ID, window.StartMinute, sessionStart)
	default:
		// Interior booking splits the window into a head and a tail.
		err = c.windows.UpdateSpan(ctx, window.ID, window.StartMinute, sessionStart)
		if err == nil {
			tail := &models.AvailabilityWindow{
				TeacherID:    window.TeacherID,
				TopicIDs:     window.TopicIDs,
				Weekday:      window.Weekday,
				SpecificDate: window.SpecificDate,
				StartMinute:  sessionEnd,
				EndMinute:    window.EndMinute,
				Timezone:     window.Timezone,
				Recurring:    window.Recurring,
				Active:       true,
			}
			err = c.windows.Create(ctx, tail)
		}
	}
	if err != nil {
		c.logger.Warn("failed to shrink window after booking",
			zap.String("window_id", window.ID),
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
}

// windowLocalSpan maps the session's UTC span onto the window's minute
// axis. The second day of an overnight window maps past 1440. ok is false
// when the session does not fall on one of the window's occurrences.
func windowLocalSpan(window *models.AvailabilityWindow, startUTC time.Time, durationMinutes int) (int, int, bool) {
	loc, err := time.LoadLocation(window.Timezone)
	if err != nil {
		return 0, 0, false
	}
	local := startUTC.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if windowOccursOn(window, local) {
		return minute, minute + durationMinutes, true
	}
	if window.EndMinute > minutesPerDay {
		if prev := local.AddDate(0, 0, -1); windowOccursOn(window, prev) {
			return minute + minutesPerDay, minute + minutesPerDay + durationMinutes, true
		}
	}
	return 0, 0, false
}

func windowOccursOn(window *models.AvailabilityWindow, day time.Time) bool {
	if window.Recurring {
		return window.Weekday != nil && int(day.Weekday()) == *window.Weekday
	}
	if window.SpecificDate == nil {
		return false
	}
	d := *window.SpecificDate
	return day.Year() == d.Year() && day.Month() == d.Month() && day.Day() == d.Day()
}

func localStartTime(t time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04 MST")
}
