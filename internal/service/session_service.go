package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/pkg/clock"
	"github.com/mentorlink/mentorlink-api/pkg/config"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
)

type lifecycleSessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	Hold(ctx context.Context, id, studentID, topicID string, expiresAt time.Time) (bool, error)
	Transition(ctx context.Context, id string, from, to models.SessionStatus) (bool, error)
	Release(ctx context.Context, id string, from models.SessionStatus) (bool, error)
	ExpireHolds(ctx context.Context, now time.Time) ([]string, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

type holdWindowRepository interface {
	FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error)
}

type flagRepository interface {
	Create(ctx context.Context, flag *models.SessionFlag) error
	ListBySession(ctx context.Context, sessionID string) ([]models.SessionFlag, error)
}

type sessionStatRepository interface {
	IncrementSessionCount(ctx context.Context, teacherID, topicID string) error
}

type progressionTrigger interface {
	Evaluate(ctx context.Context, teacherID, topicID string) (*models.TeacherTopicStat, error)
}

// ReportOutcomeRequest is the teacher's post-session report.
type ReportOutcomeRequest struct {
	SessionID  string                `json:"-"`
	ReporterID string                `json:"-"`
	Outcome    models.SessionOutcome `json:"outcome" validate:"required"`
	Notes      *string               `json:"notes" validate:"omitempty,max=2000"`
}

// SessionService drives the session state machine after booking: outcome
// reports, cancellation and the paid-tier payment hold flow.
type SessionService struct {
	sessions    lifecycleSessionRepository
	flags       flagRepository
	stats       sessionStatRepository
	progression progressionTrigger
	guard       conflictChecker
	windows     holdWindowRepository
	payments    config.PaymentsConfig
	clock       clock.Clock
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSessionService constructs a SessionService.
func NewSessionService(sessions lifecycleSessionRepository, flags flagRepository, stats sessionStatRepository, progression progressionTrigger, guard conflictChecker, windows holdWindowRepository, payments config.PaymentsConfig, clk clock.Clock, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if clk == nil {
		clk = clock.System{}
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:    sessions,
		flags:       flags,
		stats:       stats,
		progression: progression,
		guard:       guard,
		windows:     windows,
		payments:    payments,
		clock:       clk,
		validator:   validate,
		logger:      logger,
	}
}

// Get returns a session by id.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.load(ctx, id)
}

// List returns sessions plus pagination data.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error) {
	sessions, total, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return sessions, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListFlags returns the moderation flags raised against a session.
func (s *SessionService) ListFlags(ctx context.Context, sessionID string) ([]models.SessionFlag, error) {
	if _, err := s.load(ctx, sessionID); err != nil {
		return nil, err
	}
	flags, err := s.flags.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list flags")
	}
	return flags, nil
}

// ReportOutcome records the teacher's report on an upcoming session. A
// completed outcome advances the session counter and triggers progression;
// anything else flags the session for moderation.
func (s *SessionService) ReportOutcome(ctx context.Context, req ReportOutcomeRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid outcome payload")
	}
	if !req.Outcome.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown outcome")
	}

	session, err := s.load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.TeacherID != req.ReporterID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the session teacher can report an outcome")
	}
	if session.Status != models.SessionUpcoming {
		return nil, appErrors.Clone(appErrors.ErrConflict, "session is not awaiting an outcome")
	}

	if req.Outcome == models.OutcomeCompleted {
		return s.complete(ctx, session)
	}
	return s.flag(ctx, session, req)
}

func (s *SessionService) complete(ctx context.Context, session *models.Session) (*models.Session, error) {
	moved, err := s.sessions.Transition(ctx, session.ID, models.SessionUpcoming, models.SessionCompleted)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete session")
	}
	if !moved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "session is not awaiting an outcome")
	}
	session.Status = models.SessionCompleted

	// Bookkeeping after the transition never rolls the report back.
	if err := s.stats.IncrementSessionCount(ctx, session.TeacherID, session.TopicID); err != nil {
		s.logger.Error("failed to increment session count",
			zap.String("session_id", session.ID),
			zap.String("teacher_id", session.TeacherID),
			zap.Error(err),
		)
	} else if s.progression != nil {
		if _, err := s.progression.Evaluate(ctx, session.TeacherID, session.TopicID); err != nil {
			s.logger.Error("progression evaluation failed after completion",
				zap.String("teacher_id", session.TeacherID),
				zap.String("topic_id", session.TopicID),
				zap.Error(err),
			)
		}
	}
	return session, nil
}

func (s *SessionService) flag(ctx context.Context, session *models.Session, req ReportOutcomeRequest) (*models.Session, error) {
	moved, err := s.sessions.Transition(ctx, session.ID, models.SessionUpcoming, models.SessionFlagged)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to flag session")
	}
	if !moved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "session is not awaiting an outcome")
	}
	session.Status = models.SessionFlagged

	flag := &models.SessionFlag{
		SessionID:  session.ID,
		ReporterID: req.ReporterID,
		Reason:     string(req.Outcome),
		Notes:      req.Notes,
	}
	if err := s.flags.Create(ctx, flag); err != nil {
		s.logger.Error("failed to store moderation flag",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
	return session, nil
}

// Cancel withdraws a non-terminal session. Only the teacher, the booked
// student or an admin may cancel.
func (s *SessionService) Cancel(ctx context.Context, sessionID, callerID string, role models.UserRole) error {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	allowed := role == models.RoleAdmin || callerID == session.TeacherID
	if !allowed && session.StudentID != nil && *session.StudentID == callerID {
		allowed = true
	}
	if !allowed {
		return appErrors.Clone(appErrors.ErrForbidden, "not a participant of this session")
	}

	cancelled, err := s.sessions.Cancel(ctx, sessionID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel session")
	}
	if !cancelled {
		return appErrors.Clone(appErrors.ErrConflict, "session can no longer be cancelled")
	}
	s.logger.Info("session cancelled", zap.String("session_id", sessionID), zap.String("by", callerID))
	return nil
}

// HoldForPayment places a pending payment hold on an open slot so the
// student can pay without losing it. The hold expires on its own if the
// payment never settles.
func (s *SessionService) HoldForPayment(ctx context.Context, sessionID, studentID, topicID string) (*models.Session, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionAvailable {
		return nil, appErrors.Clone(appErrors.ErrConflict, "slot is no longer available")
	}
	if err := s.checkTopicCovered(ctx, session, topicID); err != nil {
		return nil, err
	}
	if s.guard != nil {
		duration := time.Duration(session.DurationMinutes) * time.Minute
		if err := s.guard.Check(ctx, session.TeacherID, session.ScheduledAt, duration, session.ID); err != nil {
			return nil, err
		}
	}

	expiresAt := s.clock.Now().Add(s.payments.HoldTTL)
	held, err := s.sessions.Hold(ctx, sessionID, studentID, topicID, expiresAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hold slot")
	}
	if !held {
		return nil, appErrors.Clone(appErrors.ErrConflict, "slot is no longer available")
	}

	session.Status = models.SessionPending
	session.StudentID = &studentID
	session.TopicID = topicID
	session.Tier = models.TierPaid
	session.HoldExpiresAt = &expiresAt
	s.logger.Info("payment hold placed",
		zap.String("session_id", sessionID),
		zap.String("student_id", studentID),
		zap.Time("expires_at", expiresAt),
	)
	return session, nil
}

// ConfirmPayment settles a pending hold into a booked session. Invoked by
// the payment provider webhook.
func (s *SessionService) ConfirmPayment(ctx context.Context, sessionID string) error {
	moved, err := s.sessions.Transition(ctx, sessionID, models.SessionPending, models.SessionUpcoming)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm payment")
	}
	if !moved {
		return appErrors.Clone(appErrors.ErrConflict, "hold expired or already settled")
	}
	s.logger.Info("payment confirmed", zap.String("session_id", sessionID))
	return nil
}

// RejectPayment releases a pending hold back to the open pool. A rejection
// arriving after the hold already expired is a no-op.
func (s *SessionService) RejectPayment(ctx context.Context, sessionID string) error {
	released, err := s.sessions.Release(ctx, sessionID, models.SessionPending)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release hold")
	}
	if !released {
		s.logger.Debug("payment rejection for a hold no longer pending", zap.String("session_id", sessionID))
		return nil
	}
	s.logger.Info("payment rejected, slot released", zap.String("session_id", sessionID))
	return nil
}

// ExpireHolds releases every pending hold past its deadline. Runs on the
// background sweep queue.
func (s *SessionService) ExpireHolds(ctx context.Context) (int, error) {
	ids, err := s.sessions.ExpireHolds(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		s.logger.Info("expired payment holds released", zap.Int("count", len(ids)), zap.Strings("session_ids", ids))
	}
	return len(ids), nil
}

// checkTopicCovered rejects holds naming a topic the slot's originating
// window never offered. Open slots are not stamped with a topic until
// claimed, so the window's tag set is the source of truth.
func (s *SessionService) checkTopicCovered(ctx context.Context, session *models.Session, topicID string) error {
	if session.WindowID == nil || s.windows == nil {
		return nil
	}
	window, err := s.windows.FindByID(ctx, *session.WindowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "teacher does not offer this topic in that slot")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability window")
	}
	if !window.CoversTopic(topicID) {
		return appErrors.Clone(appErrors.ErrValidation, "teacher does not offer this topic in that slot")
	}
	return nil
}

func (s *SessionService) load(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}
