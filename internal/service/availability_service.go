package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/pkg/clock"
	"github.com/mentorlink/mentorlink-api/pkg/config"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
)

const minutesPerDay = 24 * 60

const chartCacheKeyPattern = "availability:chart:%s"

type availabilityWindowRepository interface {
	FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]models.AvailabilityWindow, error)
	ListActive(ctx context.Context) ([]models.AvailabilityWindow, error)
	ExistsDuplicate(ctx context.Context, window *models.AvailabilityWindow, excludeID string) (bool, error)
	Create(ctx context.Context, window *models.AvailabilityWindow) error
	Update(ctx context.Context, window *models.AvailabilityWindow) error
	Deactivate(ctx context.Context, id string) error
}

type availabilitySessionRepository interface {
	ExistsAt(ctx context.Context, teacherID string, scheduledAt time.Time) (bool, error)
	Create(ctx context.Context, session *models.Session) error
	CancelOpenByWindow(ctx context.Context, windowID string) (int64, error)
}

type chartCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateWindowRequest is the payload for declaring availability. Exactly
// one of Weekday and Date must be set; times are local to Timezone and an
// EndTime at or before StartTime means the block wraps past midnight.
type CreateWindowRequest struct {
	TeacherID string   `json:"-"`
	TopicIDs  []string `json:"topic_ids" validate:"required,min=1,dive,required"`
	Weekday   *int     `json:"weekday" validate:"omitempty,min=0,max=6"`
	Date      string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime string   `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string   `json:"end_time" validate:"required,datetime=15:04"`
	Timezone  string   `json:"timezone" validate:"required"`
}

// UpdateWindowRequest rewrites an existing window's span and tags.
type UpdateWindowRequest struct {
	WindowID  string   `json:"-"`
	TeacherID string   `json:"-"`
	TopicIDs  []string `json:"topic_ids" validate:"required,min=1,dive,required"`
	StartTime string   `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string   `json:"end_time" validate:"required,datetime=15:04"`
}

// AvailabilityService manages teacher availability windows and keeps the
// upcoming horizon of open slots materialized from them.
type AvailabilityService struct {
	windows    availabilityWindowRepository
	sessions   availabilitySessionRepository
	cache      chartCache
	metrics    *MetricsService
	scheduling config.SchedulingConfig
	clock      clock.Clock
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewAvailabilityService constructs an AvailabilityService. cache and
// metrics may be nil.
func NewAvailabilityService(windows availabilityWindowRepository, sessions availabilitySessionRepository, cache chartCache, metrics *MetricsService, scheduling config.SchedulingConfig, clk clock.Clock, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if clk == nil {
		clk = clock.System{}
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if scheduling.HorizonDays <= 0 {
		scheduling.HorizonDays = 7
	}
	return &AvailabilityService{
		windows:    windows,
		sessions:   sessions,
		cache:      cache,
		metrics:    metrics,
		scheduling: scheduling,
		clock:      clk,
		validator:  validate,
		logger:     logger,
	}
}

// CreateWindow validates and stores a new availability window, then
// materializes its upcoming slots.
func (s *AvailabilityService) CreateWindow(ctx context.Context, req CreateWindowRequest) (*models.AvailabilityWindow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}

	window, err := s.buildWindow(req)
	if err != nil {
		return nil, err
	}

	dup, err := s.windows.ExistsDuplicate(ctx, window, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check for duplicates")
	}
	if dup {
		return nil, appErrors.Clone(appErrors.ErrDuplicateWindow, "")
	}

	if err := s.windows.Create(ctx, window); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store window")
	}
	if err := s.materializeWindow(ctx, window); err != nil {
		s.logger.Error("failed to materialize slots for new window", zap.String("window_id", window.ID), zap.Error(err))
	}
	s.invalidateChart(ctx, window.TeacherID)

	s.logger.Info("availability window created",
		zap.String("window_id", window.ID),
		zap.String("teacher_id", window.TeacherID),
		zap.Bool("recurring", window.Recurring),
	)
	return window, nil
}

// UpdateWindow rewrites the span and topics of a window owned by the
// caller. Open slots from the old shape are withdrawn and re-materialized.
func (s *AvailabilityService) UpdateWindow(ctx context.Context, req UpdateWindowRequest) (*models.AvailabilityWindow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}

	window, err := s.ownedWindow(ctx, req.WindowID, req.TeacherID)
	if err != nil {
		return nil, err
	}

	startMinute, endMinute, err := parseSpan(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if err := s.checkDuration(endMinute - startMinute); err != nil {
		return nil, err
	}

	window.TopicIDs = req.TopicIDs
	window.StartMinute = startMinute
	window.EndMinute = endMinute

	dup, err := s.windows.ExistsDuplicate(ctx, window, window.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check for duplicates")
	}
	if dup {
		return nil, appErrors.Clone(appErrors.ErrDuplicateWindow, "")
	}

	if err := s.windows.Update(ctx, window); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update window")
	}
	if _, err := s.sessions.CancelOpenByWindow(ctx, window.ID); err != nil {
		s.logger.Error("failed to withdraw open slots for updated window", zap.String("window_id", window.ID), zap.Error(err))
	}
	if err := s.materializeWindow(ctx, window); err != nil {
		s.logger.Error("failed to rematerialize slots for updated window", zap.String("window_id", window.ID), zap.Error(err))
	}
	s.invalidateChart(ctx, window.TeacherID)
	return window, nil
}

// DeleteWindow deactivates a window owned by the caller and withdraws its
// still-open slots. Booked sessions stay on the calendar.
func (s *AvailabilityService) DeleteWindow(ctx context.Context, windowID, teacherID string) error {
	window, err := s.ownedWindow(ctx, windowID, teacherID)
	if err != nil {
		return err
	}
	if err := s.windows.Deactivate(ctx, window.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete window")
	}
	withdrawn, err := s.sessions.CancelOpenByWindow(ctx, window.ID)
	if err != nil {
		s.logger.Error("failed to withdraw open slots for deleted window", zap.String("window_id", window.ID), zap.Error(err))
	}
	s.invalidateChart(ctx, window.TeacherID)
	s.logger.Info("availability window deleted",
		zap.String("window_id", window.ID),
		zap.Int64("slots_withdrawn", withdrawn),
	)
	return nil
}

// ListUpcoming renders the teacher's availability chart for the configured
// horizon: concrete UTC stretches bucketed per local day, trimmed to now.
func (s *AvailabilityService) ListUpcoming(ctx context.Context, teacherID string) ([]models.AvailabilityDay, error) {
	key := fmt.Sprintf(chartCacheKeyPattern, teacherID)
	if s.cache != nil {
		var cached []models.AvailabilityDay
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheHit()
			return cached, nil
		} else if errors.Is(err, appErrors.ErrCacheMiss) {
			s.metrics.RecordCacheMiss()
		} else {
			s.logger.Warn("availability chart cache read failed", zap.String("teacher_id", teacherID), zap.Error(err))
		}
	}

	windows, err := s.windows.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load windows")
	}

	now := s.clock.Now()
	buckets := make(map[string]*models.AvailabilityDay)
	for i := range windows {
		for _, occ := range s.occurrences(&windows[i], now, now) {
			start, end := occ.start, occ.end
			if !end.After(now) {
				continue
			}
			if start.Before(now) {
				start = now
			}
			day, ok := buckets[occ.localDate]
			if !ok {
				day = &models.AvailabilityDay{Date: occ.localDate, Weekday: occ.weekdayName}
				buckets[occ.localDate] = day
			}
			day.Slots = append(day.Slots, models.ChartSlot{
				WindowID: windows[i].ID,
				Start:    start.UTC(),
				End:      end.UTC(),
				TopicIDs: windows[i].TopicIDs,
			})
		}
	}

	days := make([]models.AvailabilityDay, 0, len(buckets))
	for _, day := range buckets {
		sort.Slice(day.Slots, func(i, j int) bool { return day.Slots[i].Start.Before(day.Slots[j].Start) })
		days = append(days, *day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, days, s.scheduling.ChartCacheTTL); err != nil {
			s.logger.Warn("availability chart cache write failed", zap.String("teacher_id", teacherID), zap.Error(err))
		}
	}
	return days, nil
}

// MaterializeAll rolls the open-slot horizon forward for every active
// window. Invoked periodically by the background queue.
func (s *AvailabilityService) MaterializeAll(ctx context.Context) error {
	windows, err := s.windows.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active windows: %w", err)
	}
	var failed int
	for i := range windows {
		if err := s.materializeWindow(ctx, &windows[i]); err != nil {
			failed++
			s.logger.Error("failed to materialize window", zap.String("window_id", windows[i].ID), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("materialization failed for %d of %d windows", failed, len(windows))
	}
	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf(chartCacheKeyPattern, "*")); err != nil {
			s.logger.Warn("availability chart cache sweep failed", zap.Error(err))
		}
	}
	return nil
}

func (s *AvailabilityService) buildWindow(req CreateWindowRequest) (*models.AvailabilityWindow, error) {
	if (req.Weekday == nil) == (req.Date == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exactly one of weekday and date must be set")
	}
	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown timezone")
	}

	startMinute, endMinute, err := parseSpan(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if err := s.checkDuration(endMinute - startMinute); err != nil {
		return nil, err
	}

	window := &models.AvailabilityWindow{
		TeacherID:   req.TeacherID,
		TopicIDs:    req.TopicIDs,
		Weekday:     req.Weekday,
		StartMinute: startMinute,
		EndMinute:   endMinute,
		Timezone:    req.Timezone,
		Recurring:   req.Weekday != nil,
		Active:      true,
	}
	if req.Date != "" {
		date, err := time.ParseInLocation("2006-01-02", req.Date, loc)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date")
		}
		// A dated window must still be bookable after the lead time.
		start := date.Add(time.Duration(startMinute) * time.Minute)
		if start.Before(s.clock.Now().Add(s.scheduling.BookingLeadTime)) {
			return nil, appErrors.Clone(appErrors.ErrLeadTime, "")
		}
		window.SpecificDate = &date
	}
	return window, nil
}

// parseSpan converts "15:04" wall-clock bounds into minutes past local
// midnight. An end at or before the start wraps past midnight, so a
// 22:00-01:00 window spans minutes 1320 to 1500.
func parseSpan(startTime, endTime string) (int, int, error) {
	start, err := time.Parse("15:04", startTime)
	if err != nil {
		return 0, 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid start time %q", startTime))
	}
	end, err := time.Parse("15:04", endTime)
	if err != nil {
		return 0, 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid end time %q", endTime))
	}
	startMinute := start.Hour()*60 + start.Minute()
	endMinute := end.Hour()*60 + end.Minute()
	if endMinute <= startMinute {
		endMinute += minutesPerDay
	}
	return startMinute, endMinute, nil
}

func (s *AvailabilityService) checkDuration(minutes int) error {
	min := int(s.scheduling.MinSessionDuration / time.Minute)
	if minutes < min {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("window must span at least %d minutes", min))
	}
	return nil
}

func (s *AvailabilityService) ownedWindow(ctx context.Context, windowID, teacherID string) (*models.AvailabilityWindow, error) {
	window, err := s.windows.FindByID(ctx, windowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load window")
	}
	if !window.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
	}
	if window.TeacherID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "window belongs to another teacher")
	}
	return window, nil
}

// occurrence is one concrete realization of a window on the horizon.
type occurrence struct {
	start       time.Time
	end         time.Time
	localDate   string
	weekdayName string
}

// occurrences expands a window into concrete spans over the horizon
// starting at from. Slots beginning before notBefore are skipped once they
// have fully passed; partial trimming is the caller's concern.
func (s *AvailabilityService) occurrences(window *models.AvailabilityWindow, from, notBefore time.Time) []occurrence {
	loc, err := time.LoadLocation(window.Timezone)
	if err != nil {
		s.logger.Warn("window has unknown timezone", zap.String("window_id", window.ID), zap.String("timezone", window.Timezone))
		return nil
	}

	local := from.In(loc)
	firstDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var result []occurrence
	for offset := 0; offset < s.scheduling.HorizonDays; offset++ {
		day := firstDay.AddDate(0, 0, offset)
		if !windowOccursOn(window, day) {
			continue
		}
		start := day.Add(time.Duration(window.StartMinute) * time.Minute)
		end := day.Add(time.Duration(window.EndMinute) * time.Minute)
		if !end.After(notBefore) {
			continue
		}
		result = append(result, occurrence{
			start:       start,
			end:         end,
			localDate:   day.Format("2006-01-02"),
			weekdayName: day.Weekday().String(),
		})
	}
	return result
}

// materializeWindow creates an open slot for each upcoming occurrence that
// does not already exist. Windows shrunk below the minimum duration stop
// producing slots.
func (s *AvailabilityService) materializeWindow(ctx context.Context, window *models.AvailabilityWindow) error {
	if window.DurationMinutes() < int(s.scheduling.MinSessionDuration/time.Minute) {
		return nil
	}
	now := s.clock.Now()
	notBefore := now.Add(s.scheduling.BookingLeadTime)

	for _, occ := range s.occurrences(window, now, notBefore) {
		if occ.start.Before(notBefore) {
			continue
		}
		startUTC := occ.start.UTC()
		exists, err := s.sessions.ExistsAt(ctx, window.TeacherID, startUTC)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		session := &models.Session{
			TeacherID:       window.TeacherID,
			WindowID:        &window.ID,
			ScheduledAt:     startUTC,
			DurationMinutes: window.DurationMinutes(),
			Tier:            models.TierFree,
			Status:          models.SessionAvailable,
			Timezone:        window.Timezone,
		}
		if err := s.sessions.Create(ctx, session); err != nil {
			return err
		}
	}
	return nil
}

func (s *AvailabilityService) invalidateChart(ctx context.Context, teacherID string) {
	if s.cache == nil {
		return
	}
	key := fmt.Sprintf(chartCacheKeyPattern, teacherID)
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("availability chart cache invalidation failed", zap.String("teacher_id", teacherID), zap.Error(err))
	}
}
