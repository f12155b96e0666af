package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/pkg/clock"
	"github.com/mentorlink/mentorlink-api/pkg/config"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
)

type mockMatchingStatRepo struct {
	eligible []string
}

func (m *mockMatchingStatRepo) ListEligibleTeacherIDs(ctx context.Context, topicID string, tier models.Tier, excludeID string) ([]string, error) {
	return m.eligible, nil
}

type mockMatchingSessionRepo struct {
	available []models.Session
}

func (m *mockMatchingSessionRepo) ListAvailableByTopic(ctx context.Context, topicID string, teacherIDs []string, notBefore time.Time, minDuration int) ([]models.Session, error) {
	return m.available, nil
}

type mockMatchingUserRepo struct {
	users map[string]*models.User
}

func (m *mockMatchingUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockMatchingUserRepo) FindByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User)
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type mockConflictChecker struct {
	conflicting map[string]bool
}

func (m *mockConflictChecker) Check(ctx context.Context, teacherID string, start time.Time, duration time.Duration, excludeID string) error {
	if m.conflicting[teacherID] {
		conflict := &models.SessionConflictError{TeacherID: teacherID}
		return appErrors.Wrap(conflict, appErrors.ErrScheduleClash.Code, appErrors.ErrScheduleClash.Status, appErrors.ErrScheduleClash.Message)
	}
	return nil
}

type mockSlotBooker struct {
	taken    map[string]bool
	consumed []string
}

func (m *mockSlotBooker) Consume(ctx context.Context, session *models.Session, studentID, topicID string, tier models.Tier) (*models.BookingSummary, bool, error) {
	if m.taken[session.ID] {
		return nil, false, nil
	}
	m.consumed = append(m.consumed, session.ID)
	return &models.BookingSummary{
		SessionID:   session.ID,
		TeacherID:   session.TeacherID,
		ScheduledAt: session.ScheduledAt,
		Tier:        tier,
	}, true, nil
}

func matchingFixtureNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newMatchingFixture(stats *mockMatchingStatRepo, sessions *mockMatchingSessionRepo, users *mockMatchingUserRepo, guard *mockConflictChecker, booker *mockSlotBooker) *MatchingService {
	if guard == nil {
		guard = &mockConflictChecker{}
	}
	if booker == nil {
		booker = &mockSlotBooker{}
	}
	scheduling := config.SchedulingConfig{
		MinSessionDuration: 90 * time.Minute,
		BookingLeadTime:    30 * time.Minute,
		SessionBuffer:      30 * time.Minute,
		HorizonDays:        7,
	}
	return NewMatchingService(stats, sessions, users, guard, booker, testMatchingConfig(), scheduling, clock.At(matchingFixtureNow()), zap.NewNop())
}

func dob(year int) *time.Time {
	d := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return &d
}

func TestBookFreeSessionNoSupply(t *testing.T) {
	users := &mockMatchingUserRepo{users: map[string]*models.User{"l1": {ID: "l1"}}}
	svc := newMatchingFixture(&mockMatchingStatRepo{}, &mockMatchingSessionRepo{}, users, nil, nil)

	_, err := svc.BookFreeSession(context.Background(), "l1", "algebra")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoSupply.Code, appErrors.FromError(err).Code)
}

func TestBookFreeSessionNoAvailability(t *testing.T) {
	users := &mockMatchingUserRepo{users: map[string]*models.User{"l1": {ID: "l1"}, "t1": {ID: "t1"}}}
	svc := newMatchingFixture(&mockMatchingStatRepo{eligible: []string{"t1"}}, &mockMatchingSessionRepo{}, users, nil, nil)

	_, err := svc.BookFreeSession(context.Background(), "l1", "algebra")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoAvailability.Code, appErrors.FromError(err).Code)
}

func TestBookFreeSessionUnknownLearner(t *testing.T) {
	users := &mockMatchingUserRepo{users: map[string]*models.User{}}
	svc := newMatchingFixture(&mockMatchingStatRepo{eligible: []string{"t1"}}, &mockMatchingSessionRepo{}, users, nil, nil)

	_, err := svc.BookFreeSession(context.Background(), "ghost", "algebra")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestBookFreeSessionPicksHighestScoringTeacher(t *testing.T) {
	start := matchingFixtureNow().Add(2 * time.Hour)
	users := &mockMatchingUserRepo{users: map[string]*models.User{
		"l1":  {ID: "l1", DateOfBirth: dob(2005), KnownLanguageIDs: []string{"en"}},
		"old": {ID: "old", DateOfBirth: dob(1960), KnownLanguageIDs: []string{"en"}},
		"fit": {ID: "fit", DateOfBirth: dob(2003), KnownLanguageIDs: []string{"en"}},
	}}
	sessions := &mockMatchingSessionRepo{available: []models.Session{
		{ID: "slot-old", TeacherID: "old", ScheduledAt: start, DurationMinutes: 90},
		{ID: "slot-fit", TeacherID: "fit", ScheduledAt: start, DurationMinutes: 90},
	}}
	booker := &mockSlotBooker{}
	svc := newMatchingFixture(&mockMatchingStatRepo{eligible: []string{"old", "fit"}}, sessions, users, nil, booker)

	summary, err := svc.BookFreeSession(context.Background(), "l1", "algebra")
	require.NoError(t, err)
	assert.Equal(t, "slot-fit", summary.SessionID)
	assert.Equal(t, []string{"slot-fit"}, booker.consumed)
}

func TestBookFreeSessionSkipsConflictingTeacher(t *testing.T) {
	start := matchingFixtureNow().Add(2 * time.Hour)
	users := &mockMatchingUserRepo{users: map[string]*models.User{
		"l1":   {ID: "l1", DateOfBirth: dob(2005), KnownLanguageIDs: []string{"en"}},
		"busy": {ID: "busy", DateOfBirth: dob(2004), KnownLanguageIDs: []string{"en"}},
		"free": {ID: "free", DateOfBirth: dob(1995), KnownLanguageIDs: []string{"en"}},
	}}
	sessions := &mockMatchingSessionRepo{available: []models.Session{
		{ID: "slot-busy", TeacherID: "busy", ScheduledAt: start, DurationMinutes: 90},
		{ID: "slot-free", TeacherID: "free", ScheduledAt: start, DurationMinutes: 90},
	}}
	guard := &mockConflictChecker{conflicting: map[string]bool{"busy": true}}
	svc := newMatchingFixture(&mockMatchingStatRepo{eligible: []string{"busy", "free"}}, sessions, users, guard, nil)

	summary, err := svc.BookFreeSession(context.Background(), "l1", "algebra")
	require.NoError(t, err)
	assert.Equal(t, "slot-free", summary.SessionID)
}

func TestBookFreeSessionMovesOnAfterLostRace(t *testing.T) {
	start := matchingFixtureNow().Add(2 * time.Hour)
	users := &mockMatchingUserRepo{users: map[string]*models.User{
		"l1": {ID: "l1", DateOfBirth: dob(2005), KnownLanguageIDs: []string{"en"}},
		"t1": {ID: "t1", DateOfBirth: dob(2003), KnownLanguageIDs: []string{"en"}},
	}}
	sessions := &mockMatchingSessionRepo{available: []models.Session{
		{ID: "slot-a", TeacherID: "t1", ScheduledAt: start, DurationMinutes: 90},
		{ID: "slot-b", TeacherID: "t1", ScheduledAt: start.Add(3 * time.Hour), DurationMinutes: 90},
	}}
	booker := &mockSlotBooker{taken: map[string]bool{"slot-a": true}}
	svc := newMatchingFixture(&mockMatchingStatRepo{eligible: []string{"t1"}}, sessions, users, nil, booker)

	summary, err := svc.BookFreeSession(context.Background(), "l1", "algebra")
	require.NoError(t, err)
	assert.Equal(t, "slot-b", summary.SessionID)
}

func TestBookFreeSessionAllCandidatesExhausted(t *testing.T) {
	start := matchingFixtureNow().Add(2 * time.Hour)
	users := &mockMatchingUserRepo{users: map[string]*models.User{
		"l1": {ID: "l1"},
		"t1": {ID: "t1"},
	}}
	sessions := &mockMatchingSessionRepo{available: []models.Session{
		{ID: "slot-a", TeacherID: "t1", ScheduledAt: start, DurationMinutes: 90},
	}}
	booker := &mockSlotBooker{taken: map[string]bool{"slot-a": true}}
	svc := newMatchingFixture(&mockMatchingStatRepo{eligible: []string{"t1"}}, sessions, users, nil, booker)

	_, err := svc.BookFreeSession(context.Background(), "l1", "algebra")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoValidSlot.Code, appErrors.FromError(err).Code)
}

// bookingFlowStore backs the matcher, the conflict guard and the slot
// consumer with the same in-memory slots so a booking flows end to end.
type bookingFlowStore struct {
	slots map[string]*models.Session
}

func (s *bookingFlowStore) ListAvailableByTopic(ctx context.Context, topicID string, teacherIDs []string, notBefore time.Time, minDuration int) ([]models.Session, error) {
	allowed := make(map[string]bool, len(teacherIDs))
	for _, id := range teacherIDs {
		allowed[id] = true
	}
	var out []models.Session
	for _, slot := range s.slots {
		if slot.Status != models.SessionAvailable || !allowed[slot.TeacherID] {
			continue
		}
		if slot.ScheduledAt.Before(notBefore) || slot.DurationMinutes < minDuration {
			continue
		}
		out = append(out, *slot)
	}
	return out, nil
}

func (s *bookingFlowStore) ListIntersecting(ctx context.Context, teacherID string, from, to time.Time, statuses []models.SessionStatus, excludeID string) ([]models.Session, error) {
	var out []models.Session
	for _, slot := range s.slots {
		if slot.TeacherID != teacherID || slot.ID == excludeID {
			continue
		}
		blocking := false
		for _, st := range statuses {
			if slot.Status == st {
				blocking = true
				break
			}
		}
		if blocking && slot.ScheduledAt.Before(to) && slot.CompletedAt.After(from) {
			out = append(out, *slot)
		}
	}
	return out, nil
}

func (s *bookingFlowStore) Book(ctx context.Context, id, studentID, topicID string, tier models.Tier) (bool, error) {
	slot, ok := s.slots[id]
	if !ok || slot.Status != models.SessionAvailable {
		return false, nil
	}
	slot.Status = models.SessionUpcoming
	slot.StudentID = &studentID
	slot.TopicID = topicID
	slot.Tier = tier
	return true, nil
}

// Teacher offers Monday 09:00-11:00 IST for algebra; a learner sharing the
// teacher's languages books the whole block through scoring, the conflict
// guard and the slot claim. The slot ends upcoming and the window empties.
func TestBookFreeSessionEndToEndMondayWindow(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	windowID := "w1"
	window := &models.AvailabilityWindow{
		ID:          windowID,
		TeacherID:   "t1",
		TopicIDs:    []string{"algebra"},
		Weekday:     mondayWeekday(),
		StartMinute: 9 * 60,
		EndMinute:   11 * 60,
		Timezone:    "Asia/Kolkata",
		Recurring:   true,
		Active:      true,
	}
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, ist) // the Monday after the fixture clock
	store := &bookingFlowStore{slots: map[string]*models.Session{
		"s1": {
			ID:              "s1",
			TeacherID:       "t1",
			WindowID:        &windowID,
			ScheduledAt:     start.UTC(),
			CompletedAt:     start.Add(120 * time.Minute).UTC(),
			DurationMinutes: 120,
			Tier:            models.TierFree,
			Status:          models.SessionAvailable,
			Timezone:        "Asia/Kolkata",
		},
	}}
	users := &mockMatchingUserRepo{users: map[string]*models.User{
		"l1": {ID: "l1", FullName: "Lena Pillai", KnownLanguageIDs: []string{"en", "hi"}},
		"t1": {ID: "t1", FullName: "Asha Rao", KnownLanguageIDs: []string{"en", "hi"}},
	}}
	windows := &mockWindowRepo{windows: map[string]*models.AvailabilityWindow{windowID: window}}
	topics := &mockConsumerTopicRepo{topics: map[string]*models.Topic{
		"algebra": {ID: "algebra", Name: "Algebra"},
	}}
	records := &mockRecordRepo{}

	clk := clock.At(matchingFixtureNow())
	guard := NewScheduleConflictGuard(store, 30*time.Minute, zap.NewNop())
	consumer := NewSlotConsumer(store, records, windows, users, topics, clk, zap.NewNop())
	scheduling := config.SchedulingConfig{
		MinSessionDuration: 90 * time.Minute,
		BookingLeadTime:    30 * time.Minute,
		SessionBuffer:      30 * time.Minute,
		HorizonDays:        7,
	}
	svc := NewMatchingService(&mockMatchingStatRepo{eligible: []string{"t1"}}, store, users, guard, consumer, testMatchingConfig(), scheduling, clk, zap.NewNop())

	summary, err := svc.BookFreeSession(context.Background(), "l1", "algebra")
	require.NoError(t, err)
	assert.Equal(t, "s1", summary.SessionID)
	assert.Equal(t, "Asha Rao", summary.TeacherName)
	assert.Equal(t, "Algebra", summary.TopicName)
	assert.Equal(t, 120, summary.DurationMinutes)
	assert.Equal(t, "2025-06-02 09:00 IST", summary.LocalStartTime)

	slot := store.slots["s1"]
	assert.Equal(t, models.SessionUpcoming, slot.Status)
	require.NotNil(t, slot.StudentID)
	assert.Equal(t, "l1", *slot.StudentID)
	assert.Equal(t, models.TierFree, slot.Tier)

	// The booking covered the whole Monday block, so the window empties.
	assert.Equal(t, []string{"w1"}, windows.deactivated)
	assert.Empty(t, windows.spans)
	require.Len(t, records.records, 1)
	assert.Equal(t, "l1", records.records[0].StudentID)
}

func TestBookFreeSessionDeterministicAcrossRuns(t *testing.T) {
	start := matchingFixtureNow().Add(2 * time.Hour)
	buildUsers := func() *mockMatchingUserRepo {
		return &mockMatchingUserRepo{users: map[string]*models.User{
			"l1": {ID: "l1", DateOfBirth: dob(2005), KnownLanguageIDs: []string{"en"}},
			"t1": {ID: "t1", DateOfBirth: dob(2003), KnownLanguageIDs: []string{"en"}},
			"t2": {ID: "t2", DateOfBirth: dob(2003), KnownLanguageIDs: []string{"en"}},
		}}
	}
	var winners []string
	for i := 0; i < 5; i++ {
		sessions := &mockMatchingSessionRepo{available: []models.Session{
			{ID: "slot-2", TeacherID: "t2", ScheduledAt: start, DurationMinutes: 90},
			{ID: "slot-1", TeacherID: "t1", ScheduledAt: start, DurationMinutes: 90},
		}}
		svc := newMatchingFixture(&mockMatchingStatRepo{eligible: []string{"t1", "t2"}}, sessions, buildUsers(), nil, nil)
		summary, err := svc.BookFreeSession(context.Background(), "l1", "algebra")
		require.NoError(t, err)
		winners = append(winners, summary.SessionID)
	}
	for _, w := range winners {
		// Equal scores and starts fall back to slot id ordering.
		assert.Equal(t, "slot-1", w)
	}
}
