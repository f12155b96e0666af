package models

import (
	"fmt"
	"time"
)

// SessionStatus enumerates the booking state machine:
// available → pending → upcoming → {completed | flagged | cancelled}.
type SessionStatus string

const (
	SessionAvailable SessionStatus = "available"
	SessionPending   SessionStatus = "pending"
	SessionUpcoming  SessionStatus = "upcoming"
	SessionCompleted SessionStatus = "completed"
	SessionFlagged   SessionStatus = "flagged"
	SessionCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed. Flagged is
// semi-terminal: moderation may still resolve it.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Session is the atomic bookable unit of teaching time. CompletedAt is the
// scheduled end instant and always equals ScheduledAt plus the duration.
// Open slots carry an empty TopicID and inherit their topic coverage from
// the originating window; the topic is stamped when the slot is consumed.
type Session struct {
	ID              string        `db:"id" json:"id"`
	TeacherID       string        `db:"teacher_id" json:"teacher_id"`
	StudentID       *string       `db:"student_id" json:"student_id,omitempty"`
	TopicID         string        `db:"topic_id" json:"topic_id"`
	WindowID        *string       `db:"window_id" json:"window_id,omitempty"`
	ScheduledAt     time.Time     `db:"scheduled_at" json:"scheduled_at"`
	CompletedAt     time.Time     `db:"completed_at" json:"completed_at"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	Tier            Tier          `db:"tier" json:"tier"`
	Status          SessionStatus `db:"status" json:"status"`
	Timezone        string        `db:"timezone" json:"timezone"`
	HoldExpiresAt   *time.Time    `db:"hold_expires_at" json:"hold_expires_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// EndsAt returns the scheduled end of the session.
func (s *Session) EndsAt() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// SessionFilter captures filtering options for listing sessions.
type SessionFilter struct {
	TeacherID string
	StudentID string
	TopicID   string
	Status    SessionStatus
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// BookingRecord is the immutable denormalized audit row appended when a
// slot is consumed. It is never updated after insert.
type BookingRecord struct {
	ID              string    `db:"id" json:"id"`
	SessionID       string    `db:"session_id" json:"session_id"`
	TeacherID       string    `db:"teacher_id" json:"teacher_id"`
	StudentID       string    `db:"student_id" json:"student_id"`
	TopicID         string    `db:"topic_id" json:"topic_id"`
	TeacherName     string    `db:"teacher_name" json:"teacher_name"`
	TopicName       string    `db:"topic_name" json:"topic_name"`
	ScheduledAt     time.Time `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Tier            Tier      `db:"tier" json:"tier"`
	LocalStartTime  string    `db:"local_start_time" json:"local_start_time"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// BookingSummary is the client-facing result of a successful booking.
type BookingSummary struct {
	SessionID       string    `json:"session_id"`
	TeacherID       string    `json:"teacher_id"`
	TeacherName     string    `json:"teacher_name"`
	TopicName       string    `json:"topic_name"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	LocalStartTime  string    `json:"local_start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Tier            Tier      `json:"tier"`
}

// ConflictWindow describes the buffered span of an existing session that
// blocks a proposed booking.
type ConflictWindow struct {
	SessionID     string    `json:"session_id"`
	BufferedStart time.Time `json:"buffered_start"`
	BufferedEnd   time.Time `json:"buffered_end"`
}

// SessionConflictError is returned when a proposed span intrudes on the
// buffer around an existing booking.
type SessionConflictError struct {
	TeacherID string           `json:"teacher_id"`
	Proposed  ConflictWindow   `json:"proposed"`
	Conflicts []ConflictWindow `json:"conflicts"`
}

// Error implements the error interface for conflict errors.
func (e *SessionConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("teacher %s has %d conflicting session(s)", e.TeacherID, len(e.Conflicts))
}
