package models

import "time"

// SessionOutcome is the teacher-reported result of an upcoming session.
type SessionOutcome string

const (
	OutcomeCompleted      SessionOutcome = "completed"
	OutcomeStudentNoShow  SessionOutcome = "student_no_show"
	OutcomeTechnicalIssue SessionOutcome = "technical_issue"
	OutcomeInterrupted    SessionOutcome = "interrupted"
)

// Valid reports whether the outcome is one of the known values.
func (o SessionOutcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeStudentNoShow, OutcomeTechnicalIssue, OutcomeInterrupted:
		return true
	}
	return false
}

// FlagStatus tracks the moderation state of a reported session.
type FlagStatus string

const (
	FlagOpen      FlagStatus = "open"
	FlagResolved  FlagStatus = "resolved"
	FlagDismissed FlagStatus = "dismissed"
)

// SessionFlag is the moderation record appended when a teacher reports a
// non-successful outcome.
type SessionFlag struct {
	ID         string     `db:"id" json:"id"`
	SessionID  string     `db:"session_id" json:"session_id"`
	ReporterID string     `db:"reporter_id" json:"reporter_id"`
	Reason     string     `db:"reason" json:"reason"`
	Notes      *string    `db:"notes" json:"notes,omitempty"`
	Status     FlagStatus `db:"status" json:"status"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
