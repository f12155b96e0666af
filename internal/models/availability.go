package models

import (
	"time"

	"github.com/lib/pq"
)

// AvailabilityWindow is a teacher-declared block of free time, either
// recurring on a weekday or pinned to a specific date. Times are stored as
// minutes of the local day in the window's IANA timezone; EndMinute may
// exceed 1440 when the block wraps past midnight.
type AvailabilityWindow struct {
	ID           string         `db:"id" json:"id"`
	TeacherID    string         `db:"teacher_id" json:"teacher_id"`
	TopicIDs     pq.StringArray `db:"topic_ids" json:"topic_ids"`
	Weekday      *int           `db:"weekday" json:"weekday,omitempty"`
	SpecificDate *time.Time     `db:"specific_date" json:"specific_date,omitempty"`
	StartMinute  int            `db:"start_minute" json:"start_minute"`
	EndMinute    int            `db:"end_minute" json:"end_minute"`
	Timezone     string         `db:"timezone" json:"timezone"`
	Recurring    bool           `db:"recurring" json:"recurring"`
	Active       bool           `db:"active" json:"active"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// DurationMinutes returns the window length after overnight-wrap handling.
func (w *AvailabilityWindow) DurationMinutes() int {
	return w.EndMinute - w.StartMinute
}

// CoversTopic reports whether the window is tagged with the topic.
func (w *AvailabilityWindow) CoversTopic(topicID string) bool {
	for _, id := range w.TopicIDs {
		if id == topicID {
			return true
		}
	}
	return false
}

// ChartSlot is one concrete stretch of free time on the 7-day chart,
// already converted to UTC instants and trimmed to "now".
type ChartSlot struct {
	WindowID string    `json:"window_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	TopicIDs []string  `json:"topic_ids"`
}

// AvailabilityDay buckets chart slots under a local calendar date.
type AvailabilityDay struct {
	Date    string      `json:"date"`
	Weekday string      `json:"weekday"`
	Slots   []ChartSlot `json:"slots"`
}
