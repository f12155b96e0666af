package models

import "time"

// Tier is the monetization status of a teacher on a topic.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Level is the seniority ladder driven by completed sessions and rating.
// Recomputation only assigns Bridger, Expert and Legend; Master is reserved
// for manual grants.
type Level string

const (
	LevelBridger Level = "bridger"
	LevelExpert  Level = "expert"
	LevelMaster  Level = "master"
	LevelLegend  Level = "legend"
)

// TeacherTopicStat tracks one teacher's standing on one topic. Rows are
// mutated only by the progression engine or an explicit tier toggle.
type TeacherTopicStat struct {
	ID           string     `db:"id" json:"id"`
	TeacherID    string     `db:"teacher_id" json:"teacher_id"`
	TopicID      string     `db:"topic_id" json:"topic_id"`
	Tier         Tier       `db:"tier" json:"tier"`
	Level        Level      `db:"level" json:"level"`
	SessionCount int        `db:"session_count" json:"session_count"`
	Rating       float64    `db:"rating" json:"rating"`
	PaidAt       *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	Active       bool       `db:"active" json:"active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
