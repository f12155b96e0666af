package models

import (
	"time"

	"github.com/lib/pq"
)

// UserRole represents the available roles.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleLearner UserRole = "LEARNER"
)

// User represents a directory profile stored in the users table. The
// matching engine reads languages, location and birth date from it.
type User struct {
	ID                  string         `db:"id" json:"id"`
	Email               string         `db:"email" json:"email"`
	PasswordHash        string         `db:"password_hash" json:"-"`
	FullName            string         `db:"full_name" json:"full_name"`
	Role                UserRole       `db:"role" json:"role"`
	Active              bool           `db:"active" json:"active"`
	KnownLanguageIDs    pq.StringArray `db:"known_language_ids" json:"known_language_ids"`
	PreferredLanguageID *string        `db:"preferred_language_id" json:"preferred_language_id,omitempty"`
	Latitude            *float64       `db:"latitude" json:"latitude,omitempty"`
	Longitude           *float64       `db:"longitude" json:"longitude,omitempty"`
	DateOfBirth         *time.Time     `db:"date_of_birth" json:"date_of_birth,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// AgeAt returns the user's age in whole years at the given instant, or
// fallback when the birth date is unknown.
func (u *User) AgeAt(now time.Time, fallback int) int {
	if u == nil || u.DateOfBirth == nil {
		return fallback
	}
	dob := u.DateOfBirth.UTC()
	years := now.Year() - dob.Year()
	anniversary := time.Date(now.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC)
	if now.Before(anniversary) {
		years--
	}
	if years < 0 {
		return fallback
	}
	return years
}

// HasLocation reports whether both coordinates are present.
func (u *User) HasLocation() bool {
	return u != nil && u.Latitude != nil && u.Longitude != nil
}
