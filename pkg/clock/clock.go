package clock

import "time"

// Clock abstracts the current time so services and tests share one source of
// "now" without sleeping.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock in UTC.
type System struct{}

// Now returns the current UTC instant.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always returns the same instant. Intended for tests.
type Fixed struct {
	Instant time.Time
}

// Now returns the configured instant.
func (f Fixed) Now() time.Time {
	return f.Instant
}

// At builds a Fixed clock from an instant.
func At(t time.Time) Fixed {
	return Fixed{Instant: t.UTC()}
}
