package chatsync

import "time"

// Clock is the time source for sweeps, backoff eligibility, and cache TTL
// checks. Injecting it keeps retry timing testable without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, normalized to UTC so persisted timestamps
// compare consistently across restarts.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
