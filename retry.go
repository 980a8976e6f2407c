package chatsync

import "time"

const (
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 32 * time.Second
	defaultMaxAttempts = 6
)

// RetryPolicy computes backoff eligibility from retry metadata. All methods
// are pure: time enters only through explicit parameters, never a clock.
type RetryPolicy struct {
	// BaseDelay is the wait after the first failure. Defaults to 1s.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff. Defaults to 32s.
	MaxDelay time.Duration
	// MaxAttempts is the retry budget before an entry is permanently failed.
	// Defaults to 6.
	MaxAttempts int
}

// DefaultRetryPolicy returns the policy with standard delays and budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{}.withDefaults()
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}

	return p
}

// Delay returns min(BaseDelay * 2^retryCount, MaxDelay).
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	p = p.withDefaults()
	if retryCount < 0 {
		retryCount = 0
	}

	delay := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay <= 0 {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}

// Eligible reports whether the entry may be attempted at now: either it has
// never been attempted, or the backoff window since the last attempt elapsed.
// RetryCount already counts the failed attempt, so the window is the delay
// scheduled at that failure: Delay(RetryCount-1). The first retry waits
// BaseDelay, not BaseDelay*2.
func (p RetryPolicy) Eligible(entry QueuedMessage, now time.Time) bool {
	if entry.LastAttemptAt.IsZero() {
		return true
	}

	return now.Sub(entry.LastAttemptAt) >= p.Delay(entry.RetryCount-1)
}

// PermanentlyFailed reports whether the entry exhausted its retry budget.
// Such entries stay in the queue with StatusFailed until explicitly discarded.
func (p RetryPolicy) PermanentlyFailed(entry QueuedMessage) bool {
	p = p.withDefaults()

	return entry.RetryCount >= p.MaxAttempts
}
