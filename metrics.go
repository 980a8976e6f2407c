package chatsync

import "time"

// Metrics captures processor-level telemetry.
type Metrics interface {
	// ObserveSweepDuration records the time taken by one queue sweep.
	ObserveSweepDuration(duration time.Duration)
	// AddDelivered increments the count of confirmed sends.
	AddDelivered(count int)
	// AddRetries increments the count of failed attempts scheduled for retry.
	AddRetries(count int)
	// AddPermanentFailures increments the count of entries that exhausted retries.
	AddPermanentFailures(count int)
	// SetQueued updates the current outbound queue depth.
	SetQueued(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveSweepDuration implements Metrics.
func (NopMetrics) ObserveSweepDuration(time.Duration) {}

// AddDelivered implements Metrics.
func (NopMetrics) AddDelivered(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddPermanentFailures implements Metrics.
func (NopMetrics) AddPermanentFailures(int) {}

// SetQueued implements Metrics.
func (NopMetrics) SetQueued(int) {}
