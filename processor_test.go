package chatsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedGateway fails while offline and records call order.
type scriptedGateway struct {
	mu      sync.Mutex
	offline bool
	calls   []CorrelationID
}

func (g *scriptedGateway) Send(_ context.Context, _ string, _ string, id CorrelationID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, id)
	if g.offline {
		return errors.New("network unreachable")
	}
	return nil
}

func (g *scriptedGateway) setOffline(offline bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offline = offline
}

func (g *scriptedGateway) callIDs() []CorrelationID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CorrelationID, len(g.calls))
	copy(out, g.calls)
	return out
}

type countingMetrics struct {
	NopMetrics
	sweeps    atomic.Int64
	delivered atomic.Int64
	retries   atomic.Int64
	dead      atomic.Int64
	sweepNsec atomic.Int64
}

func (m *countingMetrics) ObserveSweepDuration(d time.Duration) {
	m.sweepNsec.Store(int64(d))
}

func (m *countingMetrics) SetQueued(int) { m.sweeps.Add(1) }

func (m *countingMetrics) AddDelivered(count int) { m.delivered.Add(int64(count)) }

func (m *countingMetrics) AddRetries(count int) { m.retries.Add(int64(count)) }

func (m *countingMetrics) AddPermanentFailures(count int) {
	m.dead.Add(int64(count))
}

func newTestProcessor(t *testing.T, gateway Gateway, clock Clock, opts ...ProcessorOption) (*Processor, *Outbox) {
	t.Helper()

	queue, err := NewOutbox(NewMemoryStore())
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}
	opts = append([]ProcessorOption{WithProcessorClock(clock)}, opts...)
	processor, err := NewProcessor(queue, gateway, opts...)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	return processor, queue
}

func TestSweepRetriesThenDelivers(t *testing.T) {
	clock := newStubClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	gateway := &scriptedGateway{offline: true}
	processor, queue := newTestProcessor(t, gateway, clock)
	ctx := context.Background()

	if err := queue.Enqueue(ctx, testMessage("msg-1", "Hello")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Offline: the attempt fails and retry metadata is recorded.
	delivered, err := processor.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("delivered %d while offline", delivered)
	}
	entries, err := queue.PeekAll(ctx)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if entries[0].RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", entries[0].RetryCount)
	}
	if entries[0].LastAttemptAt.IsZero() {
		t.Fatalf("last attempt must be recorded")
	}

	// Still within the 1s backoff window: no attempt is made.
	delivered, err = processor.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if delivered != 0 || len(gateway.callIDs()) != 1 {
		t.Fatalf("entry attempted inside backoff window")
	}

	// Connectivity restored after the backoff elapses.
	gateway.setOffline(false)
	clock.Advance(1 * time.Second)

	delivered, err = processor.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	entries, err = queue.PeekAll(ctx)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("queue must be empty after confirmed send, got %d entries", len(entries))
	}
}

func TestSweepVisitsEntriesInEnqueueOrder(t *testing.T) {
	clock := newStubClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	gateway := &scriptedGateway{}
	processor, queue := newTestProcessor(t, gateway, clock)
	ctx := context.Background()

	ids := []CorrelationID{"msg-1", "msg-2", "msg-3", "msg-4"}
	for _, id := range ids {
		if err := queue.Enqueue(ctx, testMessage(id, "body")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if _, err := processor.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	calls := gateway.callIDs()
	if len(calls) != len(ids) {
		t.Fatalf("attempted %d entries, want %d", len(calls), len(ids))
	}
	for i, id := range ids {
		if calls[i] != id {
			t.Fatalf("attempt %d = %s, want %s", i, calls[i], id)
		}
	}
}

func TestPermanentlyFailedNeverAttemptedButRetained(t *testing.T) {
	clock := newStubClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	gateway := &scriptedGateway{}
	processor, queue := newTestProcessor(t, gateway, clock)
	ctx := context.Background()

	exhausted := testMessage("msg-dead", "lost cause")
	exhausted.RetryCount = 6
	exhausted.LastAttemptAt = clock.Now().Add(-time.Hour)
	if err := queue.Enqueue(ctx, exhausted); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := processor.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(gateway.callIDs()) != 0 {
		t.Fatalf("permanently failed entry must not be attempted")
	}

	entries, err := queue.PeekAll(ctx)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(entries) != 1 || entries[0].CorrelationID != "msg-dead" {
		t.Fatalf("permanently failed entry must stay queryable")
	}
}

func TestFailureEscalatesToPermanent(t *testing.T) {
	clock := newStubClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	gateway := &scriptedGateway{offline: true}
	metrics := &countingMetrics{}

	var events []QueueEvent
	processor, queue := newTestProcessor(t, gateway, clock,
		WithProcessorMetrics(metrics),
		WithEventHandler(func(_ QueuedMessage, event QueueEvent) {
			events = append(events, event)
		}))
	ctx := context.Background()

	entry := testMessage("msg-1", "flaky")
	entry.RetryCount = 5
	entry.LastAttemptAt = clock.Now().Add(-time.Minute)
	if err := queue.Enqueue(ctx, entry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := processor.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if metrics.dead.Load() != 1 {
		t.Fatalf("permanent failures = %d, want 1", metrics.dead.Load())
	}
	if len(events) != 2 || events[0] != EventAttempt || events[1] != EventPermanentFailure {
		t.Fatalf("unexpected events: %v", events)
	}

	entries, err := queue.PeekAll(ctx)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(entries) != 1 || entries[0].RetryCount != 6 {
		t.Fatalf("exhausted entry must be retained with retry count 6")
	}
}

func TestSweepDurationReadsInjectedClock(t *testing.T) {
	clock := newStubClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	metrics := &countingMetrics{}
	metrics.sweepNsec.Store(-1)
	processor, _ := newTestProcessor(t, &scriptedGateway{}, clock,
		WithProcessorMetrics(metrics))

	if _, err := processor.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	// A frozen clock must yield a zero observed duration; wall time would not.
	if got := metrics.sweepNsec.Load(); got != 0 {
		t.Fatalf("observed sweep duration = %dns, want 0 under a frozen clock", got)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	gateway := &scriptedGateway{}
	metrics := &countingMetrics{}
	processor, _ := newTestProcessor(t, gateway, SystemClock{},
		WithSweepInterval(time.Hour),
		WithProcessorMetrics(metrics))

	processor.Start()
	processor.Start()

	waitFor(t, func() bool { return metrics.sweeps.Load() >= 1 })
	processor.Stop()

	if got := metrics.sweeps.Load(); got != 1 {
		t.Fatalf("expected a single immediate sweep, got %d", got)
	}
}

func TestStopCancelsTimer(t *testing.T) {
	gateway := &scriptedGateway{}
	metrics := &countingMetrics{}
	processor, _ := newTestProcessor(t, gateway, SystemClock{},
		WithSweepInterval(10*time.Millisecond),
		WithProcessorMetrics(metrics))

	processor.Start()
	waitFor(t, func() bool { return metrics.sweeps.Load() >= 2 })
	processor.Stop()

	settled := metrics.sweeps.Load()
	time.Sleep(50 * time.Millisecond)
	if got := metrics.sweeps.Load(); got != settled {
		t.Fatalf("sweeps continued after Stop: %d -> %d", settled, got)
	}

	// Stopping again is a no-op.
	processor.Stop()
}

func TestSweepsDoNotOverlap(t *testing.T) {
	clock := newStubClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	started := make(chan struct{})
	release := make(chan struct{})
	gateway := GatewayFunc(func(context.Context, string, string, CorrelationID) error {
		close(started)
		<-release
		return nil
	})
	processor, queue := newTestProcessor(t, gateway, clock)
	ctx := context.Background()

	if err := queue.Enqueue(ctx, testMessage("msg-1", "slow")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	result := make(chan int, 1)
	go func() {
		delivered, _ := processor.Sweep(ctx)
		result <- delivered
	}()
	<-started

	// The re-entrant call must bail out instead of starting a second sweep.
	delivered, err := processor.Sweep(ctx)
	if err != nil {
		t.Fatalf("re-entrant sweep: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("re-entrant sweep delivered %d", delivered)
	}

	close(release)
	if got := <-result; got != 1 {
		t.Fatalf("in-flight sweep delivered %d, want 1", got)
	}
}

func TestAttemptTimeoutBoundsHangingSend(t *testing.T) {
	clock := newStubClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	gateway := GatewayFunc(func(ctx context.Context, _ string, _ string, _ CorrelationID) error {
		<-ctx.Done()
		return ctx.Err()
	})
	processor, queue := newTestProcessor(t, gateway, clock,
		WithAttemptTimeout(5*time.Millisecond))
	ctx := context.Background()

	if err := queue.Enqueue(ctx, testMessage("msg-1", "hangs")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := processor.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	entries, err := queue.PeekAll(ctx)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if entries[0].RetryCount != 1 {
		t.Fatalf("hanging send must count as a real attempt, retry count = %d", entries[0].RetryCount)
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
