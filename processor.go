package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultSweepInterval  = 30 * time.Second
	defaultAttemptTimeout = 10 * time.Second
)

// QueueEvent describes a transition of an outbound entry during a sweep.
type QueueEvent int

const (
	// EventAttempt fires when a send attempt starts.
	EventAttempt QueueEvent = iota
	// EventDelivered fires when the gateway confirms a send.
	EventDelivered
	// EventRetryScheduled fires when an attempt fails within the retry budget.
	EventRetryScheduled
	// EventPermanentFailure fires once, when an entry exhausts its retry budget.
	EventPermanentFailure
)

// EventHandler observes outbound entry transitions. Called synchronously from
// the sweep goroutine; handlers must not block.
type EventHandler func(entry QueuedMessage, event QueueEvent)

// ProcessorConfig defines how the queue is swept.
type ProcessorConfig struct {
	SweepInterval  time.Duration
	AttemptTimeout time.Duration
	Policy         RetryPolicy
	Clock          Clock
	Logger         Logger
	Metrics        Metrics
	EventHandler   EventHandler
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = defaultAttemptTimeout
	}
	c.Policy = c.Policy.withDefaults()
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// ProcessorOption configures Processor behavior.
type ProcessorOption func(*ProcessorConfig)

// WithSweepInterval sets the delay between periodic sweeps.
func WithSweepInterval(interval time.Duration) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.SweepInterval = interval
	}
}

// WithAttemptTimeout bounds each gateway call so a hanging send still counts
// as a real attempt.
func WithAttemptTimeout(timeout time.Duration) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.AttemptTimeout = timeout
	}
}

// WithRetryPolicy sets the backoff policy.
func WithRetryPolicy(policy RetryPolicy) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.Policy = policy
	}
}

// WithProcessorClock sets the time source used for eligibility checks.
func WithProcessorClock(clock Clock) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.Clock = clock
	}
}

// WithProcessorLogger sets the processor logger.
func WithProcessorLogger(logger Logger) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.Logger = logger
	}
}

// WithProcessorMetrics sets the processor metrics recorder.
func WithProcessorMetrics(metrics Metrics) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.Metrics = metrics
	}
}

// WithEventHandler registers an observer for entry transitions.
func WithEventHandler(handler EventHandler) ProcessorOption {
	return func(c *ProcessorConfig) {
		c.EventHandler = handler
	}
}

// Processor sweeps the outbound queue on a timer, attempting eligible entries
// through the gateway sequentially. Sequential attempts bound outbound
// concurrency and keep attempt-completion order equal to enqueue order.
type Processor struct {
	queue   *Outbox
	gateway Gateway
	cfg     ProcessorConfig

	lifecycleMu sync.Mutex
	stop        chan struct{}
	done        chan struct{}

	sweepMu sync.Mutex
}

// NewProcessor constructs a Processor over the queue and gateway.
func NewProcessor(queue *Outbox, gateway Gateway, opts ...ProcessorOption) (*Processor, error) {
	if queue == nil {
		return nil, ErrStoreRequired
	}
	if gateway == nil {
		return nil, ErrGatewayRequired
	}

	var cfg ProcessorConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Processor{
		queue:   queue,
		gateway: gateway,
		cfg:     cfg,
	}, nil
}

// Start performs an immediate sweep and then sweeps every SweepInterval.
// Calling Start on a running processor is a no-op.
func (p *Processor) Start() {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(p.stop, p.done)
}

// Stop cancels the timer before its next tick. An in-flight sweep is allowed
// to finish; Stop returns once the sweep goroutine has exited. Stopping a
// processor that is not running is a no-op.
func (p *Processor) Stop() {
	p.lifecycleMu.Lock()
	stop, done := p.stop, p.done
	p.stop = nil
	p.done = nil
	p.lifecycleMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (p *Processor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if _, err := p.Sweep(context.Background()); err != nil {
		p.cfg.Logger.Error("outbound sweep failed", "err", err)
	}

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := p.Sweep(context.Background()); err != nil {
				p.cfg.Logger.Error("outbound sweep failed", "err", err)
			}
		}
	}
}

// Sweep runs one pass over the queue and returns the number of delivered
// entries. If a sweep is already in flight the call returns immediately
// without starting another.
func (p *Processor) Sweep(ctx context.Context) (int, error) {
	if !p.sweepMu.TryLock() {
		return 0, nil
	}
	defer p.sweepMu.Unlock()

	start := p.cfg.Clock.Now()
	defer func() {
		p.cfg.Metrics.ObserveSweepDuration(p.cfg.Clock.Now().Sub(start))
	}()

	entries, err := p.queue.PeekAll(ctx)
	if err != nil {
		return 0, err
	}
	p.cfg.Metrics.SetQueued(len(entries))

	delivered := 0
	now := p.cfg.Clock.Now()
	for _, entry := range entries {
		if p.cfg.Policy.PermanentlyFailed(entry) {
			continue
		}
		if !p.cfg.Policy.Eligible(entry, now) {
			continue
		}

		ok, err := p.attempt(ctx, entry)
		if err != nil {
			return delivered, err
		}
		if ok {
			delivered++
		}
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
	}

	return delivered, nil
}

// attempt sends one entry and records the outcome, reporting whether the
// entry was delivered. A gateway failure is absorbed into retry metadata;
// only queue errors propagate.
func (p *Processor) attempt(ctx context.Context, entry QueuedMessage) (bool, error) {
	p.emit(entry, EventAttempt)

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	sendErr := p.gateway.Send(sendCtx, entry.ConversationID, entry.Body, entry.CorrelationID)
	cancel()

	if sendErr == nil {
		if err := p.queue.Dequeue(ctx, entry.CorrelationID); err != nil {
			return false, fmt.Errorf("chatsync: dequeue after send: %w", err)
		}
		p.cfg.Metrics.AddDelivered(1)
		p.emit(entry, EventDelivered)

		return true, nil
	}

	entry.RetryCount++
	entry.LastAttemptAt = p.cfg.Clock.Now()
	if err := p.queue.UpdateRetryMeta(ctx, entry.CorrelationID, entry.RetryCount, entry.LastAttemptAt); err != nil {
		if errors.Is(err, ErrEntryNotQueued) {
			// Discarded while the attempt was in flight.
			return false, nil
		}

		return false, fmt.Errorf("chatsync: record failed attempt: %w", err)
	}

	if p.cfg.Policy.PermanentlyFailed(entry) {
		p.cfg.Metrics.AddPermanentFailures(1)
		p.cfg.Logger.Warn("outbound entry permanently failed",
			"correlation_id", entry.CorrelationID.String(),
			"retry_count", entry.RetryCount,
			"err", sendErr)
		p.emit(entry, EventPermanentFailure)

		return false, nil
	}

	p.cfg.Metrics.AddRetries(1)
	p.cfg.Logger.Debug("outbound attempt failed, retry scheduled",
		"correlation_id", entry.CorrelationID.String(),
		"retry_count", entry.RetryCount,
		"next_delay", p.cfg.Policy.Delay(entry.RetryCount).String(),
		"err", sendErr)
	p.emit(entry, EventRetryScheduled)

	return false, nil
}

func (p *Processor) emit(entry QueuedMessage, event QueueEvent) {
	if p.cfg.EventHandler == nil {
		return
	}
	p.cfg.EventHandler(entry, event)
}
