package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultNamespace = "chatsync"
	outboxKeySuffix  = "/outbox"
)

// OutboxConfig defines queue behavior.
type OutboxConfig struct {
	Namespace string
	Logger    Logger
}

func (c OutboxConfig) withDefaults() OutboxConfig {
	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}

	return c
}

// OutboxOption configures the outbound queue.
type OutboxOption func(*OutboxConfig)

// WithOutboxNamespace sets the key prefix used in the durable store.
func WithOutboxNamespace(namespace string) OutboxOption {
	return func(c *OutboxConfig) {
		c.Namespace = namespace
	}
}

// WithOutboxLogger sets the queue logger.
func WithOutboxLogger(logger Logger) OutboxOption {
	return func(c *OutboxConfig) {
		c.Logger = logger
	}
}

// Outbox is the durable outbound queue: every not-yet-confirmed send, persisted
// as a single JSON document in the durable store.
//
// One mutex covers every read-modify-write, so an enqueue can never be lost
// between a sweep's read and write, and the same lock serves as the sweep
// re-entrancy guard for queue mutation.
type Outbox struct {
	kv  KeyValue
	cfg OutboxConfig
	key string

	mu sync.Mutex
}

// NewOutbox constructs an outbound queue over the given durable store.
func NewOutbox(kv KeyValue, opts ...OutboxOption) (*Outbox, error) {
	if kv == nil {
		return nil, ErrStoreRequired
	}

	var cfg OutboxConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Outbox{
		kv:  kv,
		cfg: cfg,
		key: cfg.Namespace + outboxKeySuffix,
	}, nil
}

// Enqueue appends a new entry. At most one live entry may exist per
// correlation ID; a duplicate returns ErrDuplicateCorrelationID.
func (o *Outbox) Enqueue(ctx context.Context, entry QueuedMessage) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.load(ctx)
	if err != nil {
		return err
	}
	for _, existing := range entries {
		if existing.CorrelationID == entry.CorrelationID {
			return ErrDuplicateCorrelationID
		}
	}

	return o.save(ctx, append(entries, entry))
}

// Dequeue removes the entry for the correlation ID after a confirmed send.
// Removing an absent entry is a no-op: the confirmation may race a discard.
func (o *Outbox) Dequeue(ctx context.Context, id CorrelationID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.load(ctx)
	if err != nil {
		return err
	}

	kept := entries[:0]
	for _, entry := range entries {
		if entry.CorrelationID != id {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}

	return o.save(ctx, kept)
}

// Discard removes a permanently failed entry on explicit user or collaborator
// request. It reports ErrEntryNotQueued when there is nothing to discard.
func (o *Outbox) Discard(ctx context.Context, id CorrelationID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.load(ctx)
	if err != nil {
		return err
	}

	kept := entries[:0]
	found := false
	for _, entry := range entries {
		if entry.CorrelationID == id {
			found = true

			continue
		}
		kept = append(kept, entry)
	}
	if !found {
		return ErrEntryNotQueued
	}

	o.cfg.Logger.Info("outbound entry discarded", "correlation_id", id.String())

	return o.save(ctx, kept)
}

// UpdateRetryMeta records a failed attempt. The stored payload never changes;
// only retry metadata does, and the retry count never decreases.
func (o *Outbox) UpdateRetryMeta(ctx context.Context, id CorrelationID, retryCount int, lastAttemptAt time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.load(ctx)
	if err != nil {
		return err
	}

	for i := range entries {
		if entries[i].CorrelationID != id {
			continue
		}
		if retryCount > entries[i].RetryCount {
			entries[i].RetryCount = retryCount
		}
		entries[i].LastAttemptAt = lastAttemptAt

		return o.save(ctx, entries)
	}

	return ErrEntryNotQueued
}

// PeekAll returns every queued entry in enqueue order without removing any.
func (o *Outbox) PeekAll(ctx context.Context) ([]QueuedMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.load(ctx)
}

// Clear drops every queued entry, e.g. on logout.
func (o *Outbox) Clear(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.kv.Remove(ctx, o.key); err != nil {
		return fmt.Errorf("chatsync: clear outbox: %w", err)
	}

	return nil
}

// load reads the persisted queue. Corrupt data resets the queue to empty and
// is logged as a contract violation; losing the queue beats crashing the app.
func (o *Outbox) load(ctx context.Context) ([]QueuedMessage, error) {
	raw, err := o.kv.Get(ctx, o.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chatsync: read outbox: %w", err)
	}

	var entries []QueuedMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		o.cfg.Logger.Error("outbound queue corrupted, resetting to empty",
			"key", o.key, "err", err)
		if removeErr := o.kv.Remove(ctx, o.key); removeErr != nil {
			return nil, fmt.Errorf("chatsync: reset corrupted outbox: %w", removeErr)
		}

		return nil, nil
	}

	return entries, nil
}

func (o *Outbox) save(ctx context.Context, entries []QueuedMessage) error {
	if len(entries) == 0 {
		if err := o.kv.Remove(ctx, o.key); err != nil {
			return fmt.Errorf("chatsync: write outbox: %w", err)
		}

		return nil
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("chatsync: encode outbox: %w", err)
	}
	if err := o.kv.Set(ctx, o.key, raw); err != nil {
		return fmt.Errorf("chatsync: write outbox: %w", err)
	}

	return nil
}
