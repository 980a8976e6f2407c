package chatsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// OptimisticMessage is a locally rendered message not yet acknowledged by the
// remote store: its queue entry plus the UI status.
type OptimisticMessage struct {
	QueuedMessage
	Status Status
}

// Merge reconciles the authoritative confirmed list with optimistic entries:
// every optimistic entry whose correlation ID appears in confirmed is dropped
// (remote wins), the rest are kept, and the union is sorted ascending by
// timestamp with ties broken by insertion order. Merge is idempotent.
func Merge(confirmed []ConfirmedMessage, optimistic []OptimisticMessage) []Message {
	confirmedIDs := make(map[CorrelationID]struct{}, len(confirmed))
	for _, message := range confirmed {
		confirmedIDs[message.CorrelationID] = struct{}{}
	}

	merged := make([]Message, 0, len(confirmed)+len(optimistic))
	for _, message := range confirmed {
		merged = append(merged, Message{
			CorrelationID:  message.CorrelationID,
			ConversationID: message.ConversationID,
			SenderID:       message.SenderID,
			Body:           message.Body,
			Timestamp:      message.SentAt,
			Confirmed:      true,
			Delivery:       message.Delivery,
		})
	}
	for _, entry := range optimistic {
		if _, ok := confirmedIDs[entry.CorrelationID]; ok {
			continue
		}
		merged = append(merged, Message{
			CorrelationID:  entry.CorrelationID,
			ConversationID: entry.ConversationID,
			Body:           entry.Body,
			Timestamp:      entry.CreatedAt,
			Status:         entry.Status,
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	return merged
}

// StoreConfig defines optimistic store behavior.
type StoreConfig struct {
	Clock     Clock
	Generator IDGenerator
	Policy    RetryPolicy
	Logger    Logger
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Generator == nil {
		c.Generator = UUIDv7Generator{}
	}
	c.Policy = c.Policy.withDefaults()
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}

	return c
}

// StoreOption configures the optimistic store.
type StoreOption func(*StoreConfig)

// WithStoreClock sets the time source for submission timestamps.
func WithStoreClock(clock Clock) StoreOption {
	return func(c *StoreConfig) {
		c.Clock = clock
	}
}

// WithIDGenerator sets the correlation ID generator.
func WithIDGenerator(generator IDGenerator) StoreOption {
	return func(c *StoreConfig) {
		c.Generator = generator
	}
}

// WithStorePolicy sets the retry policy used to derive failed status on restore.
func WithStorePolicy(policy RetryPolicy) StoreOption {
	return func(c *StoreConfig) {
		c.Policy = policy
	}
}

// WithStoreLogger sets the store logger.
func WithStoreLogger(logger Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// Store merges pending sends with the authoritative confirmed stream into the
// single sequence the UI renders. Submissions are durably queued through the
// Outbox and rendered optimistically until a confirmed message with the same
// correlation ID arrives.
type Store struct {
	queue *Outbox
	cache *Cache
	cfg   StoreConfig

	mu         sync.Mutex
	optimistic map[string][]*OptimisticMessage
	byID       map[CorrelationID]*OptimisticMessage
	confirmed  map[string][]ConfirmedMessage
}

// NewStore constructs an optimistic store over the queue and cache.
func NewStore(queue *Outbox, cache *Cache, opts ...StoreOption) (*Store, error) {
	if queue == nil || cache == nil {
		return nil, ErrStoreRequired
	}

	var cfg StoreConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Store{
		queue:      queue,
		cache:      cache,
		cfg:        cfg.withDefaults(),
		optimistic: make(map[string][]*OptimisticMessage),
		byID:       make(map[CorrelationID]*OptimisticMessage),
		confirmed:  make(map[string][]ConfirmedMessage),
	}, nil
}

// Restore rebuilds optimistic entries from the durable queue after a restart,
// so messages submitted before a process kill render again.
func (s *Store) Restore(ctx context.Context) error {
	entries, err := s.queue.PeekAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.optimistic = make(map[string][]*OptimisticMessage)
	s.byID = make(map[CorrelationID]*OptimisticMessage)
	for _, entry := range entries {
		status := StatusPending
		if s.cfg.Policy.PermanentlyFailed(entry) {
			status = StatusFailed
		}
		s.track(&OptimisticMessage{QueuedMessage: entry, Status: status})
	}

	return nil
}

// Submit creates an optimistic entry and durably enqueues the send, returning
// the correlation ID immediately. It never blocks on network I/O.
func (s *Store) Submit(ctx context.Context, conversationID string, body string) (CorrelationID, error) {
	if conversationID == "" {
		return "", ErrConversationRequired
	}
	if body == "" {
		return "", ErrBodyRequired
	}

	id, err := s.cfg.Generator.New()
	if err != nil {
		return "", err
	}

	message := QueuedMessage{
		CorrelationID:  id,
		ConversationID: conversationID,
		Body:           body,
		CreatedAt:      s.cfg.Clock.Now(),
	}
	if err := s.queue.Enqueue(ctx, message); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.track(&OptimisticMessage{QueuedMessage: message, Status: StatusPending})
	s.mu.Unlock()

	return id, nil
}

// ApplySnapshot ingests an authoritative snapshot for the conversation:
// optimistic entries confirmed by it are destroyed and the conversation cache
// is refreshed.
func (s *Store) ApplySnapshot(ctx context.Context, conversationID string, confirmed []ConfirmedMessage) error {
	if conversationID == "" {
		return ErrConversationRequired
	}

	s.mu.Lock()
	snapshot := make([]ConfirmedMessage, len(confirmed))
	copy(snapshot, confirmed)
	s.confirmed[conversationID] = snapshot

	kept := s.optimistic[conversationID][:0]
	for _, entry := range s.optimistic[conversationID] {
		if containsID(snapshot, entry.CorrelationID) {
			delete(s.byID, entry.CorrelationID)

			continue
		}
		kept = append(kept, entry)
	}
	s.optimistic[conversationID] = kept
	s.mu.Unlock()

	if err := s.cache.Write(ctx, conversationID, snapshot); err != nil {
		return fmt.Errorf("chatsync: refresh cache after snapshot: %w", err)
	}

	return nil
}

// Visible returns the merged, ordered sequence the UI renders for the
// conversation.
func (s *Store) Visible(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	optimistic := make([]OptimisticMessage, 0, len(s.optimistic[conversationID]))
	for _, entry := range s.optimistic[conversationID] {
		optimistic = append(optimistic, *entry)
	}

	return Merge(s.confirmed[conversationID], optimistic)
}

// Open prepares a conversation for rendering. A fresh cache snapshot supplies
// the initial confirmed list so the UI does not wait on a network round-trip;
// the first authoritative snapshot then supersedes it via ApplySnapshot.
func (s *Store) Open(ctx context.Context, conversationID string) ([]Message, CacheOutcome, error) {
	result, err := s.cache.Read(ctx, conversationID)
	if err != nil {
		return nil, CacheMiss, err
	}

	if result.Outcome == CacheHit {
		s.mu.Lock()
		if _, haveLive := s.confirmed[conversationID]; !haveLive {
			s.confirmed[conversationID] = result.Messages
		}
		s.mu.Unlock()
	}

	return s.Visible(conversationID), result.Outcome, nil
}

// Follow subscribes the store to the authoritative stream for the
// conversation and returns the unsubscribe function.
func (s *Store) Follow(conversationID string, subscription Subscription) (func(), error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}

	return subscription.Subscribe(conversationID, func(confirmed []ConfirmedMessage) {
		if err := s.ApplySnapshot(context.Background(), conversationID, confirmed); err != nil {
			s.cfg.Logger.Error("apply snapshot failed",
				"conversation_id", conversationID, "err", err)
		}
	})
}

// QueueStatus reports the UI status for a queued message, and whether the
// correlation ID still has an optimistic entry.
func (s *Store) QueueStatus(id CorrelationID) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return StatusPending, false
	}

	return entry.Status, true
}

// HandleQueueEvent is the processor EventHandler keeping optimistic statuses
// in step with sweep outcomes. Wire it via WithEventHandler.
func (s *Store) HandleQueueEvent(entry QueuedMessage, event QueueEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked, ok := s.byID[entry.CorrelationID]
	if !ok {
		return
	}
	tracked.RetryCount = entry.RetryCount
	tracked.LastAttemptAt = entry.LastAttemptAt

	switch event {
	case EventAttempt, EventDelivered:
		// Delivered entries stay visible as sending until the confirmed
		// snapshot carrying the correlation ID supersedes them.
		tracked.Status = StatusSending
	case EventRetryScheduled:
		tracked.Status = StatusPending
	case EventPermanentFailure:
		tracked.Status = StatusFailed
	}
}

// Discard removes a permanently failed message on explicit request, both from
// the durable queue and from the rendered sequence.
func (s *Store) Discard(ctx context.Context, id CorrelationID) error {
	if err := s.queue.Discard(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)

	kept := s.optimistic[entry.ConversationID][:0]
	for _, candidate := range s.optimistic[entry.ConversationID] {
		if candidate.CorrelationID != id {
			kept = append(kept, candidate)
		}
	}
	s.optimistic[entry.ConversationID] = kept

	return nil
}

// Logout clears the outbound queue and every cached snapshot. Keys persisted
// outside the configured namespace are untouched.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.queue.Clear(ctx); err != nil {
		return err
	}
	if err := s.cache.ClearAll(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.optimistic = make(map[string][]*OptimisticMessage)
	s.byID = make(map[CorrelationID]*OptimisticMessage)
	s.confirmed = make(map[string][]ConfirmedMessage)
	s.mu.Unlock()

	return nil
}

// track registers an optimistic entry; callers hold s.mu.
func (s *Store) track(entry *OptimisticMessage) {
	s.optimistic[entry.ConversationID] = append(s.optimistic[entry.ConversationID], entry)
	s.byID[entry.CorrelationID] = entry
}

func containsID(messages []ConfirmedMessage, id CorrelationID) bool {
	for _, message := range messages {
		if message.CorrelationID == id {
			return true
		}
	}

	return false
}
