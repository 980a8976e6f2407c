package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	defaultCacheTTL   = 24 * time.Hour
	defaultCacheLimit = 30
	cacheKeyInfix     = "/cache/"
)

// CacheOutcome tags the result of a cache read.
type CacheOutcome int

const (
	// CacheMiss indicates no snapshot is stored for the conversation.
	CacheMiss CacheOutcome = iota
	// CacheHit indicates a fresh snapshot was returned.
	CacheHit
	// CacheExpired indicates a snapshot existed but outlived its TTL and was evicted.
	CacheExpired
)

// CacheResult is the tagged outcome of Cache.Read. Messages and CachedAt are
// set only on CacheHit.
type CacheResult struct {
	Outcome  CacheOutcome
	Messages []ConfirmedMessage
	CachedAt time.Time
}

type cacheSnapshot struct {
	Messages []ConfirmedMessage `json:"messages"`
	CachedAt time.Time          `json:"cachedAt"`
}

// CacheConfig defines snapshot retention.
type CacheConfig struct {
	Namespace string
	TTL       time.Duration
	Limit     int
	Clock     Clock
	Logger    Logger
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}
	if c.TTL <= 0 {
		c.TTL = defaultCacheTTL
	}
	if c.Limit <= 0 {
		c.Limit = defaultCacheLimit
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}

	return c
}

// CacheOption configures the conversation cache.
type CacheOption func(*CacheConfig)

// WithCacheNamespace sets the key prefix used in the durable store.
func WithCacheNamespace(namespace string) CacheOption {
	return func(c *CacheConfig) {
		c.Namespace = namespace
	}
}

// WithCacheTTL sets the maximum snapshot age served on read.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CacheConfig) {
		c.TTL = ttl
	}
}

// WithCacheLimit sets how many most-recent messages a snapshot keeps.
func WithCacheLimit(limit int) CacheOption {
	return func(c *CacheConfig) {
		c.Limit = limit
	}
}

// WithCacheClock sets the time source for TTL checks.
func WithCacheClock(clock Clock) CacheOption {
	return func(c *CacheConfig) {
		c.Clock = clock
	}
}

// WithCacheLogger sets the cache logger.
func WithCacheLogger(logger Logger) CacheOption {
	return func(c *CacheConfig) {
		c.Logger = logger
	}
}

// Cache holds per-conversation snapshots of the last confirmed messages so a
// conversation can render instantly on open instead of waiting on the network.
type Cache struct {
	kv  KeyValue
	cfg CacheConfig

	// knownMu tracks conversations written through this instance, used by
	// ClearAll when the store cannot enumerate keys.
	knownMu sync.Mutex
	known   map[string]struct{}
}

// NewCache constructs a conversation cache over the durable store.
func NewCache(kv KeyValue, opts ...CacheOption) (*Cache, error) {
	if kv == nil {
		return nil, ErrStoreRequired
	}

	var cfg CacheConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Cache{
		kv:    kv,
		cfg:   cfg.withDefaults(),
		known: make(map[string]struct{}),
	}, nil
}

// Write stores the most recent messages for the conversation, truncated to the
// configured limit, ascending by timestamp, stamped with the current time.
func (c *Cache) Write(ctx context.Context, conversationID string, messages []ConfirmedMessage) error {
	if conversationID == "" {
		return ErrConversationRequired
	}

	sorted := make([]ConfirmedMessage, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SentAt.Before(sorted[j].SentAt)
	})
	if len(sorted) > c.cfg.Limit {
		sorted = sorted[len(sorted)-c.cfg.Limit:]
	}

	raw, err := json.Marshal(cacheSnapshot{Messages: sorted, CachedAt: c.cfg.Clock.Now()})
	if err != nil {
		return fmt.Errorf("chatsync: encode cache snapshot: %w", err)
	}
	if err := c.kv.Set(ctx, c.key(conversationID), raw); err != nil {
		return fmt.Errorf("chatsync: write cache snapshot: %w", err)
	}

	c.knownMu.Lock()
	c.known[conversationID] = struct{}{}
	c.knownMu.Unlock()

	return nil
}

// Read returns the stored snapshot if it is younger than the TTL. An expired
// snapshot is evicted and reported as CacheExpired even though the raw bytes
// were still present. A corrupt snapshot is evicted and reported as a miss.
func (c *Cache) Read(ctx context.Context, conversationID string) (CacheResult, error) {
	if conversationID == "" {
		return CacheResult{}, ErrConversationRequired
	}

	key := c.key(conversationID)
	raw, err := c.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return CacheResult{Outcome: CacheMiss}, nil
	}
	if err != nil {
		return CacheResult{}, fmt.Errorf("chatsync: read cache snapshot: %w", err)
	}

	var snapshot cacheSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		c.cfg.Logger.Error("cache snapshot corrupted, evicting",
			"conversation_id", conversationID, "err", err)
		if removeErr := c.kv.Remove(ctx, key); removeErr != nil {
			return CacheResult{}, fmt.Errorf("chatsync: evict corrupted snapshot: %w", removeErr)
		}

		return CacheResult{Outcome: CacheMiss}, nil
	}

	if c.cfg.Clock.Now().Sub(snapshot.CachedAt) > c.cfg.TTL {
		if err := c.kv.Remove(ctx, key); err != nil {
			return CacheResult{}, fmt.Errorf("chatsync: evict expired snapshot: %w", err)
		}

		return CacheResult{Outcome: CacheExpired}, nil
	}

	return CacheResult{
		Outcome:  CacheHit,
		Messages: snapshot.Messages,
		CachedAt: snapshot.CachedAt,
	}, nil
}

// Clear removes the snapshot for one conversation.
func (c *Cache) Clear(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return ErrConversationRequired
	}
	if err := c.kv.Remove(ctx, c.key(conversationID)); err != nil {
		return fmt.Errorf("chatsync: clear cache snapshot: %w", err)
	}

	return nil
}

// ClearAll removes every snapshot, e.g. on logout. Keys outside the cache
// namespace are untouched. Stores implementing KeyLister are enumerated;
// otherwise only conversations written through this instance are cleared.
func (c *Cache) ClearAll(ctx context.Context) error {
	keys, err := c.allKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.kv.RemoveMany(ctx, keys); err != nil {
		return fmt.Errorf("chatsync: clear cache: %w", err)
	}

	c.knownMu.Lock()
	c.known = make(map[string]struct{})
	c.knownMu.Unlock()

	return nil
}

func (c *Cache) allKeys(ctx context.Context) ([]string, error) {
	if lister, ok := c.kv.(KeyLister); ok {
		keys, err := lister.Keys(ctx, c.cfg.Namespace+cacheKeyInfix)
		if err != nil {
			return nil, fmt.Errorf("chatsync: list cache keys: %w", err)
		}

		return keys, nil
	}

	c.knownMu.Lock()
	defer c.knownMu.Unlock()

	keys := make([]string, 0, len(c.known))
	for conversationID := range c.known {
		keys = append(keys, c.key(conversationID))
	}

	return keys, nil
}

func (c *Cache) key(conversationID string) string {
	return c.cfg.Namespace + cacheKeyInfix + conversationID
}
