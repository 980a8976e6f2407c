package chatsync

import "context"

// KeyValue is the durable persistence primitive backing the outbound queue,
// the conversation cache, and the schema version. Implementations must be
// safe for concurrent use.
type KeyValue interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// RemoveMany deletes all the given keys.
	RemoveMany(ctx context.Context, keys []string) error
}

// KeyLister is an optional KeyValue capability for enumerating keys by prefix.
// Cache.ClearAll uses it when available.
type KeyLister interface {
	// Keys returns every stored key that begins with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
