package sqlitekv_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velmie/chatsync"
	"github.com/velmie/chatsync/sqlitekv"
)

func openTestStore(t *testing.T) *sqlitekv.Store {
	t.Helper()

	ctx := context.Background()
	store, err := sqlitekv.Open(ctx, filepath.Join(t.TempDir(), "chatsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestStoreSetGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "chatsync/outbox", []byte(`[{"id":1}]`)))

	value, err := store.Get(ctx, "chatsync/outbox")
	require.NoError(t, err)
	require.Equal(t, []byte(`[{"id":1}]`), value)

	// Overwrite replaces the previous value.
	require.NoError(t, store.Set(ctx, "chatsync/outbox", []byte(`[]`)))
	value, err = store.Get(ctx, "chatsync/outbox")
	require.NoError(t, err)
	require.Equal(t, []byte(`[]`), value)
}

func TestStoreGetMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "absent")
	require.ErrorIs(t, err, chatsync.ErrNotFound)
}

func TestStoreRemove(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "key", []byte("value")))
	require.NoError(t, store.Remove(ctx, "key"))

	_, err := store.Get(ctx, "key")
	require.ErrorIs(t, err, chatsync.ErrNotFound)

	// Removing an absent key is not an error.
	require.NoError(t, store.Remove(ctx, "key"))
}

func TestStoreRemoveMany(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, store.Set(ctx, key, []byte(key)))
	}
	require.NoError(t, store.RemoveMany(ctx, []string{"a", "c", "missing"}))

	_, err := store.Get(ctx, "a")
	require.ErrorIs(t, err, chatsync.ErrNotFound)
	value, err := store.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, []byte("b"), value)

	require.NoError(t, store.RemoveMany(ctx, nil))
}

func TestStoreKeysByPrefix(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, key := range []string{
		"chatsync/cache/conv-1",
		"chatsync/cache/conv-2",
		"chatsync/outbox",
		"prefs/theme",
	} {
		require.NoError(t, store.Set(ctx, key, []byte("x")))
	}

	keys, err := store.Keys(ctx, "chatsync/cache/")
	require.NoError(t, err)
	require.Equal(t, []string{"chatsync/cache/conv-1", "chatsync/cache/conv-2"}, keys)
}

func TestStoreKeysEscapesLikeWildcards(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a%b/key", []byte("x")))
	require.NoError(t, store.Set(ctx, "axb/key", []byte("x")))

	keys, err := store.Keys(ctx, "a%b/")
	require.NoError(t, err)
	require.Equal(t, []string{"a%b/key"}, keys)
}

func TestNewStoreValidation(t *testing.T) {
	_, err := sqlitekv.NewStore(nil)
	require.ErrorIs(t, err, sqlitekv.ErrDBRequired)

	_, err = sqlitekv.Open(context.Background(), filepath.Join(t.TempDir(), "x.db"),
		sqlitekv.WithTable("drop table;"))
	require.True(t, errors.Is(err, sqlitekv.ErrInvalidTable))
}

func TestStoreBacksChatsyncCore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	queue, err := chatsync.NewOutbox(store)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(ctx, chatsync.QueuedMessage{
		CorrelationID:  "msg-1",
		ConversationID: "conv-1",
		Body:           "persisted through sqlite",
	}))

	// A second outbox over the same database sees the durable entry, as a
	// restarted process would.
	reopened, err := chatsync.NewOutbox(store)
	require.NoError(t, err)
	entries, err := reopened.PeekAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, chatsync.CorrelationID("msg-1"), entries[0].CorrelationID)
}
