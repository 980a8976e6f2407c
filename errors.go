package chatsync

import "errors"

var (
	// ErrNotFound signals that a key has no value in the durable store.
	ErrNotFound = errors.New("chatsync: key not found")
	// ErrConversationRequired is returned when a conversation ID is empty.
	ErrConversationRequired = errors.New("chatsync: conversation id is required")
	// ErrBodyRequired is returned when a message body is empty.
	ErrBodyRequired = errors.New("chatsync: message body is required")
	// ErrDuplicateCorrelationID indicates the queue already holds a live entry for the ID.
	ErrDuplicateCorrelationID = errors.New("chatsync: duplicate correlation id")
	// ErrEntryNotQueued indicates no queue entry exists for the correlation ID.
	ErrEntryNotQueued = errors.New("chatsync: entry is not queued")
	// ErrStoreRequired indicates a nil durable store was supplied.
	ErrStoreRequired = errors.New("chatsync: key-value store is required")
	// ErrGatewayRequired indicates a nil send gateway was supplied.
	ErrGatewayRequired = errors.New("chatsync: send gateway is required")
	// ErrMigrationOrder indicates migration steps are not consecutively versioned.
	ErrMigrationOrder = errors.New("chatsync: migration steps must have consecutive versions starting at 1")
	// ErrSchemaDowngrade indicates the persisted schema is newer than this build understands.
	ErrSchemaDowngrade = errors.New("chatsync: persisted schema version is newer than supported")
)
