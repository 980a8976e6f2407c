package chatsync

import (
	"fmt"

	"github.com/google/uuid"
)

// CorrelationID unifies an optimistic entry, its queue entry, and the eventual
// confirmed record. It is client-generated and unique per submission.
type CorrelationID string

// IsZero reports whether the ID is empty.
func (id CorrelationID) IsZero() bool {
	return id == ""
}

// String returns the ID as a plain string.
func (id CorrelationID) String() string {
	return string(id)
}

// IDGenerator creates new correlation identifiers.
type IDGenerator interface {
	// New returns a new identifier.
	New() (CorrelationID, error)
}

// UUIDv7Generator produces time-ordered UUID v7 correlation IDs.
type UUIDv7Generator struct{}

// New creates a new UUID v7 correlation ID.
func (UUIDv7Generator) New() (CorrelationID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("chatsync: generate correlation id: %w", err)
	}

	return CorrelationID(id.String()), nil
}
