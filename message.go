package chatsync

import "time"

// QueuedMessage is a durably stored, not-yet-confirmed send.
type QueuedMessage struct {
	// CorrelationID uniquely identifies the send across queue, UI, and remote store.
	CorrelationID CorrelationID `json:"correlationId"`
	// ConversationID names the conversation the message belongs to.
	ConversationID string `json:"conversationId"`
	// Body is the message payload. It never changes once queued.
	Body string `json:"body"`
	// CreatedAt is when the user submitted the message.
	CreatedAt time.Time `json:"createdAt"`
	// RetryCount is the number of failed send attempts so far.
	RetryCount int `json:"retryCount"`
	// LastAttemptAt is the time of the most recent attempt; zero if never attempted.
	LastAttemptAt time.Time `json:"lastAttemptAt,omitzero"`
}

// Validate checks required fields.
func (m QueuedMessage) Validate() error {
	if m.CorrelationID.IsZero() {
		return ErrEntryNotQueued
	}
	if m.ConversationID == "" {
		return ErrConversationRequired
	}
	if m.Body == "" {
		return ErrBodyRequired
	}

	return nil
}

// ConfirmedMessage is an authoritative record from the remote message stream.
// The payload is immutable; Delivery advances sent -> delivered -> read and is
// owned by collaborators outside this package.
type ConfirmedMessage struct {
	CorrelationID  CorrelationID `json:"correlationId"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Body           string        `json:"body"`
	SentAt         time.Time     `json:"sentAt"`
	Delivery       DeliveryState `json:"delivery"`
}

// Message is one entry of the merged sequence the UI renders: either a
// confirmed message or a surviving optimistic one.
type Message struct {
	CorrelationID  CorrelationID
	ConversationID string
	SenderID       string
	Body           string
	Timestamp      time.Time
	// Confirmed reports whether the entry came from the authoritative stream.
	Confirmed bool
	// Status is meaningful only for unconfirmed entries.
	Status Status
	// Delivery is meaningful only for confirmed entries.
	Delivery DeliveryState
}
