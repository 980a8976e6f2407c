package chatsync

import "context"

// Gateway delivers one message to the remote store.
//
// Send may be invoked more than once for the same correlation ID when an
// acknowledgement is lost after the remote side persisted the message; the
// gateway is expected to deduplicate by correlation ID. This package only
// guarantees at-least-once delivery.
type Gateway interface {
	// Send delivers the payload and returns an error on failure.
	Send(ctx context.Context, conversationID string, body string, correlationID CorrelationID) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, conversationID string, body string, correlationID CorrelationID) error

// Send implements Gateway.
func (fn GatewayFunc) Send(ctx context.Context, conversationID string, body string, correlationID CorrelationID) error {
	return fn(ctx, conversationID, body, correlationID)
}

// Subscription supplies the authoritative confirmed-message stream for a
// conversation. The callback receives full snapshots in remote order.
type Subscription interface {
	// Subscribe registers onSnapshot and returns an unsubscribe function.
	Subscribe(conversationID string, onSnapshot func([]ConfirmedMessage)) (func(), error)
}
