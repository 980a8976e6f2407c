package chatsync

// Status represents the delivery state of a queued message as shown to the UI.
type Status int16

const (
	// StatusPending indicates the message is queued and waiting for an attempt.
	StatusPending Status = 0
	// StatusSending indicates a send attempt is currently in flight.
	StatusSending Status = 1
	// StatusFailed indicates the message exhausted its retry budget.
	StatusFailed Status = -1
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// DeliveryState is the remote-owned progression of a confirmed message.
type DeliveryState int16

const (
	// DeliverySent indicates the remote store accepted the message.
	DeliverySent DeliveryState = 0
	// DeliveryDelivered indicates the recipient device received the message.
	DeliveryDelivered DeliveryState = 1
	// DeliveryRead indicates the recipient read the message.
	DeliveryRead DeliveryState = 2
)
