// Package notify fans out pool-engine notifications to realtime clients
// and downstream consumers.
//
// Publishing is fire-and-forget: a full buffer or a broken sink drops the
// notification and never fails or delays the operation that produced it.
// Notifications are only published after the store transaction commits.
package notify

import (
	"context"
	"time"
)

// Notification types.
const (
	ParticipantJoined   = "participant_joined"
	ParticipantsMatched = "participants_matched"
	EventResultDeclared = "event_result_declared"
	EventSettled        = "event_settled"
	EventCancelled      = "event_cancelled"
)

// Notification is one outbound message.
type Notification struct {
	Type      string    `json:"type"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New stamps a notification with the current UTC time.
func New(notificationType, eventID string, payload any) Notification {
	return Notification{
		Type:      notificationType,
		EventID:   eventID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher accepts notifications without blocking.
type Publisher interface {
	Publish(ctx context.Context, n Notification)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Publish(context.Context, Notification) {}

// Multi publishes to every sink in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, n Notification) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, n)
		}
	}
}
