// Package events publishes credit notifications for the messaging service.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const subjectPrefix = "nerdx.credits."

type Type string

const (
	TypeDeducted     Type = "deducted"
	TypeRefunded     Type = "refunded"
	TypeToppedUp     Type = "topped_up"
	TypeGranted      Type = "granted"
	TypeInsufficient Type = "insufficient"
	TypeLowBalance   Type = "low"
)

// Subject is the NATS subject an event of this type goes to.
func (t Type) Subject() string {
	return subjectPrefix + string(t)
}

// Event is the JSON envelope on the wire.
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Action        string    `json:"action,omitempty"`
	Amount        int64     `json:"amount"`
	Balance       int64     `json:"balance"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func New(t Type, userID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type noopPublisher struct{}

// Noop drops every event.
func Noop() Publisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, Event) error { return nil }
func (noopPublisher) Close() error                         { return nil }
