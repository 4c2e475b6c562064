// Package events publishes ledger facts (payments, enrolments, rollovers) to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event type identifiers. The routing key on the wire is always the configured queue name.
const (
	TypeStudentEnrolled   = "student.enrolled"
	TypeInstallmentPaid   = "student.installment_paid"
	TypeStudentPromoted   = "student.promoted"
	TypeStudentDeleted    = "student.deleted"
	TypeExtraFeeCreated   = "extra_fee.created"
	TypeExtraFeePaid      = "extra_fee.paid"
	TypeExtraFeeDeleted   = "extra_fee.deleted"
	TypeRolloverCompleted = "academic_year.rollover_completed"
)

// Event is a lightweight notification; consumers reload full state from the API.
type Event struct {
	Type      string                 `json:"type"`
	EntityID  string                 `json:"entityId"`
	ActorID   string                 `json:"actorId,omitempty"`
	Amount    int64                  `json:"amount,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// New stamps an event with the current time.
func New(eventType, entityID, actorID string) Event {
	return Event{Type: eventType, EntityID: entityID, ActorID: actorID, Timestamp: time.Now().UTC()}
}

// ToJSON converts the event to JSON bytes.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON decodes an event.
func FromJSON(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                          { return nil }
