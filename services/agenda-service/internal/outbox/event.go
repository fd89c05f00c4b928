package outbox

import (
	"encoding/json"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	TypeAppointmentBooked        = "agenda.appointment.booked.v1"
	TypeAppointmentRescheduled   = "agenda.appointment.rescheduled.v1"
	TypeAppointmentStatusChanged = "agenda.appointment.status_changed.v1"
	TypeAppointmentCancelled     = "agenda.appointment.cancelled.v1"
	TypeSubscriptionExtended     = "agenda.subscription.extended.v1"
)

// NewEvent marshals payload into an event envelope.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       b,
	}, nil
}
