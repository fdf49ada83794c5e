package outbox

import "encoding/json"

// Event is the envelope written to the outbox table in the same transaction
// as the change it describes. The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	BookingCreated       = "booking.booking.created.v1"
	BookingStatusChanged = "booking.booking.status_changed.v1"
	SessionScheduled     = "booking.session.scheduled.v1"
	SessionRescheduled   = "booking.session.rescheduled.v1"
)

// NewEvent marshals payload into an Event.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
