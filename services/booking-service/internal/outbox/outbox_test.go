package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/reluam/pokrok.app-sub006/libs/kafkax"
	otelx "github.com/reluam/pokrok.app-sub006/libs/otel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent("booking", "b-1", BookingCreated, map[string]string{"booking_id": "b-1"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if evt.EventType != BookingCreated || payload["booking_id"] != "b-1" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if _, err := NewEvent("booking", "b-1", BookingCreated, make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestToMessageRestoresTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	parent := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	msg := toMessage(context.Background(), Record{
		EventID:       "e-1",
		AggregateType: "booking",
		AggregateID:   "b-1",
		EventType:     BookingCreated,
		Payload:       []byte(`{}`),
		Trace:         otelx.StoredTrace{Parent: parent},
	})
	if msg.Topic != BookingCreated || string(msg.Key) != "b-1" {
		t.Fatalf("unexpected routing topic=%s key=%s", msg.Topic, msg.Key)
	}
	if got := kafkax.HeaderValue(msg.Headers, "event_id"); got != "e-1" {
		t.Fatalf("expected event_id header, got %q", got)
	}
	if got := kafkax.HeaderValue(msg.Headers, "traceparent"); got != parent {
		t.Fatalf("expected traceparent %q, got %q", parent, got)
	}
}
