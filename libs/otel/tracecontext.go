package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// StoredTrace is W3C trace context serialized for storage next to a row, so a
// background worker can continue the trace of the request that wrote it.
type StoredTrace struct {
	Parent string
	State  string
}

func CaptureTrace(ctx context.Context) StoredTrace {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return StoredTrace{Parent: carrier["traceparent"], State: carrier["tracestate"]}
}

func (t StoredTrace) Restore(ctx context.Context) context.Context {
	if t.Parent == "" && t.State == "" {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{
		"traceparent": t.Parent,
		"tracestate":  t.State,
	})
}
