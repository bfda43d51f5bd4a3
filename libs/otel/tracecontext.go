package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is the W3C trace context persisted with outbox rows so the
// relay can continue the trace of the request that wrote them.
type TraceContext struct {
	Parent string
	State  string
}

func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Parent: carrier["traceparent"], State: carrier["tracestate"]}
}

// Into returns ctx carrying tc as its remote parent. An empty tc leaves ctx unchanged.
func (tc TraceContext) Into(ctx context.Context) context.Context {
	if tc.Parent == "" && tc.State == "" {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{
		"traceparent": tc.Parent,
		"tracestate":  tc.State,
	})
}
