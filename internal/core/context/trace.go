package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Trace ties log lines and audit rows to the request that caused them.
type Trace struct {
	TraceID   string
	RequestID string
}

type traceKey struct{}

// NewTrace builds the Trace for work running under ctx. The trace id of an
// active span wins over fallbackTraceID; ids still empty are generated.
func NewTrace(ctx context.Context, requestID, fallbackTraceID string) Trace {
	t := Trace{TraceID: fallbackTraceID, RequestID: requestID}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		t.TraceID = sc.TraceID().String()
	}
	if t.TraceID == "" {
		t.TraceID = uuid.NewString()
	}
	if t.RequestID == "" {
		t.RequestID = uuid.NewString()
	}
	return t
}

// WithTrace stores t in ctx.
func WithTrace(ctx context.Context, t Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// TraceFrom returns the Trace stored in ctx.
func TraceFrom(ctx context.Context) (Trace, bool) {
	t, ok := ctx.Value(traceKey{}).(Trace)
	return t, ok
}

// RequestID returns the request id of ctx, or "".
func RequestID(ctx context.Context) string {
	t, _ := TraceFrom(ctx)
	return t.RequestID
}
