package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestActorIDFallsBackToSystem(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "system", ActorID(ctx))

	ctx = WithUser(ctx, &UserContext{UserID: "picker-7"})
	assert.Equal(t, "picker-7", ActorID(ctx))
}

func TestHasPermission(t *testing.T) {
	ctx := context.Background()
	assert.False(t, HasPermission(ctx, "inventory.allocate"))

	ctx = WithUser(ctx, &UserContext{UserID: "u1", Permissions: []string{"inventory.allocate"}})
	assert.True(t, HasPermission(ctx, "inventory.allocate"))
	assert.False(t, HasPermission(ctx, "inventory.adjust"))

	admin := WithUser(context.Background(), &UserContext{UserID: "root", IsAdmin: true})
	assert.True(t, HasPermission(admin, "inventory.adjust"))
}

func TestNewTraceFillsMissingIDs(t *testing.T) {
	tr := NewTrace(context.Background(), "", "")
	assert.NotEmpty(t, tr.TraceID)
	assert.NotEmpty(t, tr.RequestID)

	tr = NewTrace(context.Background(), "req-1", "caller-trace")
	assert.Equal(t, Trace{TraceID: "caller-trace", RequestID: "req-1"}, tr)

	_, ok := TraceFrom(context.Background())
	assert.False(t, ok)
	assert.Empty(t, RequestID(context.Background()))

	ctx := WithTrace(context.Background(), tr)
	assert.Equal(t, "req-1", RequestID(ctx))
}

func TestNewTracePrefersSpanTraceID(t *testing.T) {
	traceID := oteltrace.TraceID{0x0a, 0x0b, 0x0c, 0x01}
	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  oteltrace.SpanID{0x01},
	})
	ctx := oteltrace.ContextWithSpanContext(context.Background(), sc)

	tr := NewTrace(ctx, "req-2", "ignored")
	assert.Equal(t, traceID.String(), tr.TraceID)
	assert.Equal(t, "req-2", tr.RequestID)
}
