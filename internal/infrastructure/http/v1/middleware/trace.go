package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	appctx "wmsledger/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

var httpTracer = otel.Tracer("wmsledger/http")

// Trace middleware starts the request span and adds request ids to the
// context. An incoming traceparent header continues the caller's trace.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := httpTracer.Start(ctx, c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		t := appctx.NewTrace(ctx, c.GetHeader(HeaderRequestID), c.GetHeader(HeaderTraceID))
		span.SetAttributes(attribute.String("request.id", t.RequestID))
		c.Request = c.Request.WithContext(appctx.WithTrace(ctx, t))

		c.Set("trace_id", t.TraceID)
		c.Set("request_id", t.RequestID)
		c.Header(HeaderRequestID, t.RequestID)
		c.Header(HeaderTraceID, t.TraceID)

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}
