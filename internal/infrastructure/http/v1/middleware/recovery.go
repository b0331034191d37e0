// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"wmsledger/internal/core/apperror"
	"wmsledger/pkg/logger"
)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR. The stack goes
// to the log and the request span, never to the client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			ctx := c.Request.Context()
			cause := fmt.Errorf("panic: %v", r)

			span := trace.SpanFromContext(ctx)
			span.RecordError(cause, trace.WithStackTrace(true))
			span.SetStatus(codes.Error, "panic")

			logger.Error(ctx, "panic recovered",
				"route", c.FullPath(),
				"method", c.Request.Method,
				"error", r,
				"stack", string(debug.Stack()),
			)

			// The panic unwound ErrorHandler, so the response is written here.
			_ = c.Error(cause)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			status, body := ErrorResponse(apperror.NewInternal(cause).WithDetail("request_id", c.GetString("request_id")), "")
			c.AbortWithStatusJSON(status, body)
		}()
		c.Next()
	}
}
