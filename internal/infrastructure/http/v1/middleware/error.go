package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wmsledger/internal/core/apperror"
	"wmsledger/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, body := ErrorResponse(err, c.GetString("request_id"))
		if status >= http.StatusInternalServerError {
			logger.Error(c.Request.Context(), "request failed", "status", status, "error", err)
		} else if appErr, ok := apperror.AsAppError(err); ok && appErr.Err != nil {
			logger.Warn(c.Request.Context(), "request error", "code", appErr.Code, "cause", appErr.Err)
		}
		c.JSON(status, body)
	}
}

// ErrorResponse renders err the way clients see it. Unknown errors become a
// generic internal error carrying only the request id.
func ErrorResponse(err error, requestID string) (int, gin.H) {
	if appErr, ok := apperror.AsAppError(err); ok {
		body := gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
			"details": appErr.Details,
		}
		if appErr.Retryable() {
			body["retryable"] = true
		}
		return appErr.HTTPStatus, body
	}
	return http.StatusInternalServerError, gin.H{
		"code":    apperror.CodeInternal,
		"message": "Internal server error",
		"details": map[string]any{
			"request_id": requestID,
		},
	}
}
