package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"enrollsync/internal/logger"
	apperrors "enrollsync/pkg/errors"
	"enrollsync/pkg/logging"
)

const (
	RequestIDHeader = "X-Request-ID"
	// UserIDHeader names the operator behind a management call.
	UserIDHeader = "X-User-ID"

	requestIDKey = "request_id"
)

// LoggerMiddleware writes one access line per request. Server errors are
// logged at error level with whatever the handlers attached to c.Errors.
func LoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path += "?" + raw
		}
		status := c.Writer.Status()

		fields := []interface{}{
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"request_id", c.GetString(requestIDKey),
		}
		if user := c.GetHeader(UserIDHeader); user != "" {
			fields = append(fields, "user_id", user)
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			fields = append(fields, "error", msg)
		}

		ctx := c.Request.Context()
		if status >= http.StatusInternalServerError {
			log.ErrorwCtx(ctx, "HTTP request", fields...)
			return
		}
		log.InfowCtx(ctx, "HTTP request", fields...)
	}
}

// RecoveryMiddleware answers a panicking handler with the standard error
// body instead of gin's bare 500.
func RecoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := apperrors.RecoverPanic(recovered)
		log.ErrorwCtx(c.Request.Context(), "Panic recovered",
			"error", err,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.ToErrorResponse(apperrors.ErrInternal))
	})
}

// RequestIDMiddleware propagates X-Request-ID and stores it as the trace id
// on the request context so service-level logs can be correlated.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(logging.WithTraceID(c.Request.Context(), requestID))
		c.Next()
	}
}
