package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"enrollsync/internal/logger"
	"enrollsync/pkg/logging"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var traceID string
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) {
		traceID = logging.GetTraceID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	t.Run("propagates incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(RequestIDHeader, "req-1")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
		assert.Equal(t, "req-1", traceID)
	})

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

		assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
		assert.Equal(t, rec.Header().Get(RequestIDHeader), traceID)
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RecoveryMiddleware(logger.NopLogger()))
	r.GET("/boom", func(c *gin.Context) {
		var m map[string]int
		m["x"] = 1
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error_code":"INTERNAL_ERROR"`)
}
