package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestWithLoggingGeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	w := httptest.NewRecorder()
	r := gin.New()
	r.Use(WithLogging(logger))
	r.GET("/v/vod/a.ts", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v/vod/a.ts", nil))

	reqID := w.Header().Get(RequestIDHeader)
	if reqID == "" {
		t.Fatal("expected a generated request ID header when none was supplied")
	}
	if !strings.Contains(buf.String(), reqID) {
		t.Errorf("expected log line to include request id %q, got %q", reqID, buf.String())
	}
}

func TestWithLoggingPreservesIncomingRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	w := httptest.NewRecorder()
	r := gin.New()
	r.Use(WithLogging(logger))
	r.GET("/v/vod/a.ts", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/v/vod/a.ts", nil)
	req.Header.Set(RequestIDHeader, "fixed-id-123")
	r.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "fixed-id-123" {
		t.Errorf("request id = %q, want fixed-id-123 (client-supplied id must be preserved)", got)
	}
}
