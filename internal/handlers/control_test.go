package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgevod/proxy/internal/cache"
	"github.com/edgevod/proxy/internal/capacity"
	"github.com/edgevod/proxy/internal/config"
)

func init() { gin.SetMode(gin.TestMode) }

func testControlHandler(t *testing.T) *ControlHandler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Cache: config.CacheConfig{Mode: config.ModeMemory, TTL: time.Minute, CheckPeriod: time.Minute, MaxItems: 100, MaxSize: 1 << 20},
	}
	cacheMgr := cache.NewManager(logger, cfg)
	if err := cacheMgr.Initialize(context.Background()); err != nil {
		t.Fatalf("cacheMgr.Initialize: %v", err)
	}
	capacityMgr := capacity.NewManager(logger, cacheMgr, time.Hour, 85, 90)
	return NewControlHandler(logger, cacheMgr, capacityMgr, "test-version")
}

func doRequest(handler gin.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	c.Request = httptest.NewRequest(method, path, reqBody)
	if body != "" {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	handler(c)
	return w
}

func TestControlRoot(t *testing.T) {
	h := testControlHandler(t)
	w := doRequest(h.Root, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
}

func TestControlStatus(t *testing.T) {
	h := testControlHandler(t)
	w := doRequest(h.Status, http.MethodGet, "/_control/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["cache_mode"] != "memory" {
		t.Errorf("cache_mode = %v, want memory", body["cache_mode"])
	}
}

func TestControlCacheClear(t *testing.T) {
	h := testControlHandler(t)
	w := doRequest(h.CacheClear, http.MethodPost, "/_control/cache/clear", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestControlCacheSwitchRejectsUnknownMode(t *testing.T) {
	h := testControlHandler(t)
	w := doRequest(h.CacheSwitch, http.MethodPost, "/_control/cache/switch", `{"mode":"not-a-real-mode"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an unknown cache mode", w.Code)
	}
}

func TestControlCacheSwitchAcceptsMemory(t *testing.T) {
	h := testControlHandler(t)
	w := doRequest(h.CacheSwitch, http.MethodPost, "/_control/cache/switch", `{"mode":"memory"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
}

func TestControlCacheHealth(t *testing.T) {
	h := testControlHandler(t)
	w := doRequest(h.CacheHealth, http.MethodGet, "/_control/cache/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a healthy memory backend", w.Code)
	}
}
