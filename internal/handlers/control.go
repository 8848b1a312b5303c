package handlers

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/edgevod/proxy/internal/apierror"
	"github.com/edgevod/proxy/internal/cache"
	"github.com/edgevod/proxy/internal/capacity"
)

// ControlHandler exposes the operator-facing surface: process status,
// cache statistics, and the runtime cache-management operations (clear,
// switch backend, health).
type ControlHandler struct {
	logger    *slog.Logger
	cacheMgr  *cache.Manager
	capacity  *capacity.Manager
	startedAt time.Time
	version   string
}

func NewControlHandler(logger *slog.Logger, cacheMgr *cache.Manager, capacityMgr *capacity.Manager, version string) *ControlHandler {
	return &ControlHandler{
		logger:    logger,
		cacheMgr:  cacheMgr,
		capacity:  capacityMgr,
		startedAt: time.Now(),
		version:   version,
	}
}

// Root answers a bare GET / with a short self-description, so a curl
// against the base URL is informative rather than a 404.
func (h *ControlHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "edgevod-proxy",
		"version": h.version,
	})
}

func (h *ControlHandler) Status(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, gin.H{
		"version":     h.version,
		"uptime":      time.Since(h.startedAt).String(),
		"cache_mode":  string(h.cacheMgr.Mode()),
		"fell_back":   h.cacheMgr.FellBack(),
		"memory_used": humanize.Bytes(mem.Alloc),
		"goroutines":  runtime.NumGoroutine(),
	})
}

func (h *ControlHandler) CacheStats(c *gin.Context) {
	stats := h.cacheMgr.GetStats(c.Request.Context())
	snapshot := h.capacity.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"mode":             stats.Mode,
		"hits":             stats.Hits,
		"misses":           stats.Misses,
		"errors":           stats.Errors,
		"connected":        stats.Connected,
		"hit_ratio":        stats.HitRatio(),
		"last_cycle":       snapshot.LastCycle,
		"migrated_total":   snapshot.MigratedTotal,
		"migrate_failures": snapshot.MigrateFailures,
		"evicted_total":    snapshot.EvictedTotal,
	})
}

func (h *ControlHandler) CacheClear(c *gin.Context) {
	if !h.cacheMgr.Clear(c.Request.Context()) {
		apierror.Write(c, apierror.New(apierror.OriginFailure, "cache clear failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

type switchRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// CacheSwitch changes the active cache backend at runtime. It falls back
// to memory internally if the requested backend fails to initialize, so
// a non-2xx response here means even the fallback failed.
func (h *ControlHandler) CacheSwitch(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Write(c, apierror.Wrap(apierror.BadRequest, "invalid switch request", err))
		return
	}

	mode := cache.Mode(req.Mode)
	switch mode {
	case cache.ModeMemory, cache.ModeL1, cache.ModeL2, cache.ModeHybrid:
	default:
		apierror.Write(c, apierror.New(apierror.BadRequest, "unknown cache mode: "+req.Mode))
		return
	}

	if err := h.cacheMgr.SwitchBackend(c.Request.Context(), mode); err != nil {
		apierror.Write(c, apierror.Wrap(apierror.OriginFailure, "cache backend switch failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": string(h.cacheMgr.Mode()), "fell_back": h.cacheMgr.FellBack()})
}

func (h *ControlHandler) CacheHealth(c *gin.Context) {
	healthy := h.cacheMgr.IsHealthy(c.Request.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":     healthy,
		"mode":        string(h.cacheMgr.Mode()),
		"initialized": h.cacheMgr.Initialized(),
	})
}
