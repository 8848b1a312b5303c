package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HybridBackend composes an L1 (fast) and L2 (persistent) backend with
// read-through and write-both semantics. Promotions from L2 back into L1
// are fire-and-forget but run inside a bounded task group so Close can
// await or cut off in-flight promotions instead of leaking goroutines.
type HybridBackend struct {
	logger *slog.Logger
	l1     Backend
	l2     Backend

	promotions   sync.WaitGroup
	promoteLimit chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func NewHybridBackend(logger *slog.Logger, l1, l2 Backend) *HybridBackend {
	return &HybridBackend{
		logger:       logger,
		l1:           l1,
		l2:           l2,
		promoteLimit: make(chan struct{}, 32),
		closed:       make(chan struct{}),
	}
}

// Initialize connects both tiers in parallel and tolerates either failing;
// it is fatal only if both fail.
func (h *HybridBackend) Initialize(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	var l1Err, l2Err error
	g.Go(func() error { l1Err = h.l1.Initialize(gctx); return nil })
	g.Go(func() error { l2Err = h.l2.Initialize(gctx); return nil })
	_ = g.Wait()

	if l1Err != nil {
		h.logger.Warn("hybrid backend: L1 init failed", "error", l1Err)
	}
	if l2Err != nil {
		h.logger.Warn("hybrid backend: L2 init failed", "error", l2Err)
	}
	if l1Err != nil && l2Err != nil {
		return l2Err
	}
	return nil
}

func (h *HybridBackend) Get(ctx context.Context, key string) (*Item, bool) {
	if item, ok := h.l1.Get(ctx, key); ok {
		return item, true
	}
	item, ok := h.l2.Get(ctx, key)
	if !ok {
		return nil, false
	}
	h.promote(key, item)
	return item, true
}

// promote fires a detached Set into L1 with the remaining TTL capped at
// the L2 item's own expiresAt, so promotion never extends effective
// lifetime beyond what L2 already promised.
func (h *HybridBackend) promote(key string, item *Item) {
	select {
	case <-h.closed:
		return
	case h.promoteLimit <- struct{}{}:
	default:
		return // promotion queue saturated; skip rather than block the read path
	}

	h.promotions.Add(1)
	go func() {
		defer h.promotions.Done()
		defer func() { <-h.promoteLimit }()

		remaining := time.Until(item.ExpiresAt)
		if remaining < time.Second {
			remaining = time.Second
		}
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.l1.Set(pctx, key, item.Data, SetOptions{
			TTL:          remaining,
			ContentType:  item.ContentType,
			ETag:         item.ETag,
			LastModified: item.LastModified,
		})
	}()
}

func (h *HybridBackend) Set(ctx context.Context, key string, data []byte, opts SetOptions) bool {
	g, gctx := errgroup.WithContext(ctx)
	var l1ok, l2ok bool
	g.Go(func() error { l1ok = h.l1.Set(gctx, key, data, opts); return nil })
	g.Go(func() error { l2ok = h.l2.Set(gctx, key, data, opts); return nil })
	_ = g.Wait()
	return l1ok || l2ok
}

func (h *HybridBackend) Delete(ctx context.Context, key string) bool {
	g, gctx := errgroup.WithContext(ctx)
	var l1ok, l2ok bool
	g.Go(func() error { l1ok = h.l1.Delete(gctx, key); return nil })
	g.Go(func() error { l2ok = h.l2.Delete(gctx, key); return nil })
	_ = g.Wait()
	return l1ok || l2ok
}

func (h *HybridBackend) Exists(ctx context.Context, key string) bool {
	if h.l1.Exists(ctx, key) {
		return true
	}
	return h.l2.Exists(ctx, key)
}

func (h *HybridBackend) Clear(ctx context.Context) bool {
	g, gctx := errgroup.WithContext(ctx)
	var l1ok, l2ok bool
	g.Go(func() error { l1ok = h.l1.Clear(gctx); return nil })
	g.Go(func() error { l2ok = h.l2.Clear(gctx); return nil })
	_ = g.Wait()
	return l1ok || l2ok
}

func (h *HybridBackend) GetStats(ctx context.Context) Stats {
	s1 := h.l1.GetStats(ctx)
	s2 := h.l2.GetStats(ctx)
	return Stats{
		Mode:      string(ModeHybrid),
		Hits:      s1.Hits + s2.Hits,
		Misses:    s1.Misses + s2.Misses,
		Errors:    s1.Errors + s2.Errors,
		Connected: s1.Connected || s2.Connected,
	}
}

func (h *HybridBackend) IsHealthy(ctx context.Context) bool {
	return h.l1.IsHealthy(ctx) || h.l2.IsHealthy(ctx)
}

// Close waits for in-flight promotions to finish before releasing both
// tiers, so no fire-and-forget Set leaks past shutdown.
func (h *HybridBackend) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	h.promotions.Wait()
	err1 := h.l1.Close()
	err2 := h.l2.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (h *HybridBackend) GetCapacityInfo(ctx context.Context) CapacityInfo {
	// callers needing per-tier capacity (the Capacity Manager) query L1
	// and L2 individually; this aggregate is informational only.
	c1 := h.l1.GetCapacityInfo(ctx)
	c2 := h.l2.GetCapacityInfo(ctx)
	return CapacityInfo{
		UsedBytes: c1.UsedBytes + c2.UsedBytes,
		MaxBytes:  c1.MaxBytes + c2.MaxBytes,
		ItemCount: c1.ItemCount + c2.ItemCount,
		MaxItems:  c1.MaxItems + c2.MaxItems,
	}
}

// GetItemsByHitCount unions both tiers' lists, merges by key summing
// hitCount, sorts ascending, and returns the first limit.
func (h *HybridBackend) GetItemsByHitCount(ctx context.Context, limit int) []KeyHit {
	merged := make(map[string]int64)
	for _, kh := range h.l1.GetItemsByHitCount(ctx, limit*2) {
		merged[kh.Key] += kh.HitCount
	}
	for _, kh := range h.l2.GetItemsByHitCount(ctx, limit*2) {
		merged[kh.Key] += kh.HitCount
	}
	out := make([]KeyHit, 0, len(merged))
	for k, hc := range merged {
		out = append(out, KeyHit{Key: k, HitCount: hc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HitCount < out[j].HitCount })
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (h *HybridBackend) IncrementHitCount(ctx context.Context, key string) bool {
	g, gctx := errgroup.WithContext(ctx)
	var l1ok, l2ok bool
	g.Go(func() error { l1ok = h.l1.IncrementHitCount(gctx, key); return nil })
	g.Go(func() error { l2ok = h.l2.IncrementHitCount(gctx, key); return nil })
	_ = g.Wait()
	return l1ok || l2ok
}

// L1 and L2 expose the underlying tiers for the Capacity Manager, which
// checks and acts on each independently.
func (h *HybridBackend) L1() Backend { return h.l1 }
func (h *HybridBackend) L2() Backend { return h.l2 }
