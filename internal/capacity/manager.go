// Package capacity implements the periodic watchdog that migrates items
// L1->L2 under memory pressure and evicts items out of L2 by least use.
package capacity

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/edgevod/proxy/internal/cache"
)

const (
	l1EvictFraction      = 0.20
	l2EvictFraction      = 0.10
	l1MigrateFraction    = 0.20
	defaultMigrateWorkers = 8
)

// Manager runs on an independent timer and never blocks request flow; its
// read-then-act sequence over selected keys is inherently racy and must
// tolerate keys that vanish or get re-admitted between selection and
// action.
type Manager struct {
	logger  *slog.Logger
	cache   *cache.Manager
	period  time.Duration
	limiter *rate.Limiter

	redisThreshold     atomic.Uint64 // math.Float64bits
	cassandraThreshold atomic.Uint64

	stopCh chan struct{}
	done   chan struct{}

	lastCycle       atomic.Int64 // unix nano
	migratedTotal   atomic.Int64
	migrateFailures atomic.Int64
	evictedTotal    atomic.Int64
}

func NewManager(logger *slog.Logger, cacheManager *cache.Manager, period time.Duration, redisThreshold, cassandraThreshold float64) *Manager {
	m := &Manager{
		logger:  logger,
		cache:   cacheManager,
		period:  period,
		limiter: rate.NewLimiter(rate.Limit(50), 50), // caps concurrent migration/eviction ops per second
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	m.redisThreshold.Store(math.Float64bits(redisThreshold))
	m.cassandraThreshold.Store(math.Float64bits(cassandraThreshold))
	return m
}

func (m *Manager) RedisThreshold() float64     { return math.Float64frombits(m.redisThreshold.Load()) }
func (m *Manager) CassandraThreshold() float64 { return math.Float64frombits(m.cassandraThreshold.Load()) }

// SetRedisThreshold updates the L1 migration/eviction threshold at
// runtime; values are clamped into (0, 100).
func (m *Manager) SetRedisThreshold(pct float64) {
	m.redisThreshold.Store(math.Float64bits(clamp(pct)))
}

func (m *Manager) SetCassandraThreshold(pct float64) {
	m.cassandraThreshold.Store(math.Float64bits(clamp(pct)))
}

func clamp(pct float64) float64 {
	if pct <= 0 {
		return 0.01
	}
	if pct >= 100 {
		return 99.99
	}
	return pct
}

// Start launches the ticker loop. It returns immediately; call
// StopMonitoring to cleanly exit the in-flight tick on shutdown.
func (m *Manager) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.runCycle(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// StopMonitoring cancels the watchdog and waits for its in-flight tick to
// finish.
func (m *Manager) StopMonitoring() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	<-m.done
}

// ForceCapacityCheck triggers a cycle on demand, outside the timer.
func (m *Manager) ForceCapacityCheck(ctx context.Context) {
	m.runCycle(ctx)
}

func (m *Manager) runCycle(ctx context.Context) {
	defer m.lastCycle.Store(time.Now().UnixNano())

	switch m.cache.Mode() {
	case cache.ModeL1:
		m.evictOverThreshold(ctx, m.cache.Backend(), m.RedisThreshold(), l1EvictFraction)
	case cache.ModeL2:
		m.evictOverThreshold(ctx, m.cache.Backend(), m.CassandraThreshold(), l2EvictFraction)
	case cache.ModeHybrid:
		hybrid, ok := m.cache.Backend().(*cache.HybridBackend)
		if !ok {
			return
		}
		m.checkHybridL1(ctx, hybrid)
		m.evictOverThreshold(ctx, hybrid.L2(), m.CassandraThreshold(), l2EvictFraction)
	case cache.ModeMemory:
		// Memory self-manages via its own admission-time eviction.
	}
}

func (m *Manager) checkHybridL1(ctx context.Context, hybrid *cache.HybridBackend) {
	l1 := hybrid.L1()
	info := l1.GetCapacityInfo(ctx)
	if info.UsedPercentage < m.RedisThreshold() {
		return
	}
	m.migrateL1ToL2(ctx, l1, hybrid.L2(), info)
}

func (m *Manager) migrateL1ToL2(ctx context.Context, l1, l2 cache.Backend, info cache.CapacityInfo) {
	n := int(math.Ceil(float64(info.ItemCount) * l1MigrateFraction))
	if n < 1 {
		n = 1
	}
	candidates := l1.GetItemsByHitCount(ctx, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultMigrateWorkers)
	for _, c := range candidates {
		key := c.Key
		g.Go(func() error {
			if err := m.limiter.Wait(gctx); err != nil {
				return nil
			}
			item, ok := l1.Get(gctx, key)
			if !ok {
				return nil // deleted or re-admitted since selection; benign
			}
			set := l2.Set(gctx, key, item.Data, cache.SetOptions{
				ContentType:  item.ContentType,
				ETag:         item.ETag,
				LastModified: item.LastModified,
				TTL:          time.Until(item.ExpiresAt),
			})
			if !set {
				m.migrateFailures.Add(1)
				return nil
			}
			l1.Delete(gctx, key)
			m.migratedTotal.Add(1)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) evictOverThreshold(ctx context.Context, backend cache.Backend, threshold, fraction float64) {
	info := backend.GetCapacityInfo(ctx)
	if info.UsedPercentage < threshold {
		return
	}
	n := int(math.Ceil(float64(info.ItemCount) * fraction))
	if n < 1 {
		n = 1
	}
	candidates := backend.GetItemsByHitCount(ctx, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultMigrateWorkers)
	for _, c := range candidates {
		key := c.Key
		g.Go(func() error {
			if err := m.limiter.Wait(gctx); err != nil {
				return nil
			}
			if backend.Delete(gctx, key) {
				m.evictedTotal.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Snapshot reports the watchdog's own operational counters, independent
// of any single backend's stats.
type Snapshot struct {
	LastCycle       time.Time
	MigratedTotal   int64
	MigrateFailures int64
	EvictedTotal    int64
}

func (m *Manager) Snapshot() Snapshot {
	var last time.Time
	if ns := m.lastCycle.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Snapshot{
		LastCycle:       last,
		MigratedTotal:   m.migratedTotal.Load(),
		MigrateFailures: m.migrateFailures.Load(),
		EvictedTotal:    m.evictedTotal.Load(),
	}
}
