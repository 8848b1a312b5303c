package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// record is the storage-internal wrapper around Item; insertion order is
// used as an LRU proxy, and hitCount lives in the record itself rather
// than the Item so a Get can bump it without copying the whole item.
type record struct {
	item     *Item
	seq      int64
	hitCount int64
}

// MemoryBackend is a bounded in-process store. Admission never lets
// usedBytes exceed MaxSize: a Set that would overflow triggers bulk
// eviction of ~20% of existing keys (oldest by insertion order) before
// retrying, and rejects admission if that isn't enough headroom.
type MemoryBackend struct {
	logger *slog.Logger

	maxItems int64
	maxSize  int64
	ttl      time.Duration

	mu        sync.RWMutex
	data      map[string]*record
	usedBytes int64
	seqCounter int64

	hits, misses, errors atomic.Int64

	checkPeriod time.Duration
	stopCh      chan struct{}
	stopped     chan struct{}
}

func NewMemoryBackend(logger *slog.Logger, maxItems int, maxSize int64, ttl, checkPeriod time.Duration) *MemoryBackend {
	return &MemoryBackend{
		logger:      logger,
		maxItems:    int64(maxItems),
		maxSize:     maxSize,
		ttl:         ttl,
		data:        make(map[string]*record),
		checkPeriod: checkPeriod,
		stopCh:      make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

func (m *MemoryBackend) Initialize(ctx context.Context) error {
	go m.sweepLoop()
	return nil
}

func (m *MemoryBackend) sweepLoop() {
	defer close(m.stopped)
	if m.checkPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(m.checkPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryBackend) sweepExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.data {
		if r.item.Expired(now) {
			m.usedBytes -= r.item.Size
			delete(m.data, k)
		}
	}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (*Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.data[key]
	if !ok {
		m.misses.Add(1)
		return nil, false
	}
	if r.item.Expired(time.Now()) {
		m.usedBytes -= r.item.Size
		delete(m.data, key)
		m.misses.Add(1)
		return nil, false
	}
	r.hitCount++
	r.item.HitCount = r.hitCount
	m.hits.Add(1)
	// return a copy so callers cannot mutate stored bytes in place
	itemCopy := *r.item
	return &itemCopy, true
}

func (m *MemoryBackend) Set(ctx context.Context, key string, data []byte, opts SetOptions) bool {
	size := int64(len(data))
	if size > m.maxSize {
		return false
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := time.Now()
	item := &Item{
		Data:         data,
		Size:         size,
		ContentType:  opts.ContentType,
		ETag:         opts.ETag,
		LastModified: opts.LastModified,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, exists := m.data[key]; exists {
		m.usedBytes -= prev.item.Size
		delete(m.data, key)
	}

	if m.usedBytes+size > m.maxSize {
		m.evictBulkLocked()
		if m.usedBytes+size > m.maxSize {
			m.errors.Add(1)
			return false
		}
	}

	if int64(len(m.data)) >= m.maxItems {
		if _, exists := m.data[key]; !exists {
			m.evictBulkLocked()
		}
	}

	m.seqCounter++
	m.data[key] = &record{item: item, seq: m.seqCounter}
	m.usedBytes += size
	return true
}

// evictBulkLocked drops ~20% of existing keys, oldest insertion order
// first, as a proxy for LRU. Caller must hold m.mu.
func (m *MemoryBackend) evictBulkLocked() {
	if len(m.data) == 0 {
		return
	}
	victims := m.oldestKeysLocked(max(1, len(m.data)/5))
	for _, k := range victims {
		if r, ok := m.data[k]; ok {
			m.usedBytes -= r.item.Size
			delete(m.data, k)
		}
	}
}

func (m *MemoryBackend) oldestKeysLocked(n int) []string {
	type kv struct {
		key string
		seq int64
	}
	all := make([]kv, 0, len(m.data))
	for k, r := range m.data {
		all = append(all, kv{k, r.seq})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	if n > len(all) {
		n = len(all)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].key
	}
	return out
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[key]
	if !ok {
		return false
	}
	m.usedBytes -= r.item.Size
	delete(m.data, key)
	return true
}

func (m *MemoryBackend) Exists(ctx context.Context, key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data[key]
	if !ok {
		return false
	}
	return !r.item.Expired(time.Now())
}

func (m *MemoryBackend) Clear(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*record)
	m.usedBytes = 0
	return true
}

func (m *MemoryBackend) GetStats(ctx context.Context) Stats {
	return Stats{
		Mode:      string(ModeMemory),
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Errors:    m.errors.Load(),
		Connected: true,
	}
}

func (m *MemoryBackend) IsHealthy(ctx context.Context) bool { return true }

func (m *MemoryBackend) Close() error {
	select {
	case <-m.stopCh:
		// already closed
	default:
		close(m.stopCh)
		<-m.stopped
	}
	return nil
}

func (m *MemoryBackend) GetCapacityInfo(ctx context.Context) CapacityInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pct float64
	if m.maxSize > 0 {
		pct = float64(m.usedBytes) / float64(m.maxSize) * 100
	}
	return CapacityInfo{
		UsedBytes:      m.usedBytes,
		MaxBytes:       m.maxSize,
		UsedPercentage: pct,
		ItemCount:      int64(len(m.data)),
		MaxItems:       m.maxItems,
	}
}

func (m *MemoryBackend) GetItemsByHitCount(ctx context.Context, limit int) []KeyHit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]KeyHit, 0, len(m.data))
	for k, r := range m.data {
		out = append(out, KeyHit{Key: k, HitCount: r.hitCount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HitCount < out[j].HitCount })
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (m *MemoryBackend) IncrementHitCount(ctx context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[key]
	if !ok {
		return false
	}
	r.hitCount++
	r.item.HitCount = r.hitCount
	return true
}
