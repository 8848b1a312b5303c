package cache

import (
	"context"
	"encoding/base64"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgevod/proxy/internal/config"
)

// RedisBackend is the L1 tier: a fast, connection-pooled remote key-value
// store. Every item is stored as a hash so fields can be read and updated
// (hitCount in particular) without round-tripping the whole blob, and the
// store's native TTL governs expiry so a crashed sweep never leaks memory
// on the remote side.
type RedisBackend struct {
	logger          *slog.Logger
	cfg             config.RedisConfig
	ttl             time.Duration
	memoryThreshold float64 // fraction of maxmemory; Set refuses admission above it

	client *redis.Client

	hits, misses, errors, rejected atomic.Int64
	connected                      atomic.Bool
	lastUsedPct                    atomic.Uint64 // math.Float64bits, refreshed by GetCapacityInfo
}

// NewRedisBackend constructs an L1 backend. memoryThreshold (0 disables the
// check) caps admission at that fraction of the store's own reported
// maxmemory, read from the most recent GetCapacityInfo snapshot rather than
// an extra round trip per Set — the periodic capacity watchdog already
// calls GetCapacityInfo often enough to keep that snapshot fresh.
func NewRedisBackend(logger *slog.Logger, cfg config.RedisConfig, ttl time.Duration, memoryThreshold float64) *RedisBackend {
	return &RedisBackend{logger: logger, cfg: cfg, ttl: ttl, memoryThreshold: memoryThreshold}
}

func (r *RedisBackend) Initialize(ctx context.Context) error {
	r.client = redis.NewClient(&redis.Options{
		Addr:            r.cfg.Host + ":" + r.cfg.Port,
		Password:        r.cfg.Password,
		DB:              r.cfg.DB,
		PoolSize:        r.cfg.PoolSize,
		MaxRetries:      r.cfg.MaxRetries,
		DialTimeout:     r.cfg.ConnectTimeout,
		ReadTimeout:     r.cfg.CommandTimeout,
		WriteTimeout:    r.cfg.CommandTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		r.connected.Store(false)
		return err
	}
	r.connected.Store(true)
	return nil
}

func (r *RedisBackend) prefixed(key string) string { return r.cfg.KeyPrefix + key }

func (r *RedisBackend) cmdCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.CommandTimeout)
}

func (r *RedisBackend) Get(ctx context.Context, key string) (*Item, bool) {
	cctx, cancel := r.cmdCtx(ctx)
	defer cancel()

	full := r.prefixed(key)
	fields, err := r.client.HGetAll(cctx, full).Result()
	if err != nil || len(fields) == 0 {
		if err != nil {
			r.errors.Add(1)
		}
		r.misses.Add(1)
		return nil, false
	}

	item, ok := decodeItem(fields)
	if !ok {
		r.errors.Add(1)
		r.misses.Add(1)
		return nil, false
	}

	if item.Expired(time.Now()) {
		r.client.Del(cctx, full)
		r.misses.Add(1)
		return nil, false
	}

	r.client.HIncrBy(cctx, full, "hitCount", 1)
	item.HitCount++
	r.hits.Add(1)
	return item, true
}

// overMemoryThreshold reports whether the most recent GetCapacityInfo
// snapshot put usage at or above memoryThreshold. A zero memoryThreshold
// disables the check.
func (r *RedisBackend) overMemoryThreshold() bool {
	return r.memoryThreshold > 0 && math.Float64frombits(r.lastUsedPct.Load()) >= r.memoryThreshold*100
}

func (r *RedisBackend) Set(ctx context.Context, key string, data []byte, opts SetOptions) bool {
	if r.overMemoryThreshold() {
		r.rejected.Add(1)
		return false
	}

	cctx, cancel := r.cmdCtx(ctx)
	defer cancel()

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = r.ttl
	}
	now := time.Now()
	fields := map[string]interface{}{
		"data":         base64.StdEncoding.EncodeToString(data),
		"size":         strconv.FormatInt(int64(len(data)), 10),
		"contentType":  opts.ContentType,
		"etag":         opts.ETag,
		"lastModified": opts.LastModified.UTC().Format(time.RFC3339),
		"createdAt":    now.UTC().Format(time.RFC3339),
		"expiresAt":    now.Add(ttl).UTC().Format(time.RFC3339),
		"hitCount":     "0",
	}

	full := r.prefixed(key)
	pipe := r.client.TxPipeline()
	pipe.Del(cctx, full)
	pipe.HSet(cctx, full, fields)
	pipe.Expire(cctx, full, ttl)
	if _, err := pipe.Exec(cctx); err != nil {
		r.errors.Add(1)
		return false
	}
	return true
}

func (r *RedisBackend) Delete(ctx context.Context, key string) bool {
	cctx, cancel := r.cmdCtx(ctx)
	defer cancel()
	n, err := r.client.Del(cctx, r.prefixed(key)).Result()
	if err != nil {
		r.errors.Add(1)
		return false
	}
	return n > 0
}

func (r *RedisBackend) Exists(ctx context.Context, key string) bool {
	cctx, cancel := r.cmdCtx(ctx)
	defer cancel()
	n, err := r.client.Exists(cctx, r.prefixed(key)).Result()
	if err != nil {
		r.errors.Add(1)
		return false
	}
	return n > 0
}

func (r *RedisBackend) Clear(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()
	keys, err := r.scanAllKeys(cctx)
	if err != nil {
		r.errors.Add(1)
		return false
	}
	if len(keys) == 0 {
		return true
	}
	if err := r.client.Del(cctx, keys...).Err(); err != nil {
		r.errors.Add(1)
		return false
	}
	return true
}

func (r *RedisBackend) scanAllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.cfg.KeyPrefix+"*", 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (r *RedisBackend) GetStats(ctx context.Context) Stats {
	return Stats{
		Mode:      string(ModeL1),
		Hits:      r.hits.Load(),
		Misses:    r.misses.Load(),
		Errors:    r.errors.Load(),
		Connected: r.connected.Load(),
		Rejected:  r.rejected.Load(),
	}
}

func (r *RedisBackend) IsHealthy(ctx context.Context) bool {
	cctx, cancel := r.cmdCtx(ctx)
	defer cancel()
	ok := r.client != nil && r.client.Ping(cctx).Err() == nil
	r.connected.Store(ok)
	return ok
}

func (r *RedisBackend) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// GetCapacityInfo derives usedBytes from store-reported memory and
// itemCount from keyspace enumeration under the prefix — approximate,
// not exact, unlike Memory.
func (r *RedisBackend) GetCapacityInfo(ctx context.Context) CapacityInfo {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	var usedBytes, maxBytes int64
	if info, err := r.client.Info(cctx, "memory").Result(); err == nil {
		usedBytes = parseRedisInfoInt(info, "used_memory:")
		maxBytes = parseRedisInfoInt(info, "maxmemory:")
	}

	keys, err := r.scanAllKeys(cctx)
	itemCount := int64(len(keys))
	if err != nil {
		r.errors.Add(1)
	}

	var pct float64
	if maxBytes > 0 {
		pct = float64(usedBytes) / float64(maxBytes) * 100
	}
	r.lastUsedPct.Store(math.Float64bits(pct))
	return CapacityInfo{
		UsedBytes:      usedBytes,
		MaxBytes:       maxBytes,
		UsedPercentage: pct,
		ItemCount:      itemCount,
		MaxItems:       0,
	}
}

func (r *RedisBackend) GetItemsByHitCount(ctx context.Context, limit int) []KeyHit {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	keys, err := r.scanAllKeys(cctx)
	if err != nil {
		r.errors.Add(1)
		return nil
	}

	out := make([]KeyHit, 0, len(keys))
	for _, full := range keys {
		hc, err := r.client.HGet(cctx, full, "hitCount").Int64()
		if err != nil {
			continue
		}
		out = append(out, KeyHit{Key: trimPrefix(full, r.cfg.KeyPrefix), HitCount: hc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HitCount < out[j].HitCount })
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (r *RedisBackend) IncrementHitCount(ctx context.Context, key string) bool {
	cctx, cancel := r.cmdCtx(ctx)
	defer cancel()
	full := r.prefixed(key)
	n, err := r.client.Exists(cctx, full).Result()
	if err != nil || n == 0 {
		return false
	}
	return r.client.HIncrBy(cctx, full, "hitCount", 1).Err() == nil
}

func decodeItem(fields map[string]string) (*Item, bool) {
	data, err := base64.StdEncoding.DecodeString(fields["data"])
	if err != nil {
		return nil, false
	}
	size, _ := strconv.ParseInt(fields["size"], 10, 64)
	createdAt, _ := time.Parse(time.RFC3339, fields["createdAt"])
	expiresAt, _ := time.Parse(time.RFC3339, fields["expiresAt"])
	lastModified, _ := time.Parse(time.RFC3339, fields["lastModified"])
	hitCount, _ := strconv.ParseInt(fields["hitCount"], 10, 64)

	return &Item{
		Data:         data,
		Size:         size,
		ContentType:  fields["contentType"],
		ETag:         fields["etag"],
		LastModified: lastModified,
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
		HitCount:     hitCount,
	}, true
}

func trimPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}

func parseRedisInfoInt(info, field string) int64 {
	idx := -1
	for i := 0; i+len(field) <= len(info); i++ {
		if info[i:i+len(field)] == field {
			idx = i + len(field)
			break
		}
	}
	if idx == -1 {
		return 0
	}
	end := idx
	for end < len(info) && info[end] != '\r' && info[end] != '\n' {
		end++
	}
	v, _ := strconv.ParseInt(info[idx:end], 10, 64)
	return v
}
