// Package cache implements the pluggable multi-tier content cache: a
// Memory backend, a Redis-backed L1, a Cassandra-backed L2, a Hybrid
// composition of L1+L2, and the Manager that selects among them.
package cache

import "time"

// Item is a cached object plus its metadata. hitCount is incremented on
// every successful Get and is monotonically non-decreasing within a single
// backend and is not reconciled across tiers: L1->L2 migration does not
// carry it over, so a migrated item's L2 count starts again from zero.
type Item struct {
	Data         []byte
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
	HitCount     int64
}

// Expired reports whether the item is stale as of now. A Get that observes
// this must behave as a miss and remove the item.
func (i *Item) Expired(now time.Time) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return now.After(i.ExpiresAt)
}

// SetOptions carries the optional per-item metadata a Set call may supply.
// When TTL is zero the backend's configured default applies.
type SetOptions struct {
	TTL          time.Duration
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Stats reports operational counters for a single backend. Rates derived
// from Hits/Misses/Errors are computed by callers, not stored here.
// Rejected is only ever nonzero for backends with an admission-time
// capacity check (RedisBackend's memoryThreshold); others leave it zero.
type Stats struct {
	Mode      string
	Hits      int64
	Misses    int64
	Errors    int64
	Connected bool
	Rejected  int64
}

func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// CapacityInfo is the {usedBytes, maxBytes, usedPercentage, itemCount,
// maxItems} counter set every backend reports. For Memory this is exact;
// for remote stores it is derived and may be approximate.
type CapacityInfo struct {
	UsedBytes      int64
	MaxBytes       int64
	UsedPercentage float64
	ItemCount      int64
	MaxItems       int64
}

// KeyHit pairs a cache key with its hit count, the unit GetItemsByHitCount
// returns for capacity-driven selection.
type KeyHit struct {
	Key      string
	HitCount int64
}
