package cache

import "context"

// Backend is the uniform contract every cache tier implements: Memory,
// Redis (L1), Cassandra (L2), and Hybrid (L1+L2). Every operation is
// total — implementations must not return an error to callers for
// ordinary operational failures; a failed Get is a miss, a failed Set is
// false, and the failure is folded into the backend's own error counter
// exposed through GetStats. Only Initialize and Close return an error; a
// canceled or expired context surfaces through the other operations the
// same way as any other failure, as a miss or false.
type Backend interface {
	Initialize(ctx context.Context) error
	Get(ctx context.Context, key string) (*Item, bool)
	Set(ctx context.Context, key string, data []byte, opts SetOptions) bool
	Delete(ctx context.Context, key string) bool
	Exists(ctx context.Context, key string) bool
	Clear(ctx context.Context) bool
	GetStats(ctx context.Context) Stats
	IsHealthy(ctx context.Context) bool
	Close() error

	GetCapacityInfo(ctx context.Context) CapacityInfo
	// GetItemsByHitCount returns up to limit keys, ascending by hitCount.
	// Selection is best-effort: a backend may return fewer than requested,
	// and ties among equal hitCount are broken arbitrarily.
	GetItemsByHitCount(ctx context.Context, limit int) []KeyHit
	IncrementHitCount(ctx context.Context, key string) bool
}

// Mode names the runtime-selectable cache backends.
type Mode string

const (
	ModeMemory         Mode = "memory"
	ModeL1             Mode = "redis"
	ModeL2             Mode = "cassandra"
	ModeHybrid         Mode = "redis-cassandra"
)
