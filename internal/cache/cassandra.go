package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gocql/gocql"

	"github.com/edgevod/proxy/internal/config"
)

// CassandraBackend is the L2 tier: a persistent wide-column store used as
// a durable, higher-capacity cache. hit_count lives in a sibling counter
// table because Cassandra counter columns cannot coexist with regular
// columns in the same table.
type CassandraBackend struct {
	logger   *slog.Logger
	cfg      config.CassandraConfig
	ttl      time.Duration
	maxItems int64

	session *gocql.Session

	// aggregate counters maintained in-process on write/delete rather than
	// scanned with ALLOW FILTERING on every stats call, per the bounded-cost
	// alternative this backend adopts (see DESIGN.md).
	usedBytes atomic.Int64
	itemCount atomic.Int64

	hits, misses, errors atomic.Int64
	connected             atomic.Bool
}

// maxItems bounds CapacityInfo's item ceiling, sourced from
// CASSANDRA_MAX_FILES. Cassandra has no single-node byte ceiling knob
// analogous to Memory's MAX_SIZE, so this backend tracks percentage full
// against an item-count ceiling instead of a byte ceiling — an
// approximation, unlike Memory's exact byte accounting.
func NewCassandraBackend(logger *slog.Logger, cfg config.CassandraConfig, ttl time.Duration, maxItems int64) *CassandraBackend {
	return &CassandraBackend{logger: logger, cfg: cfg, ttl: ttl, maxItems: maxItems}
}

func (c *CassandraBackend) table() string { return c.cfg.Keyspace + "." + c.cfg.Table }
func (c *CassandraBackend) counterTable() string {
	return c.cfg.Keyspace + "." + c.cfg.Table + "_hits"
}

func (c *CassandraBackend) consistency() gocql.Consistency {
	switch c.cfg.Consistency {
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.LocalQuorum
	}
}

func (c *CassandraBackend) Initialize(ctx context.Context) error {
	bootstrap := gocql.NewCluster(c.cfg.Hosts...)
	bootstrap.Timeout = c.cfg.ConnectTimeout
	bootstrap.ConnectTimeout = c.cfg.ConnectTimeout
	if c.cfg.Username != "" {
		bootstrap.Authenticator = gocql.PasswordAuthenticator{Username: c.cfg.Username, Password: c.cfg.Password}
	}
	bootSession, err := bootstrap.CreateSession()
	if err != nil {
		return fmt.Errorf("connect to cassandra: %w", err)
	}
	defer bootSession.Close()

	ddl := []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
			c.cfg.Keyspace, c.cfg.ReplicationFactor),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			cache_key TEXT PRIMARY KEY,
			data BLOB,
			size BIGINT,
			content_type TEXT,
			etag TEXT,
			last_modified TIMESTAMP,
			created_at TIMESTAMP,
			expires_at TIMESTAMP
		) WITH compaction = {'class': 'LeveledCompactionStrategy'} AND gc_grace_seconds = 3600`, c.table()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ON %s (expires_at)`, c.table()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			cache_key TEXT PRIMARY KEY,
			hit_count COUNTER
		)`, c.counterTable()),
	}
	for _, stmt := range ddl {
		if err := bootSession.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("cassandra ddl %q: %w", stmt, err)
		}
	}

	cluster := gocql.NewCluster(c.cfg.Hosts...)
	cluster.Keyspace = c.cfg.Keyspace
	cluster.Consistency = c.consistency()
	cluster.Timeout = c.cfg.CommandTimeout
	cluster.ConnectTimeout = c.cfg.ConnectTimeout
	if c.cfg.LocalDC != "" {
		cluster.HostFilter = gocql.DataCentreHostFilter(c.cfg.LocalDC)
	}
	if c.cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: c.cfg.Username, Password: c.cfg.Password}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("open cassandra session: %w", err)
	}
	c.session = session
	c.connected.Store(true)
	return nil
}

func (c *CassandraBackend) Get(ctx context.Context, key string) (*Item, bool) {
	var data []byte
	var size int64
	var contentType, etag string
	var lastModified, createdAt, expiresAt time.Time

	q := c.session.Query(
		`SELECT data, size, content_type, etag, last_modified, created_at, expires_at FROM `+c.table()+` WHERE cache_key = ?`,
		key,
	).WithContext(ctx).Consistency(c.consistency())

	if err := q.Scan(&data, &size, &contentType, &etag, &lastModified, &createdAt, &expiresAt); err != nil {
		if err != gocql.ErrNotFound {
			c.errors.Add(1)
		}
		c.misses.Add(1)
		return nil, false
	}

	item := &Item{
		Data: data, Size: size, ContentType: contentType, ETag: etag,
		LastModified: lastModified, CreatedAt: createdAt, ExpiresAt: expiresAt,
	}
	if item.Expired(time.Now()) {
		c.deleteRow(ctx, key, size)
		c.misses.Add(1)
		return nil, false
	}

	c.session.Query(`UPDATE `+c.counterTable()+` SET hit_count = hit_count + 1 WHERE cache_key = ?`, key).
		WithContext(ctx).Exec()
	item.HitCount = c.readHitCount(ctx, key)
	c.hits.Add(1)
	return item, true
}

func (c *CassandraBackend) readHitCount(ctx context.Context, key string) int64 {
	var hc int64
	c.session.Query(`SELECT hit_count FROM `+c.counterTable()+` WHERE cache_key = ?`, key).
		WithContext(ctx).Consistency(gocql.LocalOne).Scan(&hc)
	return hc
}

func (c *CassandraBackend) Set(ctx context.Context, key string, data []byte, opts SetOptions) bool {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	prevSize, existed := c.rowSize(ctx, key)

	stmt := fmt.Sprintf(`INSERT INTO %s (cache_key, data, size, content_type, etag, last_modified, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) USING TTL %d`, c.table(), int(ttl.Seconds()))
	err := c.session.Query(stmt, key, data, int64(len(data)), opts.ContentType, opts.ETag,
		opts.LastModified, now, expiresAt).WithContext(ctx).Consistency(c.consistency()).Exec()
	if err != nil {
		c.errors.Add(1)
		return false
	}

	// resetting a counter column requires bringing it back to zero via a
	// negative delta, since counters cannot be assigned directly.
	if prevHC := c.readHitCount(ctx, key); prevHC != 0 {
		c.session.Query(`UPDATE `+c.counterTable()+` SET hit_count = hit_count - ? WHERE cache_key = ?`, prevHC, key).
			WithContext(ctx).Exec()
	}

	if existed {
		c.usedBytes.Add(int64(len(data)) - prevSize)
	} else {
		c.usedBytes.Add(int64(len(data)))
		c.itemCount.Add(1)
	}
	return true
}

func (c *CassandraBackend) rowSize(ctx context.Context, key string) (int64, bool) {
	var size int64
	err := c.session.Query(`SELECT size FROM `+c.table()+` WHERE cache_key = ?`, key).
		WithContext(ctx).Consistency(gocql.LocalOne).Scan(&size)
	if err != nil {
		return 0, false
	}
	return size, true
}

func (c *CassandraBackend) deleteRow(ctx context.Context, key string, size int64) {
	c.session.Query(`DELETE FROM `+c.table()+` WHERE cache_key = ?`, key).WithContext(ctx).Exec()
	c.session.Query(`DELETE FROM `+c.counterTable()+` WHERE cache_key = ?`, key).WithContext(ctx).Exec()
	c.usedBytes.Add(-size)
	c.itemCount.Add(-1)
}

func (c *CassandraBackend) Delete(ctx context.Context, key string) bool {
	size, existed := c.rowSize(ctx, key)
	if !existed {
		return false
	}
	c.deleteRow(ctx, key, size)
	return true
}

func (c *CassandraBackend) Exists(ctx context.Context, key string) bool {
	var found string
	err := c.session.Query(`SELECT cache_key FROM `+c.table()+` WHERE cache_key = ? LIMIT 1`, key).
		WithContext(ctx).Consistency(gocql.LocalOne).Scan(&found)
	return err == nil
}

func (c *CassandraBackend) Clear(ctx context.Context) bool {
	if err := c.session.Query(`TRUNCATE ` + c.table()).WithContext(ctx).Exec(); err != nil {
		c.errors.Add(1)
		return false
	}
	c.session.Query(`TRUNCATE ` + c.counterTable()).WithContext(ctx).Exec()
	c.usedBytes.Store(0)
	c.itemCount.Store(0)
	return true
}

func (c *CassandraBackend) GetStats(ctx context.Context) Stats {
	return Stats{
		Mode:      string(ModeL2),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Errors:    c.errors.Load(),
		Connected: c.connected.Load(),
	}
}

func (c *CassandraBackend) IsHealthy(ctx context.Context) bool {
	if c.session == nil {
		return false
	}
	err := c.session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Consistency(gocql.LocalOne).Exec()
	ok := err == nil
	c.connected.Store(ok)
	return ok
}

func (c *CassandraBackend) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return nil
}

func (c *CassandraBackend) GetCapacityInfo(ctx context.Context) CapacityInfo {
	used := c.usedBytes.Load()
	items := c.itemCount.Load()
	var pct float64
	if c.maxItems > 0 {
		pct = float64(items) / float64(c.maxItems) * 100
	}
	return CapacityInfo{
		UsedBytes:      used,
		MaxBytes:       0,
		UsedPercentage: pct,
		ItemCount:      items,
		MaxItems:       c.maxItems,
	}
}

// GetItemsByHitCount scans a bounded page of rows via the expires_at
// secondary index (ALLOW FILTERING, an expensive query pattern by
// design), capped well below a full table scan, then sorts the fetched
// rows by their counter-table hit_count in process — a bounded-cost
// compromise rather than a globally-accurate ranking.
func (c *CassandraBackend) GetItemsByHitCount(ctx context.Context, limit int) []KeyHit {
	const scanCap = 500
	iter := c.session.Query(
		`SELECT cache_key FROM `+c.table()+` WHERE expires_at > ? ALLOW FILTERING`, time.Unix(0, 0),
	).WithContext(ctx).Consistency(gocql.LocalOne).PageSize(scanCap).Iter()

	var out []KeyHit
	var key string
	for iter.Scan(&key) {
		out = append(out, KeyHit{Key: key, HitCount: c.readHitCount(ctx, key)})
		if len(out) >= scanCap {
			break
		}
	}
	if err := iter.Close(); err != nil {
		c.errors.Add(1)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].HitCount < out[j].HitCount })
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (c *CassandraBackend) IncrementHitCount(ctx context.Context, key string) bool {
	if !c.Exists(ctx, key) {
		return false
	}
	return c.session.Query(`UPDATE `+c.counterTable()+` SET hit_count = hit_count + 1 WHERE cache_key = ?`, key).
		WithContext(ctx).Exec() == nil
}
