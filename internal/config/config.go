// Package config loads the process-wide configuration from environment
// variables. Every group (server, origin, cache, L1, L2, capacity) is its
// own struct assembled by Load so callers construct configuration once at
// startup and pass it down explicitly.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type ServerConfig struct {
	Port     string
	Host     string
	NodeEnv  string
	LogLevel string
}

type OriginConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	DefaultBucket   string
	ForcePathStyle  bool
	UseSSL          bool
	RequestTimeout  time.Duration
}

// CacheMode selects which backend the Cache Manager constructs.
type CacheMode string

const (
	ModeMemory          CacheMode = "memory"
	ModeRedis           CacheMode = "redis"
	ModeCassandra       CacheMode = "cassandra"
	ModeRedisCassandra  CacheMode = "redis-cassandra"
)

type CacheConfig struct {
	Mode                  CacheMode
	TTL                   time.Duration
	CheckPeriod           time.Duration
	MaxItems              int
	MaxSize               int64
	RedisMemoryThreshold  float64
	CassandraMaxFiles     int
	StreamMaxCacheable    int64 // S_MAX, default 5 MiB
	PlaylistMaxCacheable  int64 // default 1 MiB
}

type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	KeyPrefix      string
	MaxRetries     int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	PoolSize       int
}

type CassandraConfig struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	LocalDC           string
	Consistency       string
	ReplicationFactor int
	Table             string
	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration
}

type CapacityConfig struct {
	Period             time.Duration
	RedisThreshold     float64
	CassandraThreshold float64
	BucketRPS          float64
	BucketBurst        int
}

type Config struct {
	Server    ServerConfig
	Origin    OriginConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	Capacity  CapacityConfig
}

// Load reads the complete environment surface and returns a populated
// Config. Unset variables fall back to sane development defaults, matching
// the getEnv(key, default) convention used throughout this codebase.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Host:     getEnv("HOST", "0.0.0.0"),
			NodeEnv:  getEnv("NODE_ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Origin: OriginConfig{
			Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", "minioadmin"),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", "minioadmin"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			DefaultBucket:   getEnv("S3_BUCKET_NAME", "vod"),
			ForcePathStyle:  getEnvBool("S3_FORCE_PATH_STYLE", true),
			UseSSL:          getEnvBool("S3_USE_SSL", false),
			RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Cache: CacheConfig{
			Mode:                 CacheMode(getEnv("CACHE_MODE", string(ModeMemory))),
			TTL:                  getEnvDuration("CACHE_TTL", 5*time.Minute),
			CheckPeriod:          getEnvDuration("CACHE_CHECK_PERIOD", 60*time.Second),
			MaxItems:             getEnvInt("CACHE_MAX_ITEMS", 10000),
			MaxSize:              getEnvInt64("CACHE_MAX_SIZE", 100*1024*1024),
			RedisMemoryThreshold: getEnvFloat("REDIS_MEMORY_THRESHOLD", 0.85),
			CassandraMaxFiles:    getEnvInt("CASSANDRA_MAX_FILES", 32),
			StreamMaxCacheable:   getEnvInt64("STREAM_MAX_CACHEABLE", 5*1024*1024),
			PlaylistMaxCacheable: getEnvInt64("PLAYLIST_MAX_CACHEABLE", 1024*1024),
		},
		Redis: RedisConfig{
			Host:           getEnv("REDIS_HOST", "localhost"),
			Port:           getEnv("REDIS_PORT", "6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			KeyPrefix:      getEnv("REDIS_PREFIX", "edgevod:"),
			MaxRetries:     getEnvInt("REDIS_MAX_RETRIES", 3),
			ConnectTimeout: getEnvDuration("REDIS_CONNECT_TIMEOUT", 5*time.Second),
			CommandTimeout: getEnvDuration("REDIS_COMMAND_TIMEOUT", 2*time.Second),
			PoolSize:       getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Cassandra: CassandraConfig{
			Hosts:             getEnvList("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace:          getEnv("CASSANDRA_KEYSPACE", "edgevod"),
			Username:          getEnv("CASSANDRA_USERNAME", ""),
			Password:          getEnv("CASSANDRA_PASSWORD", ""),
			LocalDC:           getEnv("CASSANDRA_LOCAL_DC", "datacenter1"),
			Consistency:       getEnv("CASSANDRA_CONSISTENCY", "LOCAL_QUORUM"),
			ReplicationFactor: getEnvInt("CASSANDRA_REPLICATION_FACTOR", 1),
			Table:             getEnv("CASSANDRA_TABLE", "cache_items"),
			ConnectTimeout:    getEnvDuration("CASSANDRA_CONNECT_TIMEOUT", 10*time.Second),
			CommandTimeout:    getEnvDuration("CASSANDRA_COMMAND_TIMEOUT", 3*time.Second),
		},
		Capacity: CapacityConfig{
			Period:             getEnvDuration("CAPACITY_CHECK_PERIOD", 60*time.Second),
			RedisThreshold:     getEnvFloat("REDIS_CAPACITY_THRESHOLD", 85),
			CassandraThreshold: getEnvFloat("CASSANDRA_CAPACITY_THRESHOLD", 90),
			BucketRPS:          getEnvFloat("BUCKET_RATE_LIMIT_RPS", 200),
			BucketBurst:        getEnvInt("BUCKET_RATE_LIMIT_BURST", 400),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return i
}

func getEnvInt64(key string, defaultValue int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultValue
	}
	return i
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	// bare integers are treated as seconds, matching CACHE_TTL/CACHE_CHECK_PERIOD's "(s)" units
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
