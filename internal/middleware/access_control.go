package middleware

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// BucketLimiter throttles requests per bucket rather than authorizing
// them: authentication and authorization live outside this proxy, but an
// origin behind it still needs protecting from one bucket's traffic
// starving another's cache-fill capacity.
type BucketLimiter struct {
	logger   *slog.Logger
	rps      float64
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewBucketLimiter(logger *slog.Logger, rps float64, burst int) *BucketLimiter {
	return &BucketLimiter{
		logger:   logger,
		rps:      rps,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (b *BucketLimiter) forBucket(bucket string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[bucket]
	if !ok {
		l = rate.NewLimiter(rate.Limit(b.rps), b.burst)
		b.limiters[bucket] = l
	}
	return l
}

// Handle rejects a request with 429 once its bucket's share of origin
// traffic is exhausted. bucketFromPath extracts the bucket the same way
// the object handler resolves it, so the two never disagree about which
// bucket a path belongs to.
func (b *BucketLimiter) Handle(bucketFromPath func(path string) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		bucket := bucketFromPath(c.Param("path"))
		if bucket == "" {
			c.Next()
			return
		}
		if !b.forBucket(bucket).Allow() {
			b.logger.Warn("bucket rate limit exceeded", "bucket", bucket, "remote_addr", c.ClientIP())
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
