package middleware

import (
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware exports request and cache-tier counters in the
// Prometheus exposition format VictoriaMetrics understands natively.
type MetricsMiddleware struct {
	requestCounter     *metrics.Counter
	responseTimeHist   *metrics.Histogram
	requestSizeHist    *metrics.Histogram
	responseSizeHist   *metrics.Histogram
	statusCodeCounters map[int]*metrics.Counter
	cacheHitCounter    *metrics.Counter
	cacheMissCounter   *metrics.Counter
}

func NewMetricsMiddleware() *MetricsMiddleware {
	m := &MetricsMiddleware{
		requestCounter:     metrics.NewCounter("http_requests_total"),
		responseTimeHist:   metrics.NewHistogram("http_response_time_seconds"),
		requestSizeHist:    metrics.NewHistogram("http_request_size_bytes"),
		responseSizeHist:   metrics.NewHistogram("http_response_size_bytes"),
		statusCodeCounters: make(map[int]*metrics.Counter),
		cacheHitCounter:    metrics.NewCounter("cache_hits_total"),
		cacheMissCounter:   metrics.NewCounter("cache_misses_total"),
	}

	for _, code := range []int{200, 206, 400, 403, 404, 500, 502} {
		m.statusCodeCounters[code] = metrics.NewCounter(
			`http_response_status_total{code="` + strconv.Itoa(code) + `"}`,
		)
	}

	return m
}

func (m *MetricsMiddleware) RecordCacheHit()  { m.cacheHitCounter.Inc() }
func (m *MetricsMiddleware) RecordCacheMiss() { m.cacheMissCounter.Inc() }

func (m *MetricsMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		if c.Request.ContentLength > 0 {
			m.requestSizeHist.Update(float64(c.Request.ContentLength))
		}

		m.requestCounter.Inc()
		c.Next()

		m.responseTimeHist.Update(time.Since(start).Seconds())
		if counter, ok := m.statusCodeCounters[c.Writer.Status()]; ok {
			counter.Inc()
		}
		m.responseSizeHist.Update(float64(c.Writer.Size()))

		switch c.Writer.Header().Get("X-Cache") {
		case "HIT":
			m.RecordCacheHit()
		case "MISS":
			m.RecordCacheMiss()
		}
	}
}

// Expose serves the accumulated metrics in Prometheus text format.
func (m *MetricsMiddleware) Expose(c *gin.Context) {
	metrics.WritePrometheus(c.Writer, true)
}
