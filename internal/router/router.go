// Package router wires the HTTP surface: the CDN object path, the
// control-plane endpoints, and the middleware chain around them.
package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/edgevod/proxy/internal/config"
	"github.com/edgevod/proxy/internal/handlers"
	"github.com/edgevod/proxy/internal/middleware"
)

func New(cfg *config.Config, logger *slog.Logger, objectHandler *handlers.ObjectHandler, controlHandler *handlers.ControlHandler, externalHandler *handlers.ExternalHandler) *gin.Engine {
	if cfg.Server.NodeEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.WithLogging(logger))

	metricsMiddleware := middleware.NewMetricsMiddleware()
	engine.Use(metricsMiddleware.Handle())

	limiter := middleware.NewBucketLimiter(logger, cfg.Capacity.BucketRPS, cfg.Capacity.BucketBurst)
	bucketFromPath := func(path string) string {
		bucket, _, err := handlers.ParsePath(path, cfg.Origin.DefaultBucket)
		if err != nil {
			return ""
		}
		return bucket
	}

	engine.GET("/", controlHandler.Root)
	engine.GET("/metrics", metricsMiddleware.Expose)
	engine.GET("/_external", externalHandler.Proxy)

	control := engine.Group("/_control")
	{
		control.GET("/status", controlHandler.Status)
		control.GET("/cache/stats", controlHandler.CacheStats)
		control.POST("/cache/clear", controlHandler.CacheClear)
		control.POST("/cache/switch", controlHandler.CacheSwitch)
		control.GET("/cache/health", controlHandler.CacheHealth)
	}

	objects := engine.Group("/v")
	objects.Use(limiter.Handle(bucketFromPath))
	{
		objects.GET("/*path", objectHandler.GetObject)
		objects.HEAD("/*path", objectHandler.HeadObject)
	}

	return engine
}
