// Command server wires the configuration, origin client, cache manager,
// capacity watchdog, and HTTP router into a running edge proxy, and
// drains in-flight requests on SIGINT/SIGTERM before exiting.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgevod/proxy/internal/cache"
	"github.com/edgevod/proxy/internal/capacity"
	"github.com/edgevod/proxy/internal/config"
	"github.com/edgevod/proxy/internal/fetch"
	"github.com/edgevod/proxy/internal/handlers"
	"github.com/edgevod/proxy/internal/origin"
	"github.com/edgevod/proxy/internal/playlist"
	"github.com/edgevod/proxy/internal/router"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Server.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	originClient, err := origin.NewMinioClient(cfg.Origin)
	if err != nil {
		return fmt.Errorf("origin client: %w", err)
	}

	cacheMgr := cache.NewManager(logger, cfg)
	if err := cacheMgr.Initialize(ctx); err != nil {
		return fmt.Errorf("cache manager: %w", err)
	}
	defer cacheMgr.Close()

	capacityMgr := capacity.NewManager(logger, cacheMgr, cfg.Capacity.Period, cfg.Capacity.RedisThreshold, cfg.Capacity.CassandraThreshold)
	capacityMgr.Start(ctx)
	defer capacityMgr.StopMonitoring()

	rewriter := playlist.NewRewriter()
	pipeline := fetch.NewPipeline(logger, cacheMgr, originClient, rewriter, cfg.Cache.StreamMaxCacheable, cfg.Cache.PlaylistMaxCacheable)

	objectHandler := handlers.NewObjectHandler(logger, pipeline, cfg.Origin.DefaultBucket)
	controlHandler := handlers.NewControlHandler(logger, cacheMgr, capacityMgr, version)
	externalHandler := handlers.NewExternalHandler(logger, cfg.Origin.RequestTimeout)

	engine := router.New(cfg, logger, objectHandler, controlHandler, externalHandler)

	srv := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr, "cache_mode", string(cacheMgr.Mode()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
