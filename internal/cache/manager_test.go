package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/edgevod/proxy/internal/config"
)

func testConfig(mode config.CacheMode) *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{
			Mode:        mode,
			TTL:         time.Minute,
			CheckPeriod: time.Minute,
			MaxItems:    100,
			MaxSize:     1024 * 1024,
		},
		Redis: config.RedisConfig{
			Host:           "127.0.0.1",
			Port:           "1", // unroutable port: Initialize must fail fast
			ConnectTimeout: 50 * time.Millisecond,
			CommandTimeout: 50 * time.Millisecond,
		},
	}
}

func testManagerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerInitializeMemoryMode(t *testing.T) {
	m := NewManager(testManagerLogger(), testConfig(config.ModeMemory))
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if m.Mode() != ModeMemory {
		t.Errorf("Mode() = %v, want memory", m.Mode())
	}
	if m.FellBack() {
		t.Error("did not expect fallback when memory mode was requested directly")
	}
	if !m.Initialized() {
		t.Error("expected Initialized() to be true after successful Initialize")
	}
}

func TestManagerFallsBackToMemoryOnBackendFailure(t *testing.T) {
	m := NewManager(testManagerLogger(), testConfig(config.ModeRedis))
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize should fall back rather than fail: %v", err)
	}
	if m.Mode() != ModeMemory {
		t.Errorf("Mode() = %v, want memory after fallback", m.Mode())
	}
	if !m.FellBack() {
		t.Error("expected FellBack() to be true after a failed redis init")
	}
}

func TestManagerPassThroughBeforeInitializeIsSafe(t *testing.T) {
	m := NewManager(testManagerLogger(), testConfig(config.ModeMemory))
	if _, ok := m.Get(context.Background(), "k"); ok {
		t.Error("expected Get to report a miss before Initialize runs")
	}
	if m.Set(context.Background(), "k", []byte("v"), SetOptions{}) {
		t.Error("expected Set to report failure before Initialize runs")
	}
	if m.IsHealthy(context.Background()) {
		t.Error("expected IsHealthy to be false before Initialize runs")
	}
}

func TestManagerSetGetRoundTrip(t *testing.T) {
	m := NewManager(testManagerLogger(), testConfig(config.ModeMemory))
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !m.Set(context.Background(), "k", []byte("hello"), SetOptions{}) {
		t.Fatal("expected Set to succeed")
	}
	item, ok := m.Get(context.Background(), "k")
	if !ok || string(item.Data) != "hello" {
		t.Fatalf("Get after Set = (%+v, %v)", item, ok)
	}
}

func TestManagerSwitchBackendStartsFresh(t *testing.T) {
	m := NewManager(testManagerLogger(), testConfig(config.ModeMemory))
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m.Set(context.Background(), "k", []byte("v"), SetOptions{})

	if err := m.SwitchBackend(context.Background(), ModeMemory); err != nil {
		t.Fatalf("SwitchBackend: %v", err)
	}
	if _, ok := m.Get(context.Background(), "k"); ok {
		t.Fatal("expected a fresh backend after switching, not the old one's data")
	}
}
