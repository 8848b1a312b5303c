package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgevod/proxy/internal/config"
)

// Manager owns the selected backend for the process, exactly one at a
// time. It falls back to Memory whenever a non-memory mode fails to
// initialize, and supports a clean runtime switch that closes the old
// backend and constructs a fresh one — no state carries across a switch.
type Manager struct {
	logger *slog.Logger
	cfg    *config.Config

	mu           sync.RWMutex
	backend      Backend
	mode         Mode
	fellBack     bool
	initialized  atomic.Bool
}

func NewManager(logger *slog.Logger, cfg *config.Config) *Manager {
	return &Manager{logger: logger, cfg: cfg}
}

// Initialize constructs and initializes the configured backend, falling
// back to Memory on failure for any non-memory mode.
func (m *Manager) Initialize(ctx context.Context) error {
	mode := Mode(m.cfg.Cache.Mode)
	backend, err := m.buildAndInit(ctx, mode)
	if err != nil {
		if mode == ModeMemory {
			return fmt.Errorf("memory backend init failed: %w", err)
		}
		m.logger.Warn("cache backend init failed, falling back to memory", "mode", mode, "error", err)
		backend, err = m.buildAndInit(ctx, ModeMemory)
		if err != nil {
			return fmt.Errorf("fallback memory backend init failed: %w", err)
		}
		mode = ModeMemory
		m.mu.Lock()
		m.fellBack = true
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.backend = backend
	m.mode = mode
	m.mu.Unlock()
	m.initialized.Store(true)
	return nil
}

func (m *Manager) buildAndInit(ctx context.Context, mode Mode) (Backend, error) {
	backend := m.build(mode)
	if err := backend.Initialize(ctx); err != nil {
		return nil, err
	}
	return backend, nil
}

func (m *Manager) build(mode Mode) Backend {
	c := m.cfg.Cache
	switch mode {
	case ModeL1:
		return NewRedisBackend(m.logger, m.cfg.Redis, c.TTL, c.RedisMemoryThreshold)
	case ModeL2:
		return NewCassandraBackend(m.logger, m.cfg.Cassandra, c.TTL, int64(c.CassandraMaxFiles))
	case ModeHybrid:
		l1 := NewRedisBackend(m.logger, m.cfg.Redis, c.TTL, c.RedisMemoryThreshold)
		l2 := NewCassandraBackend(m.logger, m.cfg.Cassandra, c.TTL, int64(c.CassandraMaxFiles))
		return NewHybridBackend(m.logger, l1, l2)
	default:
		return NewMemoryBackend(m.logger, c.MaxItems, c.MaxSize, c.TTL, c.CheckPeriod)
	}
}

// SwitchBackend closes the current backend and constructs+initializes a
// new one for mode, falling back to Memory as a last resort on failure.
func (m *Manager) SwitchBackend(ctx context.Context, mode Mode) error {
	m.mu.Lock()
	old := m.backend
	m.mu.Unlock()

	backend, err := m.buildAndInit(ctx, mode)
	fellBack := false
	if err != nil {
		m.logger.Warn("cache backend switch failed, falling back to memory", "mode", mode, "error", err)
		backend, err = m.buildAndInit(ctx, ModeMemory)
		if err != nil {
			return fmt.Errorf("fallback memory backend init failed: %w", err)
		}
		mode = ModeMemory
		fellBack = true
	}

	m.mu.Lock()
	m.backend = backend
	m.mode = mode
	m.fellBack = fellBack
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (m *Manager) current() (Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend, m.initialized.Load()
}

func (m *Manager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

func (m *Manager) FellBack() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fellBack
}

func (m *Manager) Initialized() bool { return m.initialized.Load() }

// Backend exposes the currently active backend, primarily for the
// Capacity Manager, which needs mode-specific access (e.g. Hybrid's L1()
// and L2() accessors).
func (m *Manager) Backend() Backend {
	b, _ := m.current()
	return b
}

// Every pass-through below short-circuits to a safe default when the
// manager has not finished initializing.

func (m *Manager) Get(ctx context.Context, key string) (*Item, bool) {
	b, ok := m.current()
	if !ok {
		return nil, false
	}
	return b.Get(ctx, key)
}

func (m *Manager) Set(ctx context.Context, key string, data []byte, opts SetOptions) bool {
	b, ok := m.current()
	if !ok {
		return false
	}
	return b.Set(ctx, key, data, opts)
}

func (m *Manager) Delete(ctx context.Context, key string) bool {
	b, ok := m.current()
	if !ok {
		return false
	}
	return b.Delete(ctx, key)
}

func (m *Manager) Exists(ctx context.Context, key string) bool {
	b, ok := m.current()
	if !ok {
		return false
	}
	return b.Exists(ctx, key)
}

func (m *Manager) Clear(ctx context.Context) bool {
	b, ok := m.current()
	if !ok {
		return false
	}
	return b.Clear(ctx)
}

func (m *Manager) GetStats(ctx context.Context) Stats {
	b, ok := m.current()
	if !ok {
		return Stats{Mode: string(ModeMemory)}
	}
	return b.GetStats(ctx)
}

func (m *Manager) IsHealthy(ctx context.Context) bool {
	b, ok := m.current()
	if !ok {
		return false
	}
	return b.IsHealthy(ctx)
}

func (m *Manager) Close() error {
	b, ok := m.current()
	if !ok {
		return nil
	}
	return b.Close()
}

// CacheTTL returns the configured default TTL, used by callers that need
// to compute headers without going through Set.
func (m *Manager) CacheTTL() time.Duration { return m.cfg.Cache.TTL }
