// Package cache holds the read-through cache backends for loyalty settings.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
)

// SettingsCache stores the current settings snapshot.
type SettingsCache interface {
	// Get returns the cached settings and whether they were present.
	Get(ctx context.Context) (loyalty.Settings, bool, error)
	Set(ctx context.Context, settings loyalty.Settings) error
	Invalidate(ctx context.Context) error
}

// Memory is an in-process SettingsCache with a fixed TTL. A zero TTL
// disables caching.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	value   *loyalty.Settings
	expires time.Time
}

var _ SettingsCache = (*Memory)(nil)

// NewMemory creates an in-process cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now}
}

func (m *Memory) Get(_ context.Context) (loyalty.Settings, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.value == nil || !m.now().Before(m.expires) {
		return loyalty.Settings{}, false, nil
	}
	return m.value.Clone(), true, nil
}

func (m *Memory) Set(_ context.Context, settings loyalty.Settings) error {
	if m.ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := settings.Clone()
	m.value = &v
	m.expires = m.now().Add(m.ttl)
	return nil
}

func (m *Memory) Invalidate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = nil
	return nil
}

// Nop never caches.
type Nop struct{}

func (Nop) Get(context.Context) (loyalty.Settings, bool, error) { return loyalty.Settings{}, false, nil }
func (Nop) Set(context.Context, loyalty.Settings) error         { return nil }
func (Nop) Invalidate(context.Context) error                    { return nil }
