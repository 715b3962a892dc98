package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process KV scope. It backs tests, development mode, and
// graceful degradation when a configured backend is unreachable.
// With a non-zero TTL it models a session scope: every write refreshes the
// expiry, and expired entries read as absent.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero = never
}

// NewMemory creates a durable-scope in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// NewMemoryTTL creates a session-scope in-memory store whose entries expire
// ttl after their last write.
func NewMemoryTTL(ttl time.Duration) *Memory {
	return &Memory{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if m.ttl > 0 {
		e.expiresAt = m.now().Add(m.ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

// MemoryBackend hands out one Memory scope per profile.
type MemoryBackend struct {
	mu       sync.Mutex
	profiles map[string]*Memory
	ttl      time.Duration
}

// NewMemoryBackend creates a durable in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{profiles: make(map[string]*Memory)}
}

// NewMemoryBackendTTL creates a session in-memory backend with per-entry TTL.
func NewMemoryBackendTTL(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{profiles: make(map[string]*Memory), ttl: ttl}
}

func (b *MemoryBackend) ForProfile(profileID string) KV {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.profiles[profileID]
	if !ok {
		if b.ttl > 0 {
			m = NewMemoryTTL(b.ttl)
		} else {
			m = NewMemory()
		}
		b.profiles[profileID] = m
	}
	return m
}
