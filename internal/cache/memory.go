package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryEntry struct {
	data    []byte
	expires time.Time
	tags    []string
}

// Memory is an in-process Cache for single-instance runs and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	tags    map[string]map[string]struct{}
	gens    map[string]int64
	now     func() time.Time
}

// NewMemory constructs an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: map[string]memoryEntry{},
		tags:    map[string]map[string]struct{}{},
		gens:    map[string]int64{},
		now:     time.Now,
	}
}

// WithClock replaces the clock used for expiry.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !m.now().Before(e.expires) {
		m.removeLocked(key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(e.data, dst)
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, data, ttl, tags)
	return nil
}

func (m *Memory) Stamp(_ context.Context, tags ...string) (Stamp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp := make(Stamp, len(tags))
	for _, tag := range tags {
		stamp[tag] = m.gens[tag]
	}
	return stamp, nil
}

func (m *Memory) SetIfCurrent(_ context.Context, key string, value any, ttl time.Duration, stamp Stamp, tags ...string) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for tag, gen := range stamp {
		if m.gens[tag] != gen {
			return false, nil
		}
	}
	m.setLocked(key, data, ttl, tags)
	return true, nil
}

func (m *Memory) Invalidate(_ context.Context, tags ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tag := range tags {
		for key := range m.tags[tag] {
			m.removeLocked(key)
		}
		delete(m.tags, tag)
		m.gens[tag]++
	}
	return nil
}

func (m *Memory) setLocked(key string, data []byte, ttl time.Duration, tags []string) {
	m.removeLocked(key)
	m.entries[key] = memoryEntry{data: data, expires: m.now().Add(ttl), tags: tags}
	for _, tag := range tags {
		if m.tags[tag] == nil {
			m.tags[tag] = map[string]struct{}{}
		}
		m.tags[tag][key] = struct{}{}
	}
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) removeLocked(key string) {
	e, ok := m.entries[key]
	if !ok {
		return
	}
	delete(m.entries, key)
	for _, tag := range e.tags {
		if keys := m.tags[tag]; keys != nil {
			delete(keys, key)
			if len(keys) == 0 {
				delete(m.tags, tag)
			}
		}
	}
}
