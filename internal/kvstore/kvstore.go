// Package kvstore is the small TTL'd key-value contract behind leases and the
// player location index. The in-memory store serves standalone deployments
// and tests; a networked store implements the same interface for clusters.
package kvstore

import (
	"sync"
	"time"

	"github.com/ambonmud/server/internal/clock"
)

type Store interface {
	// Get returns the value and whether the key exists and is unexpired.
	Get(key string) (string, bool)
	// Set writes a key with a TTL (0 = no expiry).
	Set(key, value string, ttl time.Duration)
	// SetNX writes only when the key is absent or expired; reports success.
	SetNX(key, value string, ttl time.Duration) bool
	// Expire refreshes a key's TTL; reports whether the key existed.
	Expire(key string, ttl time.Duration) bool
	Delete(key string)
	// Keys returns all live keys with the given prefix.
	Keys(prefix string) []string
}

type entry struct {
	value    string
	expireAt int64 // millis, 0 = never
}

// Memory is a process-local Store.
type Memory struct {
	mu   sync.Mutex
	data map[string]entry
	clk  clock.Clock
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		data: make(map[string]entry),
		clk:  clk,
	}
}

func (m *Memory) live(e entry) bool {
	return e.expireAt == 0 || e.expireAt > m.clk.NowMillis()
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || !m.live(e) {
		return "", false
	}
	return e.value, true
}

func (m *Memory) Set(key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry{value: value, expireAt: m.deadline(ttl)}
}

func (m *Memory) SetNX(key, value string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.data[key]; ok && m.live(e) {
		return false
	}
	m.data[key] = entry{value: value, expireAt: m.deadline(ttl)}
	return true
}

func (m *Memory) Expire(key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || !m.live(e) {
		return false
	}
	e.expireAt = m.deadline(ttl)
	m.data[key] = e
	return true
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *Memory) Keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, e := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix && m.live(e) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *Memory) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return m.clk.NowMillis() + ttl.Milliseconds()
}
