// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

// sweepInterval controls probabilistic lazy expiry: every Nth write scans the
// whole map for expired entries. Reads also check expiry inline and delete on
// read, so the sweep only bounds memory held by keys that are never read again.
const sweepInterval = 100

// Compile-time interface compliance check.
var _ Store = (*MemoryStore)(nil)

// memoryEntry holds either a scalar value or a list, never both.
type memoryEntry struct {
	value     []byte
	list      [][]byte
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process Store for single-replica deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	writes  uint64

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Get returns the value for key, deleting it first if expired.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.value == nil {
		return nil, false, nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with an optional TTL.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &memoryEntry{
		value:     value,
		expiresAt: m.deadline(ttl),
	}
	m.maybeSweep()
	return nil
}

// Delete removes key and reports whether a live entry existed.
func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	delete(m.entries, key)
	return !e.expired(m.now()), nil
}

// Keys returns all live keys with the given prefix.
func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var keys []string
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len returns the number of live keys.
func (m *MemoryStore) Len(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			continue
		}
		n++
	}
	return n, nil
}

// AppendToList appends value to the list at key and refreshes its TTL.
func (m *MemoryStore) AppendToList(_ context.Context, key string, value []byte, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) || e.list == nil {
		e = &memoryEntry{}
		m.entries[key] = e
	}
	e.list = append(e.list, value)
	e.expiresAt = m.deadline(ttl)
	m.maybeSweep()
	return int64(len(e.list)), nil
}

// GetList returns the list at key in insertion order.
func (m *MemoryStore) GetList(_ context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.list == nil {
		return nil, nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, nil
	}
	out := make([][]byte, len(e.list))
	copy(out, e.list)
	return out, nil
}

// Close is a no-op for the memory backend.
func (*MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

// maybeSweep scans for expired entries every sweepInterval writes.
// Caller must hold m.mu.
func (m *MemoryStore) maybeSweep() {
	m.writes++
	if m.writes%sweepInterval != 0 {
		return
	}
	now := m.now()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}
