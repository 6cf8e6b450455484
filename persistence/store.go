// Package persistence defines the opaque key-value and append-only log
// contracts used by the voting, pattern, queen, workflow and scheduler
// packages to persist state, plus an in-memory implementation (the
// default collaborator) and a Redis-backed implementation grounded on
// the teacher's own redis_client.go/redis_registry.go conventions.
package persistence

import (
	"context"
	"sync"
	"time"
)

// KVStore is an opaque key-value contract: callers own serialization.
// It generalizes core.Memory (Get/Set/Delete/Exists over string values)
// to byte payloads so structured records (votes, patterns, executions)
// can be stored without a second marshaling layer leaking into this
// package.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) ([]string, error)
}

// AppendLog is an append-only, per-stream log contract used for
// execution history and compensation audit trails. Offsets are
// zero-based and monotonic per stream.
type AppendLog interface {
	Append(ctx context.Context, stream string, record []byte) (offset int64, err error)
	Read(ctx context.Context, stream string, fromOffset int64, limit int) ([][]byte, error)
	Len(ctx context.Context, stream string) (int64, error)
}

// InMemoryKVStore is the default KVStore, a mutex-guarded map with lazy
// TTL expiry checked on read. (core.InMemoryStore, by contrast, ignores
// its ttl argument and never expires entries.)
type InMemoryKVStore struct {
	mu   sync.RWMutex
	data map[string]inMemoryEntry
}

type inMemoryEntry struct {
	value    []byte
	expireAt time.Time // zero means no expiry
}

// NewInMemoryKVStore creates an empty in-memory KVStore.
func NewInMemoryKVStore() *InMemoryKVStore {
	return &InMemoryKVStore{data: make(map[string]inMemoryEntry)}
}

func (s *InMemoryKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expireAt.IsZero() && time.Now().After(entry.expireAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (s *InMemoryKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expireAt time.Time
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = inMemoryEntry{value: stored, expireAt: expireAt}
	return nil
}

func (s *InMemoryKVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *InMemoryKVStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	now := time.Now()
	for k, entry := range s.data {
		if !entry.expireAt.IsZero() && now.After(entry.expireAt) {
			continue
		}
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// InMemoryAppendLog is the default AppendLog, one growable slice per
// stream guarded by a single mutex — adequate for the swarm/workflow
// scale this core targets (spec.md §5 bounds concurrency per process,
// not across a cluster).
type InMemoryAppendLog struct {
	mu      sync.RWMutex
	streams map[string][][]byte
}

// NewInMemoryAppendLog creates an empty in-memory AppendLog.
func NewInMemoryAppendLog() *InMemoryAppendLog {
	return &InMemoryAppendLog{streams: make(map[string][][]byte)}
}

func (l *InMemoryAppendLog) Append(ctx context.Context, stream string, record []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored := make([]byte, len(record))
	copy(stored, record)
	l.streams[stream] = append(l.streams[stream], stored)
	return int64(len(l.streams[stream]) - 1), nil
}

func (l *InMemoryAppendLog) Read(ctx context.Context, stream string, fromOffset int64, limit int) ([][]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := l.streams[stream]
	if fromOffset < 0 || fromOffset >= int64(len(records)) {
		return nil, nil
	}
	end := len(records)
	if limit > 0 && int(fromOffset)+limit < end {
		end = int(fromOffset) + limit
	}
	out := make([][]byte, 0, end-int(fromOffset))
	for _, r := range records[fromOffset:end] {
		cp := make([]byte, len(r))
		copy(cp, r)
		out = append(out, cp)
	}
	return out, nil
}

func (l *InMemoryAppendLog) Len(ctx context.Context, stream string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.streams[stream])), nil
}
