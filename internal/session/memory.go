package session

import (
	"context"
	"sync"
)

// MemoryStore keeps session values in process memory. Each session has its own
// mutex so unrelated sessions never contend.
type MemoryStore struct {
	sessions sync.Map // sessionID -> *memorySession
}

type memorySession struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) shard(sessionID string) *memorySession {
	if v, ok := s.sessions.Load(sessionID); ok {
		return v.(*memorySession)
	}
	v, _ := s.sessions.LoadOrStore(sessionID, &memorySession{values: make(map[string]string)})
	return v.(*memorySession)
}

func (s *MemoryStore) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	if err := validateKey(sessionID, key); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, unavailable("get", err)
	}
	sh := s.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, sessionID, key, value string) (string, bool, error) {
	if err := validateKey(sessionID, key); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, unavailable("set", err)
	}
	sh := s.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	prev, existed := sh.values[key]
	sh.values[key] = value
	return prev, existed, nil
}

func (s *MemoryStore) CompareAndSet(ctx context.Context, sessionID, key string, expected *string, value string) (bool, error) {
	if err := validateKey(sessionID, key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, unavailable("compare and set", err)
	}
	sh := s.shard(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.values[key]
	switch {
	case expected == nil && ok:
		return false, nil
	case expected != nil && (!ok || cur != *expected):
		return false, nil
	}
	sh.values[key] = value
	return true, nil
}
