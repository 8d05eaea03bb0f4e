package repository

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is the process-local ThreadStore. Mappings vanish on restart,
// after which sessions simply get a fresh thread.
type MemoryStore struct {
	cache *cache.Cache
	// threads holds the reverse threadId -> sessionId entries.
	threads *cache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemoryStore{cache: cache.New(ttl, ttl/4), threads: cache.New(ttl, ttl/4)}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (string, error) {
	v, ok := s.cache.Get(sessionKey(sessionID))
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}

func (s *MemoryStore) PutIfAbsent(ctx context.Context, sessionID, threadID string) (string, bool, error) {
	if err := s.cache.Add(sessionKey(sessionID), threadID, cache.DefaultExpiration); err == nil {
		s.threads.Set(threadKey(threadID), sessionID, cache.DefaultExpiration)
		return threadID, true, nil
	}
	existing, err := s.Get(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) (bool, error) {
	key := sessionKey(sessionID)
	v, ok := s.cache.Get(key)
	if !ok {
		return false, nil
	}
	s.cache.Delete(key)
	s.threads.Delete(threadKey(v.(string)))
	return true, nil
}

func (s *MemoryStore) DeleteByThread(ctx context.Context, threadID string) (string, error) {
	v, ok := s.threads.Get(threadKey(threadID))
	if !ok {
		return "", nil
	}
	s.threads.Delete(threadKey(threadID))
	sessionID := v.(string)
	current, err := s.Get(ctx, sessionID)
	if err != nil || current != threadID {
		return "", nil
	}
	s.cache.Delete(sessionKey(sessionID))
	return sessionID, nil
}

// Len reports the number of stored (possibly expired, not yet swept) mappings.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
