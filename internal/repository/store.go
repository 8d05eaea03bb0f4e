package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by ThreadStore.Get when a session has no thread.
var ErrNotFound = errors.New("repository: not found")

// DefaultSessionTTL bounds how long a session keeps its thread mapping.
const DefaultSessionTTL = 24 * time.Hour

// ThreadStore persists the sessionId -> threadId mapping.
type ThreadStore interface {
	Get(ctx context.Context, sessionID string) (string, error)
	// PutIfAbsent stores threadID unless the session already has a mapping.
	// It returns the value that ends up stored and whether this call wrote it.
	PutIfAbsent(ctx context.Context, sessionID, threadID string) (string, bool, error)
	Delete(ctx context.Context, sessionID string) (bool, error)
	// DeleteByThread removes whichever session still maps to threadID and
	// returns that session id, or "" when none does.
	DeleteByThread(ctx context.Context, threadID string) (string, error)
}

func sessionKey(sessionID string) string {
	return "SESSION#" + sessionID
}

func threadKey(threadID string) string {
	return "THREAD#" + threadID
}
