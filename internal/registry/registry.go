package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tutor-agent/internal/metrics"
	"tutor-agent/internal/repository"
)

// ErrEmptySessionID is returned before any provider call when the session id is blank.
var ErrEmptySessionID = errors.New("registry: session id must not be empty")

const orphanCleanupTimeout = 10 * time.Second

// ThreadProvider is the slice of the Assistants client the registry needs.
type ThreadProvider interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
}

// Registry maps session ids to provider threads. One mutex covers the whole
// check-create-store sequence, so a session never gets two threads from this
// process. Shared stores resolve cross-process races through PutIfAbsent.
type Registry struct {
	mu       sync.Mutex
	provider ThreadProvider
	store    repository.ThreadStore
	log      *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*Registry)

func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

func New(provider ThreadProvider, store repository.ThreadStore, opts ...Option) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: provider must not be nil")
	}
	if store == nil {
		return nil, errors.New("registry: store must not be nil")
	}
	r := &Registry{provider: provider, store: store, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// GetOrCreateThread returns the session's thread, creating it on first use.
// A provider failure stores nothing, so the next call tries again.
func (r *Registry) GetOrCreateThread(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrEmptySessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	threadID, err := r.store.Get(ctx, sessionID)
	if err == nil {
		return threadID, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("registry: lookup: %w", err)
	}

	threadID, err = r.provider.CreateThread(ctx)
	if err != nil {
		r.log.Error("create thread failed", zap.String("session_id", sessionID), zap.Error(err))
		return "", fmt.Errorf("registry: create thread: %w", err)
	}
	r.metrics.ThreadCreated()

	stored, created, err := r.store.PutIfAbsent(ctx, sessionID, threadID)
	if err != nil {
		r.discard(ctx, sessionID, threadID)
		return "", fmt.Errorf("registry: store mapping: %w", err)
	}
	if !created {
		r.metrics.ThreadOrphaned()
		r.discard(ctx, sessionID, threadID)
	}
	r.log.Debug("thread resolved",
		zap.String("session_id", sessionID),
		zap.String("thread_id", stored),
		zap.Bool("created", created))
	return stored, nil
}

// DeleteThread forgets the session's mapping and reports whether one existed.
// The provider-side thread is left alone.
func (r *Registry) DeleteThread(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, ErrEmptySessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existed, err := r.store.Delete(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("registry: delete mapping: %w", err)
	}
	return existed, nil
}

// ForgetThread drops whichever session still maps to threadID and returns
// that session id, or "" when none does.
func (r *Registry) ForgetThread(ctx context.Context, threadID string) (string, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return "", errors.New("registry: thread id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, err := r.store.DeleteByThread(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("registry: delete mapping by thread: %w", err)
	}
	if sessionID != "" {
		r.log.Debug("thread mapping forgotten",
			zap.String("session_id", sessionID),
			zap.String("thread_id", threadID))
	}
	return sessionID, nil
}

// discard deletes a thread nobody will ever see. Failures are only logged.
func (r *Registry) discard(ctx context.Context, sessionID, threadID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orphanCleanupTimeout)
	defer cancel()
	if err := r.provider.DeleteThread(ctx, threadID); err != nil {
		r.log.Warn("orphan thread cleanup failed",
			zap.String("session_id", sessionID),
			zap.String("thread_id", threadID),
			zap.Error(err))
	}
}
