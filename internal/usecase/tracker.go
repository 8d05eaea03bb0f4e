package usecase

import (
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"tutor-agent/internal/domain"
)

const defaultTrackerTTL = time.Hour

// RunTracker remembers the latest run per session so a cancel request that
// carries only a session id can still find its run. Entries may be stale.
type RunTracker struct {
	runs *cache.Cache
}

func NewRunTracker(ttl time.Duration) *RunTracker {
	if ttl <= 0 {
		ttl = defaultTrackerTTL
	}
	return &RunTracker{runs: cache.New(ttl, ttl)}
}

func (t *RunTracker) Record(sessionID string, ref domain.RunRef) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || ref.RunID == "" {
		return
	}
	t.runs.SetDefault(sessionID, ref)
}

func (t *RunTracker) Lookup(sessionID string) (domain.RunRef, bool) {
	v, ok := t.runs.Get(strings.TrimSpace(sessionID))
	if !ok {
		return domain.RunRef{}, false
	}
	return v.(domain.RunRef), true
}

// Clear drops the entry if it still points at runID.
func (t *RunTracker) Clear(sessionID, runID string) {
	sessionID = strings.TrimSpace(sessionID)
	if ref, ok := t.Lookup(sessionID); ok && ref.RunID == runID {
		t.runs.Delete(sessionID)
	}
}

// Forget drops whatever is recorded for the session.
func (t *RunTracker) Forget(sessionID string) {
	t.runs.Delete(strings.TrimSpace(sessionID))
}
