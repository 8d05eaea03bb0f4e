package domain

// RunStatus is the provider-reported lifecycle state of a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusIncomplete     RunStatus = "incomplete"
	RunStatusExpired        RunStatus = "expired"
)

// IsPending reports whether the provider is still working on the run.
func (s RunStatus) IsPending() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusCancelling:
		return true
	}
	return false
}

// IsTerminal reports whether the run will never transition again.
// requires_action is treated as terminal because no tools are ever declared.
func (s RunStatus) IsTerminal() bool {
	return !s.IsPending()
}

// IsCancellable reports whether a cancel request can still affect the run.
func (s RunStatus) IsCancellable() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusRequiresAction:
		return true
	}
	return false
}

// Run is a provider-side inference job against a thread.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	LastError string
}

// RunRef identifies the most recent run started for a session.
type RunRef struct {
	ThreadID string
	RunID    string
}
