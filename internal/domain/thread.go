package domain

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ThreadMessage is one entry of a provider-side thread log.
type ThreadMessage struct {
	ID        string
	Role      string
	RunID     string
	CreatedAt int64
	// Text is the first text block of the message; HasText is false when the
	// message carries no text block at all.
	Text    string
	HasText bool
}

// RunSpec describes the run to start on a thread.
type RunSpec struct {
	Instructions string
	Metadata     map[string]string
}
