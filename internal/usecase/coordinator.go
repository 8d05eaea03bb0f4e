package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/metrics"
)

const (
	DefaultChatPollInterval       = time.Second
	DefaultGenerationPollInterval = 1500 * time.Millisecond
	DefaultMaxRunWait             = 2 * time.Minute

	// FallbackReply is returned when a completed run left no readable text.
	FallbackReply = "No response from assistant."

	cancelTimeout = 10 * time.Second
)

var errRunPending = errors.New("usecase: run still pending")

// AssistantAPI is the thread/run/message capability set of the provider.
type AssistantAPI interface {
	CreateMessage(ctx context.Context, threadID, role, content string) error
	CreateRun(ctx context.Context, threadID string, spec domain.RunSpec) (domain.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (domain.Run, error)
	CancelRun(ctx context.Context, threadID, runID string) (domain.Run, error)
	ListMessages(ctx context.Context, threadID string) ([]domain.ThreadMessage, error)
}

type InvokeInput struct {
	ThreadID     string
	Message      string
	Instructions string
	PollInterval time.Duration
	// Kind labels metrics and logs (chat, quiz, summary, topic_questions).
	Kind     string
	Metadata map[string]string
	// OnRunCreated, if set, is called as soon as the run id is known.
	OnRunCreated func(domain.RunRef)
}

type InvokeOutput struct {
	Text  string
	RunID string
}

// Coordinator drives one message/run/poll/read cycle against a thread.
// Invocations on the same thread are serialized so each caller reads the
// reply of its own run.
type Coordinator struct {
	api     AssistantAPI
	log     *zap.Logger
	metrics *metrics.Metrics
	maxWait time.Duration
	locks   *threadLocks
}

type CoordinatorOption func(*Coordinator)

func WithCoordinatorLogger(log *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

func WithCoordinatorMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithMaxRunWait bounds how long a run may stay pending before it is cancelled.
func WithMaxRunWait(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.maxWait = d
		}
	}
}

func NewCoordinator(api AssistantAPI, opts ...CoordinatorOption) (*Coordinator, error) {
	if api == nil {
		return nil, errors.New("usecase: assistant api must not be nil")
	}
	c := &Coordinator{
		api:     api,
		log:     zap.NewNop(),
		maxWait: DefaultMaxRunWait,
		locks:   newThreadLocks(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Coordinator) Invoke(ctx context.Context, in InvokeInput) (InvokeOutput, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return InvokeOutput{}, newError(ErrorInvalidInput, "missing_thread_id", nil)
	}
	if strings.TrimSpace(in.Message) == "" {
		return InvokeOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	interval := in.PollInterval
	if interval <= 0 {
		interval = DefaultChatPollInterval
	}
	kind := in.Kind
	if kind == "" {
		kind = string(KindChat)
	}
	log := c.log.With(zap.String("thread_id", threadID), zap.String("kind", kind))

	release, err := c.locks.acquire(ctx, threadID)
	if err != nil {
		log.Warn("request cancelled while waiting for thread", zap.Error(err))
		return InvokeOutput{}, newError(ErrorInternal, "request_cancelled", err)
	}
	defer release()

	started := time.Now()
	if err := c.api.CreateMessage(ctx, threadID, domain.RoleUser, in.Message); err != nil {
		log.Error("append message failed", zap.Error(err))
		ucErr := upstreamError("create_message", err)
		c.metrics.RunFinished(kind, runOutcome("", ucErr), time.Since(started))
		return InvokeOutput{}, ucErr
	}

	run, err := c.api.CreateRun(ctx, threadID, domain.RunSpec{
		Instructions: in.Instructions,
		Metadata:     in.Metadata,
	})
	if err != nil {
		log.Error("create run failed", zap.Error(err))
		ucErr := upstreamError("create_run", err)
		c.metrics.RunFinished(kind, runOutcome("", ucErr), time.Since(started))
		return InvokeOutput{}, ucErr
	}
	if run.ThreadID == "" {
		run.ThreadID = threadID
	}
	log = log.With(zap.String("run_id", run.ID))
	if in.OnRunCreated != nil {
		in.OnRunCreated(domain.RunRef{ThreadID: threadID, RunID: run.ID})
	}

	final, err := c.waitForRun(ctx, log, run, interval)
	if err != nil {
		c.metrics.RunFinished(kind, runOutcome("", err), time.Since(started))
		return InvokeOutput{RunID: run.ID}, err
	}
	c.metrics.RunFinished(kind, runOutcome(final.Status, nil), time.Since(started))

	switch final.Status {
	case domain.RunStatusCompleted:
	case domain.RunStatusRequiresAction:
		log.Warn("run requires action, cancelling")
		c.cancelQuietly(ctx, log, threadID, run.ID)
		return InvokeOutput{RunID: run.ID}, c.runFailed(log, final, run.ID)
	default:
		return InvokeOutput{RunID: run.ID}, c.runFailed(log, final, run.ID)
	}

	text, err := c.latestReply(ctx, threadID, run.ID)
	if err != nil {
		log.Error("list messages failed", zap.Error(err))
		return InvokeOutput{RunID: run.ID}, upstreamError("list_messages", err)
	}
	return InvokeOutput{Text: text, RunID: run.ID}, nil
}

// waitForRun polls at a fixed interval until the run leaves the pending
// states. A transport error ends the wait immediately. Exceeding maxWait
// cancels the run on a best-effort basis.
func (c *Coordinator) waitForRun(ctx context.Context, log *zap.Logger, run domain.Run, interval time.Duration) (domain.Run, error) {
	if run.Status != "" && run.Status.IsTerminal() {
		return run, nil
	}

	polls := 0
	final, err := backoff.Retry(ctx, func() (domain.Run, error) {
		polls++
		current, err := c.api.RetrieveRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			return domain.Run{}, backoff.Permanent(err)
		}
		if current.Status.IsPending() {
			return current, errRunPending
		}
		return current, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxElapsedTime(c.maxWait),
	)
	if err == nil {
		log.Debug("run finished", zap.String("status", string(final.Status)), zap.Int("polls", polls))
		return final, nil
	}

	switch {
	case errors.Is(err, errRunPending):
		log.Warn("run exceeded max wait, cancelling", zap.Duration("max_wait", c.maxWait), zap.Int("polls", polls))
		c.cancelQuietly(ctx, log, run.ThreadID, run.ID)
		return domain.Run{}, newError(ErrorRunTimeout, "run_max_wait_exceeded", &RunFailedError{RunID: run.ID, Status: string(final.Status)})
	case ctx.Err() != nil:
		log.Warn("request cancelled while waiting for run", zap.Error(err))
		c.cancelQuietly(ctx, log, run.ThreadID, run.ID)
		return domain.Run{}, newError(ErrorInternal, "request_cancelled", err)
	default:
		log.Error("retrieve run failed", zap.Error(err))
		return domain.Run{}, upstreamError("retrieve_run", err)
	}
}

// runOutcome is the outcome label of tutor_runs_total: the terminal run status
// when one was reached, otherwise a lowercase failure kind.
func runOutcome(status domain.RunStatus, err error) string {
	if err == nil {
		return string(status)
	}
	var ucErr *Error
	if errors.As(err, &ucErr) && ucErr.Reason == "request_cancelled" {
		return "request_cancelled"
	}
	switch CodeOf(err) {
	case ErrorRunTimeout:
		return "timeout"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorUpstream:
		return "upstream_error"
	default:
		return "internal_error"
	}
}

func (c *Coordinator) runFailed(log *zap.Logger, run domain.Run, runID string) error {
	failure := &RunFailedError{RunID: runID, Status: string(run.Status), LastError: run.LastError}
	log.Error("run did not complete", zap.String("status", failure.Status), zap.String("last_error", failure.LastError))
	return newError(ErrorRunFailed, "run_"+failure.Status, failure)
}

// latestReply returns the text of the newest assistant message written by
// runID. Messages without a run id are considered only when none carries it,
// newest created_at first, whatever order the provider listed them in.
func (c *Coordinator) latestReply(ctx context.Context, threadID, runID string) (string, error) {
	msgs, err := c.api.ListMessages(ctx, threadID)
	if err != nil {
		return "", err
	}
	var fromRun, newest *domain.ThreadMessage
	for i := range msgs {
		m := &msgs[i]
		if m.Role != domain.RoleAssistant {
			continue
		}
		if runID != "" && m.RunID == runID && (fromRun == nil || m.CreatedAt > fromRun.CreatedAt) {
			fromRun = m
		}
		if newest == nil || m.CreatedAt > newest.CreatedAt {
			newest = m
		}
	}
	if fromRun != nil {
		newest = fromRun
	}
	if newest == nil || !newest.HasText {
		return FallbackReply, nil
	}
	return newest.Text, nil
}

// cancelQuietly runs detached from ctx so a cancelled request still stops its run.
func (c *Coordinator) cancelQuietly(ctx context.Context, log *zap.Logger, threadID, runID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if _, err := c.api.CancelRun(ctx, threadID, runID); err != nil {
		log.Warn("best-effort cancel failed", zap.Error(err))
	}
}
