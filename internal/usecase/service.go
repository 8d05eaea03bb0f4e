package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/metrics"
)

// ThreadRegistry resolves a session to its conversation thread.
type ThreadRegistry interface {
	GetOrCreateThread(ctx context.Context, sessionID string) (string, error)
	DeleteThread(ctx context.Context, sessionID string) (bool, error)
	ForgetThread(ctx context.Context, threadID string) (string, error)
}

// Provider is the full Assistants capability set the service touches.
type Provider interface {
	AssistantAPI
	DeleteThread(ctx context.Context, threadID string) error
}

// TutorService is what the HTTP layer calls. It owns the run tracker and
// turns raw assistant replies into the shapes each endpoint returns.
type TutorService struct {
	registry ThreadRegistry
	provider Provider
	coord    *Coordinator
	tracker  *RunTracker
	log      *zap.Logger
	metrics  *metrics.Metrics

	chatInterval       time.Duration
	generationInterval time.Duration
}

type ServiceOption func(*TutorService)

func WithServiceLogger(log *zap.Logger) ServiceOption {
	return func(s *TutorService) {
		if log != nil {
			s.log = log
		}
	}
}

func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *TutorService) {
		s.metrics = m
	}
}

// WithPollIntervals sets the run poll interval for chat and for the JSON
// generation variants. Non-positive values keep the defaults.
func WithPollIntervals(chat, generation time.Duration) ServiceOption {
	return func(s *TutorService) {
		if chat > 0 {
			s.chatInterval = chat
		}
		if generation > 0 {
			s.generationInterval = generation
		}
	}
}

type LessonInput struct {
	SessionID string
	ThreadID  string
	Message   string
	Age       string
	Language  string
}

type TopicInput struct {
	SessionID string
	ThreadID  string
	Topic     string
	Age       string
	Language  string
}

type ChatOutput struct {
	Result  string
	RunID   string
	Diagram string
}

type CancelInput struct {
	SessionID string
	ThreadID  string
	RunID     string
}

type CancelOutput struct {
	// Cancelled is true when a cancel call was actually issued.
	Cancelled bool
	Status    domain.RunStatus
}

func NewTutorService(registry ThreadRegistry, provider Provider, coord *Coordinator, tracker *RunTracker, opts ...ServiceOption) (*TutorService, error) {
	if registry == nil {
		return nil, errors.New("usecase: thread registry must not be nil")
	}
	if provider == nil {
		return nil, errors.New("usecase: provider must not be nil")
	}
	if coord == nil {
		return nil, errors.New("usecase: coordinator must not be nil")
	}
	if tracker == nil {
		tracker = NewRunTracker(defaultTrackerTTL)
	}
	s := &TutorService{
		registry:           registry,
		provider:           provider,
		coord:              coord,
		tracker:            tracker,
		log:                zap.NewNop(),
		chatInterval:       DefaultChatPollInterval,
		generationInterval: DefaultGenerationPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ThreadID returns the session's thread, creating it on first use.
func (s *TutorService) ThreadID(ctx context.Context, sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	return s.resolveThread(ctx, sessionID, "")
}

func (s *TutorService) RunAssistant(ctx context.Context, in LessonInput) (ChatOutput, error) {
	if err := validateLesson(in); err != nil {
		return ChatOutput{}, err
	}
	out, err := s.invoke(ctx, KindChat, in.SessionID, in.ThreadID, in.Message, in.Age, in.Language, s.chatInterval)
	if err != nil {
		return ChatOutput{RunID: out.RunID}, err
	}

	result := ChatOutput{RunID: out.RunID}
	prose, diagram, ok := ExtractDiagram(out.Text)
	result.Result = NormalizeMath(prose)
	if ok {
		result.Diagram = diagram
	}
	return result, nil
}

func (s *TutorService) GenerateQuestions(ctx context.Context, in LessonInput) ([]domain.QuizQuestion, error) {
	if err := validateLesson(in); err != nil {
		return nil, err
	}
	out, err := s.invoke(ctx, KindQuiz, in.SessionID, in.ThreadID, in.Message, in.Age, in.Language, s.generationInterval)
	if err != nil {
		return nil, err
	}
	parsed := ParseQuizQuestions(out.Text)
	if !parsed.OK {
		s.log.Warn("quiz output did not parse, returning empty list",
			zap.String("run_id", out.RunID), zap.Error(parsed.Err))
	}
	return parsed.Value, nil
}

func (s *TutorService) GenerateSummary(ctx context.Context, in LessonInput) (domain.Summary, error) {
	if err := validateLesson(in); err != nil {
		return domain.Summary{}, err
	}
	out, err := s.invoke(ctx, KindSummary, in.SessionID, in.ThreadID, in.Message, in.Age, in.Language, s.generationInterval)
	if err != nil {
		return domain.Summary{}, err
	}
	parsed := ParseSummary(out.Text)
	if !parsed.OK {
		s.log.Warn("summary output was not JSON, using text split",
			zap.String("run_id", out.RunID), zap.Error(parsed.Err))
	}
	return parsed.Value, nil
}

func (s *TutorService) GenerateTopicQuestions(ctx context.Context, in TopicInput) ([]string, error) {
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, newError(ErrorInvalidInput, "empty_topic", nil)
	}
	if strings.TrimSpace(in.Language) == "" {
		return nil, newError(ErrorInvalidInput, "missing_language", nil)
	}
	if strings.TrimSpace(in.ThreadID) == "" && strings.TrimSpace(in.SessionID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_thread_id", nil)
	}
	message := fmt.Sprintf("Topic: %s", topic)
	out, err := s.invoke(ctx, KindTopicQuestions, in.SessionID, in.ThreadID, message, in.Age, in.Language, s.generationInterval)
	if err != nil {
		return nil, err
	}
	parsed := ParseTopicQuestions(out.Text)
	if !parsed.OK {
		s.log.Warn("topic questions did not parse, returning empty list",
			zap.String("run_id", out.RunID), zap.Error(parsed.Err))
	}
	return parsed.Value, nil
}

// DeleteThread removes the provider thread and the session mapping that points
// at it. Without a session id the mapping is found by thread id. A thread the
// provider no longer knows counts as deleted.
func (s *TutorService) DeleteThread(ctx context.Context, threadID, sessionID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return newError(ErrorInvalidInput, "missing_thread_id", nil)
	}
	if err := s.provider.DeleteThread(ctx, threadID); err != nil && !isNotFound(err) {
		s.log.Error("delete thread failed", zap.String("thread_id", threadID), zap.Error(err))
		return upstreamError("delete_thread", err)
	}
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		if _, err := s.registry.DeleteThread(ctx, sessionID); err != nil {
			return newError(ErrorInternal, "thread_registry_error", err)
		}
	} else {
		var err error
		if sessionID, err = s.registry.ForgetThread(ctx, threadID); err != nil {
			return newError(ErrorInternal, "thread_registry_error", err)
		}
	}
	if sessionID != "" {
		s.tracker.Forget(sessionID)
	}
	return nil
}

// CancelRun stops a run if it can still be stopped. Missing ids are looked up
// in the run tracker by session. A run the provider cannot find is treated as
// already finished.
func (s *TutorService) CancelRun(ctx context.Context, in CancelInput) (CancelOutput, error) {
	threadID, runID := strings.TrimSpace(in.ThreadID), strings.TrimSpace(in.RunID)
	sessionID := strings.TrimSpace(in.SessionID)
	if threadID == "" || runID == "" {
		if sessionID == "" {
			return CancelOutput{}, newError(ErrorInvalidInput, "missing_run_reference", nil)
		}
		ref, ok := s.tracker.Lookup(sessionID)
		if !ok {
			s.metrics.CancelRequested("no_run")
			return CancelOutput{}, nil
		}
		if threadID == "" {
			threadID = ref.ThreadID
		}
		if runID == "" {
			runID = ref.RunID
		}
	}
	log := s.log.With(zap.String("thread_id", threadID), zap.String("run_id", runID))

	run, err := s.provider.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		if isNotFound(err) {
			s.metrics.CancelRequested("not_found")
			s.tracker.Clear(sessionID, runID)
			return CancelOutput{}, nil
		}
		log.Error("retrieve run for cancel failed", zap.Error(err))
		return CancelOutput{}, upstreamError("retrieve_run", err)
	}
	if !run.Status.IsCancellable() {
		s.metrics.CancelRequested("noop")
		return CancelOutput{Status: run.Status}, nil
	}

	cancelled, err := s.provider.CancelRun(ctx, threadID, runID)
	if err != nil {
		if isNotFound(err) {
			s.metrics.CancelRequested("not_found")
			s.tracker.Clear(sessionID, runID)
			return CancelOutput{}, nil
		}
		log.Error("cancel run failed", zap.Error(err))
		return CancelOutput{}, upstreamError("cancel_run", err)
	}
	s.metrics.CancelRequested("cancelled")
	s.tracker.Clear(sessionID, runID)
	log.Info("run cancelled", zap.String("status", string(cancelled.Status)))
	return CancelOutput{Cancelled: true, Status: cancelled.Status}, nil
}

func (s *TutorService) invoke(ctx context.Context, kind Kind, sessionID, threadID, message, age, language string, interval time.Duration) (InvokeOutput, error) {
	sessionID = strings.TrimSpace(sessionID)
	threadID, err := s.resolveThread(ctx, sessionID, threadID)
	if err != nil {
		return InvokeOutput{}, err
	}

	in := InvokeInput{
		ThreadID:     threadID,
		Message:      message,
		Instructions: BuildInstructions(kind, age, language),
		PollInterval: interval,
		Kind:         string(kind),
	}
	if sessionID != "" {
		in.Metadata = map[string]string{"session_id": sessionID}
		in.OnRunCreated = func(ref domain.RunRef) {
			s.tracker.Record(sessionID, ref)
		}
	}

	out, err := s.coord.Invoke(ctx, in)
	if sessionID != "" && out.RunID != "" {
		s.tracker.Clear(sessionID, out.RunID)
	}
	return out, err
}

func (s *TutorService) resolveThread(ctx context.Context, sessionID, threadID string) (string, error) {
	if threadID = strings.TrimSpace(threadID); threadID != "" {
		return threadID, nil
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", newError(ErrorInvalidInput, "missing_thread_id", nil)
	}
	threadID, err := s.registry.GetOrCreateThread(ctx, sessionID)
	if err != nil {
		s.log.Error("resolve thread failed", zap.Error(err))
		return "", upstreamError("resolve_thread", err)
	}
	return threadID, nil
}

func validateLesson(in LessonInput) error {
	if strings.TrimSpace(in.Message) == "" {
		return newError(ErrorInvalidInput, "empty_message", nil)
	}
	if strings.TrimSpace(in.Language) == "" {
		return newError(ErrorInvalidInput, "missing_language", nil)
	}
	if strings.TrimSpace(in.ThreadID) == "" && strings.TrimSpace(in.SessionID) == "" {
		return newError(ErrorInvalidInput, "missing_thread_id", nil)
	}
	return nil
}

func isNotFound(err error) bool {
	status, ok := upstreamStatusCode(err)
	return ok && status == http.StatusNotFound
}
