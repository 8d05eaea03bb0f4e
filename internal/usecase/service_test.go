package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/integrations/openai"
	"tutor-agent/internal/metrics"
	"tutor-agent/internal/registry"
	"tutor-agent/internal/repository"
)

type fakeRegistry struct {
	mu        sync.Mutex
	threads   map[string]string
	creates   int
	err       error
	deleted   []string
	forgotten []string
	deleteErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{threads: map[string]string{}}
}

func (r *fakeRegistry) GetOrCreateThread(_ context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if id, ok := r.threads[sessionID]; ok {
		return id, nil
	}
	r.creates++
	id := "thread_for_" + sessionID
	r.threads[sessionID] = id
	return id, nil
}

func (r *fakeRegistry) DeleteThread(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return false, r.deleteErr
	}
	r.deleted = append(r.deleted, sessionID)
	_, ok := r.threads[sessionID]
	delete(r.threads, sessionID)
	return ok, nil
}

func (r *fakeRegistry) ForgetThread(_ context.Context, threadID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return "", r.deleteErr
	}
	r.forgotten = append(r.forgotten, threadID)
	for sessionID, id := range r.threads {
		if id == threadID {
			delete(r.threads, sessionID)
			return sessionID, nil
		}
	}
	return "", nil
}

func newTestService(t *testing.T, api *fakeAssistant, reg *fakeRegistry) (*TutorService, *RunTracker) {
	t.Helper()
	m := metrics.New()
	coord := mustCoordinator(t, api)
	tracker := NewRunTracker(time.Hour)
	svc, err := NewTutorService(reg, api, coord, tracker,
		WithServiceMetrics(m),
		WithPollIntervals(time.Millisecond, time.Millisecond),
	)
	require.NoError(t, err)
	return svc, tracker
}

func notFoundErr() error {
	return &openai.HTTPStatusError{StatusCode: http.StatusNotFound, Body: `{"error":{"message":"No run found"}}`}
}

func TestNewTutorService_Validation(t *testing.T) {
	api := &fakeAssistant{}
	coord := mustCoordinator(t, api)
	_, err := NewTutorService(nil, api, coord, nil)
	require.ErrorContains(t, err, "registry")
	_, err = NewTutorService(newFakeRegistry(), nil, coord, nil)
	require.ErrorContains(t, err, "provider")
	_, err = NewTutorService(newFakeRegistry(), api, nil, nil)
	require.ErrorContains(t, err, "coordinator")

	svc, err := NewTutorService(newFakeRegistry(), api, coord, nil)
	require.NoError(t, err)
	require.NotNil(t, svc.tracker)
}

func TestRunAssistant_ResolvesThreadAndPostProcesses(t *testing.T) {
	api := &fakeAssistant{messages: []domain.ThreadMessage{
		assistantMsg("A circle's area is \\(\\pi r^2\\).\n\n```mermaid\ngraph TD\n  r-->A\n```", 10),
	}}
	reg := newFakeRegistry()
	svc, tracker := newTestService(t, api, reg)

	out, err := svc.RunAssistant(context.Background(), LessonInput{
		SessionID: "s-1", Message: "What is the area of a circle?", Age: "11-13", Language: "English",
	})
	require.NoError(t, err)
	require.Equal(t, "A circle's area is $\\pi r^2$.", out.Result)
	require.Equal(t, "graph TD\n  r-->A", out.Diagram)
	require.Equal(t, "run_1", out.RunID)

	require.Equal(t, 1, reg.creates)
	require.Equal(t, map[string]string{"session_id": "s-1"}, api.specs[0].Metadata)
	require.Contains(t, api.specs[0].Instructions, "11 to 13")
	_, tracked := tracker.Lookup("s-1")
	require.False(t, tracked, "finished runs are cleared from the tracker")
}

func TestRunAssistant_UsesGivenThreadID(t *testing.T) {
	api := &fakeAssistant{messages: []domain.ThreadMessage{assistantMsg("Plain answer.", 1)}}
	reg := newFakeRegistry()
	svc, _ := newTestService(t, api, reg)

	out, err := svc.RunAssistant(context.Background(), LessonInput{
		ThreadID: "thread_explicit", Message: "hi", Language: "English",
	})
	require.NoError(t, err)
	require.Equal(t, "Plain answer.", out.Result)
	require.Empty(t, out.Diagram)
	require.Equal(t, 0, reg.creates)
	require.Nil(t, api.specs[0].Metadata)
}

func TestLessonValidation_NoProviderCalls(t *testing.T) {
	api := &fakeAssistant{}
	reg := newFakeRegistry()
	svc, _ := newTestService(t, api, reg)
	ctx := context.Background()

	_, err := svc.RunAssistant(ctx, LessonInput{SessionID: "s-1", Message: "hi"})
	requireCode(t, err, ErrorInvalidInput)
	_, err = svc.GenerateQuestions(ctx, LessonInput{Message: "hi", Language: "English"})
	requireCode(t, err, ErrorInvalidInput)
	_, err = svc.GenerateSummary(ctx, LessonInput{SessionID: "s-1", Language: "English"})
	requireCode(t, err, ErrorInvalidInput)
	_, err = svc.GenerateTopicQuestions(ctx, TopicInput{SessionID: "s-1", Language: "English"})
	requireCode(t, err, ErrorInvalidInput)
	_, err = svc.GenerateTopicQuestions(ctx, TopicInput{SessionID: "s-1", Topic: "Space"})
	requireCode(t, err, ErrorInvalidInput)
	_, err = svc.ThreadID(ctx, " ")
	requireCode(t, err, ErrorInvalidInput)

	require.Empty(t, api.calls)
	require.Equal(t, 0, reg.creates)
}

func TestGenerateQuestions(t *testing.T) {
	api := &fakeAssistant{messages: []domain.ThreadMessage{assistantMsg(wellFormedQuiz, 1)}}
	svc, _ := newTestService(t, api, newFakeRegistry())

	qs, err := svc.GenerateQuestions(context.Background(), LessonInput{SessionID: "s-1", Message: "Plants", Language: "English"})
	require.NoError(t, err)
	require.Len(t, qs, 3)
	require.Contains(t, api.specs[0].Instructions, "correctAnswer")

	api.messages = []domain.ThreadMessage{assistantMsg("Sorry, I can't do that.", 2)}
	qs, err = svc.GenerateQuestions(context.Background(), LessonInput{SessionID: "s-1", Message: "Plants", Language: "English"})
	require.NoError(t, err)
	require.NotNil(t, qs)
	require.Empty(t, qs)
}

func TestGenerateSummary_FallsBackToTextSplit(t *testing.T) {
	api := &fakeAssistant{messages: []domain.ThreadMessage{assistantMsg("Magnets\n\nOpposite poles attract.", 1)}}
	svc, _ := newTestService(t, api, newFakeRegistry())

	s, err := svc.GenerateSummary(context.Background(), LessonInput{SessionID: "s-1", Message: "Summarize", Language: "English"})
	require.NoError(t, err)
	require.Equal(t, domain.Summary{Title: "Magnets", SummaryExplanation: "Opposite poles attract."}, s)
}

func TestGenerateTopicQuestions_RepairsLaTeX(t *testing.T) {
	api := &fakeAssistant{messages: []domain.ThreadMessage{
		assistantMsg(`{"questions": ["What is \frac{1}{2} of a pizza?", "Why is the sky blue?"]}`, 1),
	}}
	svc, _ := newTestService(t, api, newFakeRegistry())

	qs, err := svc.GenerateTopicQuestions(context.Background(), TopicInput{SessionID: "s-1", Topic: "Fractions", Language: "English"})
	require.NoError(t, err)
	require.Equal(t, []string{`What is \frac{1}{2} of a pizza?`, "Why is the sky blue?"}, qs)
	require.Equal(t, []string{"user:Topic: Fractions"}, api.appended)
}

func TestRunAssistant_RegistryFailure(t *testing.T) {
	api := &fakeAssistant{}
	reg := newFakeRegistry()
	reg.err = &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}
	svc, _ := newTestService(t, api, reg)

	_, err := svc.RunAssistant(context.Background(), LessonInput{SessionID: "s-1", Message: "hi", Language: "English"})
	requireCode(t, err, ErrorRateLimited)
	require.Empty(t, api.calls)
}

func TestThreadID(t *testing.T) {
	reg := newFakeRegistry()
	svc, _ := newTestService(t, &fakeAssistant{}, reg)

	id, err := svc.ThreadID(context.Background(), "s-9")
	require.NoError(t, err)
	require.Equal(t, "thread_for_s-9", id)

	reg.err = errors.New("dial tcp: refused")
	_, err = svc.ThreadID(context.Background(), "s-10")
	requireCode(t, err, ErrorUpstream)
}

func TestDeleteThread(t *testing.T) {
	api := &fakeAssistant{}
	reg := newFakeRegistry()
	svc, tracker := newTestService(t, api, reg)
	tracker.Record("s-1", domain.RunRef{ThreadID: "thread_1", RunID: "run_1"})

	require.NoError(t, svc.DeleteThread(context.Background(), "thread_1", "s-1"))
	require.Equal(t, []string{"thread_1"}, api.deleted)
	require.Equal(t, []string{"s-1"}, reg.deleted)
	_, ok := tracker.Lookup("s-1")
	require.False(t, ok)

	api.deleteErr = notFoundErr()
	require.NoError(t, svc.DeleteThread(context.Background(), "thread_gone", ""))
	require.Len(t, reg.deleted, 1)
	require.Equal(t, []string{"thread_gone"}, reg.forgotten)

	api.deleteErr = &openai.HTTPStatusError{StatusCode: http.StatusBadGateway}
	requireCode(t, svc.DeleteThread(context.Background(), "thread_1", "s-1"), ErrorUpstream)

	requireCode(t, svc.DeleteThread(context.Background(), " ", "s-1"), ErrorInvalidInput)
}

// threadMaker gives fakeAssistant the CreateThread half of a registry provider.
type threadMaker struct {
	*fakeAssistant
	n int
}

func (m *threadMaker) CreateThread(_ context.Context) (string, error) {
	m.n++
	return fmt.Sprintf("thread_%d", m.n), nil
}

func TestDeleteThreadWithoutSession_NextThreadIDIsFresh(t *testing.T) {
	ctx := context.Background()
	api := &fakeAssistant{}
	reg, err := registry.New(&threadMaker{fakeAssistant: api}, repository.NewMemoryStore(time.Hour))
	require.NoError(t, err)
	coord := mustCoordinator(t, api)
	svc, err := NewTutorService(reg, api, coord, NewRunTracker(time.Hour))
	require.NoError(t, err)

	first, err := svc.ThreadID(ctx, "s-1")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteThread(ctx, first, ""))
	require.Equal(t, []string{first}, api.deleted)

	second, err := svc.ThreadID(ctx, "s-1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestCancelRun_NotFoundIsSuccess(t *testing.T) {
	api := &fakeAssistant{retrieveErr: notFoundErr()}
	svc, _ := newTestService(t, api, newFakeRegistry())

	out, err := svc.CancelRun(context.Background(), CancelInput{ThreadID: "thread_1", RunID: "run_gone"})
	require.NoError(t, err)
	require.False(t, out.Cancelled)
	require.Equal(t, 0, api.cancelCalls)
}

func TestCancelRun_CancelNotFoundIsSuccess(t *testing.T) {
	api := &fakeAssistant{statuses: []domain.RunStatus{domain.RunStatusInProgress}, cancelErr: notFoundErr()}
	svc, _ := newTestService(t, api, newFakeRegistry())

	out, err := svc.CancelRun(context.Background(), CancelInput{ThreadID: "thread_1", RunID: "run_1"})
	require.NoError(t, err)
	require.False(t, out.Cancelled)
	require.Equal(t, 1, api.cancelCalls)
}

func TestCancelRun_OnlyCancellableStatusesCallCancel(t *testing.T) {
	for status, wantCancel := range map[domain.RunStatus]bool{
		domain.RunStatusQueued:         true,
		domain.RunStatusInProgress:     true,
		domain.RunStatusRequiresAction: true,
		domain.RunStatusCompleted:      false,
		domain.RunStatusFailed:         false,
		domain.RunStatusCancelling:     false,
	} {
		t.Run(string(status), func(t *testing.T) {
			api := &fakeAssistant{statuses: []domain.RunStatus{status}}
			svc, _ := newTestService(t, api, newFakeRegistry())
			out, err := svc.CancelRun(context.Background(), CancelInput{ThreadID: "thread_1", RunID: "run_1"})
			require.NoError(t, err)
			require.Equal(t, wantCancel, out.Cancelled)
			if wantCancel {
				require.Equal(t, 1, api.cancelCalls)
			} else {
				require.Equal(t, 0, api.cancelCalls)
			}
		})
	}
}

func TestCancelRun_UpstreamError(t *testing.T) {
	api := &fakeAssistant{retrieveErr: &openai.HTTPStatusError{StatusCode: http.StatusInternalServerError}}
	svc, _ := newTestService(t, api, newFakeRegistry())
	_, err := svc.CancelRun(context.Background(), CancelInput{ThreadID: "thread_1", RunID: "run_1"})
	requireCode(t, err, ErrorUpstream)
}

func TestCancelRun_SessionLookup(t *testing.T) {
	api := &fakeAssistant{statuses: []domain.RunStatus{domain.RunStatusInProgress}}
	svc, tracker := newTestService(t, api, newFakeRegistry())

	out, err := svc.CancelRun(context.Background(), CancelInput{SessionID: "s-untracked"})
	require.NoError(t, err)
	require.False(t, out.Cancelled)
	require.Empty(t, api.calls)

	_, err = svc.CancelRun(context.Background(), CancelInput{RunID: "run_1"})
	requireCode(t, err, ErrorInvalidInput)

	tracker.Record("s-1", domain.RunRef{ThreadID: "thread_1", RunID: "run_1"})
	out, err = svc.CancelRun(context.Background(), CancelInput{SessionID: "s-1"})
	require.NoError(t, err)
	require.True(t, out.Cancelled)
	_, ok := tracker.Lookup("s-1")
	require.False(t, ok)
}

func TestCancelRun_StopsInFlightInvoke(t *testing.T) {
	api := &fakeAssistant{statuses: []domain.RunStatus{domain.RunStatusInProgress}}
	svc, tracker := newTestService(t, api, newFakeRegistry())

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunAssistant(context.Background(), LessonInput{SessionID: "s-1", Message: "long question", Language: "English"})
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, ok := tracker.Lookup("s-1")
		return ok
	}, time.Second, time.Millisecond)

	out, err := svc.CancelRun(context.Background(), CancelInput{SessionID: "s-1"})
	require.NoError(t, err)
	require.True(t, out.Cancelled)

	select {
	case err := <-done:
		requireCode(t, err, ErrorRunFailed)
		require.True(t, strings.Contains(err.Error(), "cancelled"))
	case <-time.After(5 * time.Second):
		t.Fatal("invoke did not observe the cancellation")
	}
}
