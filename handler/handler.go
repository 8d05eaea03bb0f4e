package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tutor-agent/internal/domain"
	"tutor-agent/internal/usecase"
)

const (
	headerSessionID     = "X-Session-Id"
	headerCorrelationID = "X-Correlation-Id"
)

// TutorUseCase is the service surface the routes call.
type TutorUseCase interface {
	ThreadID(ctx context.Context, sessionID string) (string, error)
	RunAssistant(ctx context.Context, in usecase.LessonInput) (usecase.ChatOutput, error)
	GenerateQuestions(ctx context.Context, in usecase.LessonInput) ([]domain.QuizQuestion, error)
	GenerateSummary(ctx context.Context, in usecase.LessonInput) (domain.Summary, error)
	GenerateTopicQuestions(ctx context.Context, in usecase.TopicInput) ([]string, error)
	DeleteThread(ctx context.Context, threadID, sessionID string) error
	CancelRun(ctx context.Context, in usecase.CancelInput) (usecase.CancelOutput, error)
}

type Handler struct {
	uc      TutorUseCase
	log     *zap.Logger
	metrics http.Handler
	cors    []string
	rps     float64
	e       *echo.Echo
}

type Option func(*Handler)

func WithLogger(log *zap.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(mh http.Handler) Option {
	return func(h *Handler) {
		h.metrics = mh
	}
}

func WithCORSOrigins(origins ...string) Option {
	return func(h *Handler) {
		if len(origins) > 0 {
			h.cors = origins
		}
	}
}

// WithRateLimit enables a per-client token bucket. Zero disables it.
func WithRateLimit(rps float64) Option {
	return func(h *Handler) {
		h.rps = rps
	}
}

func NewHandler(uc TutorUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{
		uc:   uc,
		log:  zap.NewNop(),
		cors: []string{"*"},
	}
	for _, opt := range opts {
		opt(h)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = h.handleEchoError
	h.useMiddleware(e)
	h.RegisterRoutes(e)
	h.e = e
	return h, nil
}

// Echo returns the configured router, for serving and for graceful shutdown.
func (h *Handler) Echo() *echo.Echo {
	return h.e
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.e.ServeHTTP(w, r)
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	api.POST("/runAssistant", h.RunAssistant)
	api.POST("/generateQuestions", h.GenerateQuestions)
	api.POST("/generateRandomTopicQuestions", h.GenerateRandomTopicQuestions)
	api.POST("/generateSummary", h.GenerateSummary)
	api.GET("/threadId", h.ThreadID)
	api.DELETE("/deleteThread/:threadId", h.DeleteThread)
	api.POST("/cancelAssistantRun", h.CancelAssistantRun)

	e.GET("/health", h.Health)
	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}
}

// RunAssistant handles POST /api/runAssistant.
func (h *Handler) RunAssistant(c echo.Context) error {
	var req lessonRequest
	if err := h.bind(c, &req); err != nil {
		return h.writeError(c, err)
	}
	out, err := h.uc.RunAssistant(c.Request().Context(), req.toInput())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, chatResponse{Result: out.Result, RunID: out.RunID, Diagram: out.Diagram})
}

// GenerateQuestions handles POST /api/generateQuestions. The session id
// travels in the X-Session-Id header; a body field is accepted as fallback.
func (h *Handler) GenerateQuestions(c echo.Context) error {
	var req lessonRequest
	if err := c.Bind(&req); err != nil {
		return h.writeError(c, invalidBody(err))
	}
	if sid := strings.TrimSpace(c.Request().Header.Get(headerSessionID)); sid != "" {
		req.SessionID = sid
	}
	if err := c.Validate(&req); err != nil {
		return h.writeError(c, err)
	}
	questions, err := h.uc.GenerateQuestions(c.Request().Context(), req.toInput())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, quizResponse{Result: questions})
}

// GenerateRandomTopicQuestions handles POST /api/generateRandomTopicQuestions.
func (h *Handler) GenerateRandomTopicQuestions(c echo.Context) error {
	var req topicRequest
	if err := h.bind(c, &req); err != nil {
		return h.writeError(c, err)
	}
	questions, err := h.uc.GenerateTopicQuestions(c.Request().Context(), usecase.TopicInput{
		SessionID: req.SessionID,
		ThreadID:  req.ThreadID,
		Topic:     req.Topic,
		Age:       string(req.Age),
		Language:  req.Language,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, topicQuestionsResponse{Questions: questions})
}

// GenerateSummary handles POST /api/generateSummary.
func (h *Handler) GenerateSummary(c echo.Context) error {
	var req lessonRequest
	if err := h.bind(c, &req); err != nil {
		return h.writeError(c, err)
	}
	summary, err := h.uc.GenerateSummary(c.Request().Context(), req.toInput())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, summaryResponse{Title: summary.Title, SummaryExplanation: summary.SummaryExplanation})
}

// ThreadID handles GET /api/threadId?sessionId=.
func (h *Handler) ThreadID(c echo.Context) error {
	var q threadIDQuery
	if err := h.bind(c, &q); err != nil {
		return h.writeError(c, err)
	}
	threadID, err := h.uc.ThreadID(c.Request().Context(), q.SessionID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, threadIDResponse{ThreadID: threadID})
}

// DeleteThread handles DELETE /api/deleteThread/:threadId. An optional
// sessionId query parameter also drops the session's mapping.
func (h *Handler) DeleteThread(c echo.Context) error {
	threadID := c.Param("threadId")
	sessionID := c.QueryParam("sessionId")
	if sessionID == "" {
		sessionID = c.Request().Header.Get(headerSessionID)
	}
	if err := h.uc.DeleteThread(c.Request().Context(), threadID, sessionID); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true})
}

// CancelAssistantRun handles POST /api/cancelAssistantRun.
func (h *Handler) CancelAssistantRun(c echo.Context) error {
	var req cancelRequest
	if err := h.bind(c, &req); err != nil {
		return h.writeError(c, err)
	}
	out, err := h.uc.CancelRun(c.Request().Context(), usecase.CancelInput{
		SessionID: req.SessionID,
		ThreadID:  req.ThreadID,
		RunID:     req.RunID,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, cancelResponse{Success: true, Cancelled: out.Cancelled, Status: string(out.Status)})
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return invalidBody(err)
	}
	return c.Validate(dst)
}

func (r lessonRequest) toInput() usecase.LessonInput {
	return usecase.LessonInput{
		SessionID: r.SessionID,
		ThreadID:  r.ThreadID,
		Message:   r.Message,
		Age:       string(r.Age),
		Language:  r.Language,
	}
}

func invalidBody(err error) error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
}
