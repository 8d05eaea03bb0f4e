package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"tutor-agent/internal/domain"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultHTTPTimeout = 30 * time.Second
	messageListLimit   = 20
)

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// IsNotFound reports whether err carries an upstream 404.
func IsNotFound(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// Client talks to an Assistants-style API (threads, messages, runs).
type Client struct {
	baseURL     string
	httpClient  *http.Client
	assistantID string
	model       string

	staticKey   string
	getter      Getter
	paramPrefix string

	mu  sync.Mutex
	api *sdk.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey uses a fixed API key instead of Parameter Store.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.staticKey = strings.TrimSpace(key)
	}
}

// WithParamStore fetches the API key from <prefix>/open-ai-token on first use.
func WithParamStore(getter Getter, paramPrefix string) Option {
	return func(c *Client) {
		c.getter = getter
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	}
}

// WithModel overrides the assistant's model for every run.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = strings.TrimSpace(model)
	}
}

// NewClient creates a Client bound to one assistant. Either WithAPIKey or
// WithParamStore must be supplied.
func NewClient(assistantID string, opts ...Option) (*Client, error) {
	assistantID = strings.TrimSpace(assistantID)
	if assistantID == "" {
		return nil, errors.New("openai: assistant id must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		assistantID: assistantID,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.staticKey == "" && c.getter == nil {
		return nil, errors.New("openai: an API key or a paramstore getter is required")
	}
	if c.staticKey == "" && c.paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	return c, nil
}

// resolveAPI builds the SDK client once the API key is known. A failed key
// lookup is not cached, so the next request tries Parameter Store again.
func (c *Client) resolveAPI(ctx context.Context) (*sdk.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}

	key := c.staticKey
	if key == "" {
		var err error
		key, err = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
		if err != nil {
			return nil, err
		}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithBaseURL(c.resolvedBaseURL()),
		option.WithMaxRetries(0),
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	api := sdk.NewClient(opts...)
	c.api = &api
	return c.api, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func (c *Client) resolvedBaseURL() string {
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// CreateThread creates an empty conversation thread and returns its id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}
	thread, err := api.Beta.Threads.New(ctx, sdk.BetaThreadNewParams{})
	if err != nil {
		return "", wrapError("create thread", err)
	}
	if thread.ID == "" {
		return "", errors.New("openai: create thread: empty thread id")
	}
	return thread.ID, nil
}

// DeleteThread removes a thread on the provider side.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return err
	}
	if _, err := api.Beta.Threads.Delete(ctx, threadID); err != nil {
		return wrapError("delete thread", err)
	}
	return nil
}

// CreateMessage appends a text message to a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, role, content string) error {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return err
	}
	_, err = api.Beta.Threads.Messages.New(ctx, threadID, sdk.BetaThreadMessageNewParams{
		Role: sdk.BetaThreadMessageNewParamsRole(role),
		Content: sdk.BetaThreadMessageNewParamsContentUnion{
			OfString: sdk.String(content),
		},
	})
	if err != nil {
		return wrapError("create message", err)
	}
	return nil
}

// CreateRun starts the assistant on a thread with per-run instructions.
func (c *Client) CreateRun(ctx context.Context, threadID string, spec domain.RunSpec) (domain.Run, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return domain.Run{}, err
	}
	params := sdk.BetaThreadRunNewParams{
		AssistantID: c.assistantID,
	}
	if spec.Instructions != "" {
		params.Instructions = sdk.String(spec.Instructions)
	}
	if c.model != "" {
		params.Model = c.model
	}
	if len(spec.Metadata) > 0 {
		params.Metadata = sdk.Metadata(spec.Metadata)
	}
	run, err := api.Beta.Threads.Runs.New(ctx, threadID, params)
	if err != nil {
		return domain.Run{}, wrapError("create run", err)
	}
	return toDomainRun(run, threadID), nil
}

// RetrieveRun fetches the current state of a run.
func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (domain.Run, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return domain.Run{}, err
	}
	run, err := api.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return domain.Run{}, wrapError("retrieve run", err)
	}
	return toDomainRun(run, threadID), nil
}

// CancelRun asks the provider to stop a run.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) (domain.Run, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return domain.Run{}, err
	}
	run, err := api.Beta.Threads.Runs.Cancel(ctx, threadID, runID)
	if err != nil {
		return domain.Run{}, wrapError("cancel run", err)
	}
	return toDomainRun(run, threadID), nil
}

// ListMessages returns the most recent messages of a thread, newest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]domain.ThreadMessage, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return nil, err
	}
	page, err := api.Beta.Threads.Messages.List(ctx, threadID, sdk.BetaThreadMessageListParams{
		Order: sdk.BetaThreadMessageListParamsOrderDesc,
		Limit: sdk.Int(messageListLimit),
	})
	if err != nil {
		return nil, wrapError("list messages", err)
	}
	out := make([]domain.ThreadMessage, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, toDomainMessage(m))
	}
	return out, nil
}

func toDomainRun(run *sdk.Run, threadID string) domain.Run {
	if run == nil {
		return domain.Run{ThreadID: threadID}
	}
	if run.ThreadID != "" {
		threadID = run.ThreadID
	}
	return domain.Run{
		ID:        run.ID,
		ThreadID:  threadID,
		Status:    domain.RunStatus(run.Status),
		LastError: run.LastError.Message,
	}
}

func toDomainMessage(m sdk.Message) domain.ThreadMessage {
	out := domain.ThreadMessage{
		ID:        m.ID,
		Role:      string(m.Role),
		RunID:     m.RunID,
		CreatedAt: m.CreatedAt,
	}
	for _, part := range m.Content {
		if part.Type == "text" {
			out.Text = part.Text.Value
			out.HasText = true
			break
		}
	}
	return out
}

// wrapError converts SDK API errors into *HTTPStatusError so callers can
// branch on the upstream status without importing the SDK.
func wrapError(op string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		statusErr := &HTTPStatusError{
			StatusCode: apiErr.StatusCode,
			Body:       apiErr.RawJSON(),
		}
		if apiErr.Request != nil && apiErr.Request.URL != nil {
			statusErr.URL = apiErr.Request.URL.String()
		}
		return fmt.Errorf("openai: %s: %w", op, statusErr)
	}
	return fmt.Errorf("openai: %s: %w", op, err)
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
