package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"HTTP_PORT", "OPENAI_API_KEY", "OPENAI_BASE_URL", "PARAM_PREFIX", "ASSISTANT_ID",
	"OPENAI_MODEL", "CHAT_POLL_INTERVAL", "GENERATION_POLL_INTERVAL", "RUN_MAX_WAIT",
	"SESSION_TTL", "THREAD_STORE", "STATE_TABLE", "REDIS_URL", "LOG_LEVEL", "LOG_FORMAT",
	"LOG_FILE", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_RPS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, "gpt-4o-mini", cfg.Model)
	require.Equal(t, time.Second, cfg.ChatPollInterval)
	require.Equal(t, 1500*time.Millisecond, cfg.GenerationPollInterval)
	require.Equal(t, 2*time.Minute, cfg.RunMaxWait)
	require.Equal(t, 24*time.Hour, cfg.SessionTTL)
	require.Equal(t, StoreMemory, cfg.ThreadStore)
	require.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	require.Zero(t, cfg.RateLimitRPS)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("PARAM_PREFIX", "/tutor/prod/")
	t.Setenv("CHAT_POLL_INTERVAL", "250ms")
	t.Setenv("GENERATION_POLL_INTERVAL", "2000")
	t.Setenv("RUN_MAX_WAIT", "not-a-duration")
	t.Setenv("THREAD_STORE", "DynamoDB")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg := Load()
	require.Equal(t, "9090", cfg.HTTPPort)
	require.Equal(t, "/tutor/prod", cfg.ParamPrefix)
	require.Equal(t, 250*time.Millisecond, cfg.ChatPollInterval)
	require.Equal(t, 2*time.Second, cfg.GenerationPollInterval)
	require.Equal(t, 2*time.Minute, cfg.RunMaxWait)
	require.Equal(t, StoreDynamoDB, cfg.ThreadStore)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.InDelta(t, 2.5, cfg.RateLimitRPS, 1e-9)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ASSISTANT_ID", "asst_1")
	require.NoError(t, Load().Validate())

	cfg := Load()
	cfg.ThreadStore = StoreDynamoDB
	require.ErrorContains(t, cfg.Validate(), "STATE_TABLE")

	cfg = Load()
	cfg.ThreadStore = StoreRedis
	require.ErrorContains(t, cfg.Validate(), "REDIS_URL")

	cfg = Load()
	cfg.ThreadStore = "etcd"
	require.ErrorContains(t, cfg.Validate(), `unknown THREAD_STORE "etcd"`)

	cfg = Load()
	cfg.RunMaxWait = 0
	require.ErrorContains(t, cfg.Validate(), "RUN_MAX_WAIT must be positive")
}

func TestValidate_ReportsAllMissingCredentials(t *testing.T) {
	clearEnv(t)
	err := Load().Validate()
	require.ErrorContains(t, err, "OPENAI_API_KEY or PARAM_PREFIX")
	require.ErrorContains(t, err, "ASSISTANT_ID or PARAM_PREFIX")

	t.Setenv("PARAM_PREFIX", "/tutor")
	require.NoError(t, Load().Validate())
}
