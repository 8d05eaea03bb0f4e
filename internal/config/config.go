package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
	StoreRedis    = "redis"
)

type Config struct {
	HTTPPort string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	ParamPrefix   string
	AssistantID   string
	Model         string

	ChatPollInterval       time.Duration
	GenerationPollInterval time.Duration
	RunMaxWait             time.Duration
	SessionTTL             time.Duration

	ThreadStore string
	StateTable  string
	RedisURL    string

	LogLevel  string
	LogFormat string
	LogFile   string

	CORSAllowedOrigins []string
	RateLimitRPS       float64
}

// Load reads a .env file when one exists, then the process environment.
// Values from the real environment win over the file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort:               getEnv("HTTP_PORT", "8080"),
		OpenAIAPIKey:           getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:          getEnv("OPENAI_BASE_URL", ""),
		ParamPrefix:            strings.TrimRight(getEnv("PARAM_PREFIX", ""), "/"),
		AssistantID:            getEnv("ASSISTANT_ID", ""),
		Model:                  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		ChatPollInterval:       envDuration("CHAT_POLL_INTERVAL", time.Second),
		GenerationPollInterval: envDuration("GENERATION_POLL_INTERVAL", 1500*time.Millisecond),
		RunMaxWait:             envDuration("RUN_MAX_WAIT", 2*time.Minute),
		SessionTTL:             envDuration("SESSION_TTL", 24*time.Hour),
		ThreadStore:            strings.ToLower(getEnv("THREAD_STORE", StoreMemory)),
		StateTable:             getEnv("STATE_TABLE", ""),
		RedisURL:               getEnv("REDIS_URL", ""),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
		LogFile:                getEnv("LOG_FILE", ""),
		CORSAllowedOrigins:     envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:           envFloat("RATE_LIMIT_RPS", 0),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.OpenAIAPIKey == "" && c.ParamPrefix == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY or PARAM_PREFIX is required"))
	}
	if c.AssistantID == "" && c.ParamPrefix == "" {
		errs = append(errs, errors.New("ASSISTANT_ID or PARAM_PREFIX is required"))
	}
	switch c.ThreadStore {
	case StoreMemory:
	case StoreDynamoDB:
		if c.StateTable == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb thread store"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis thread store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown THREAD_STORE %q", c.ThreadStore))
	}
	for name, d := range map[string]time.Duration{
		"CHAT_POLL_INTERVAL":       c.ChatPollInterval,
		"GENERATION_POLL_INTERVAL": c.GenerationPollInterval,
		"RUN_MAX_WAIT":             c.RunMaxWait,
		"SESSION_TTL":              c.SessionTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return def
	}
	return n
}

// envDuration accepts Go durations ("1500ms") or a bare number of milliseconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms := envInt(key, -1); ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func envFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return def
	}
	return f
}

func envList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
