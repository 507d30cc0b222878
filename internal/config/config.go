package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ReasoningMode controls how upstream thinking content is rendered.
type ReasoningMode string

const (
	ReasoningModeThink ReasoningMode = "think"
	ReasoningModePure  ReasoningMode = "pure"
	ReasoningModeRaw   ReasoningMode = "raw"
)

// AppConfig holds the full environment-driven configuration surface.
type AppConfig struct {
	// Upstream
	APIBase          string
	UpstreamToken    string
	AnonTokenEnabled bool
	ModelName        string

	// Listener
	Port      int
	DebugMode bool

	// Access control
	APIKey        string
	APIKeyEnabled bool
	CORSOrigins   string

	// Reasoning rendering
	ReasoningMode ReasoningMode

	// Prompt variable expansion
	UserName     string
	UserLocation string
	UserLang     string

	// Cache TTLs
	ModelsCacheTTL   time.Duration
	AuthTokenTTL     time.Duration
	ContentCacheTTL  time.Duration
	CacheMaxSize     int
	CacheDefaultTTL  time.Duration

	// Timeouts and limits
	RequestTimeout        time.Duration
	StreamTimeout         time.Duration
	ToolCallTimeout       time.Duration
	MaxConcurrentRequests int

	// Observability
	LogLevel          string
	LogFile           string
	PerfMonitoring    bool
}

// NewAppConfig loads configuration from the environment. A .env file in the
// working directory is honored when present.
func NewAppConfig() (*AppConfig, error) {
	// Missing .env is the normal case; only explicit env vars are required.
	_ = godotenv.Load()

	cfg := &AppConfig{
		APIBase:          getEnv("ZAI_API_BASE", "https://chat.z.ai"),
		UpstreamToken:    getEnv("ZAI_UPSTREAM_TOKEN", ""),
		AnonTokenEnabled: getEnvBool("ZAI_ANON_TOKEN_ENABLED", true),
		ModelName:        getEnv("ZAI_MODEL_NAME", "GLM-4.5"),

		Port:      getEnvInt("ZAI_PORT", 8089),
		DebugMode: getEnvBool("ZAI_DEBUG_MODE", false),

		APIKey:        getEnv("ZAI_API_KEY", ""),
		APIKeyEnabled: getEnvBool("ZAI_API_KEY_ENABLED", false),
		CORSOrigins:   getEnv("ZAI_CORS_ORIGINS", "*"),

		ReasoningMode: ReasoningMode(getEnv("ZAI_THINK_TAGS_MODE", string(ReasoningModeThink))),

		UserName:     getEnv("ZAI_USER_NAME", "User"),
		UserLocation: getEnv("ZAI_USER_LOCATION", ""),
		UserLang:     getEnv("ZAI_USER_LANG", "en-US"),

		ModelsCacheTTL:  getEnvSeconds("ZAI_MODELS_CACHE_TTL", 300),
		AuthTokenTTL:    getEnvSeconds("ZAI_AUTH_TOKEN_CACHE_TTL", 600),
		ContentCacheTTL: getEnvSeconds("ZAI_CONTENT_CACHE_TTL", 1800),
		CacheMaxSize:    getEnvInt("ZAI_CACHE_MAX_SIZE", 1000),
		CacheDefaultTTL: getEnvSeconds("ZAI_CACHE_DEFAULT_TTL", 300),

		RequestTimeout:        getEnvSeconds("ZAI_REQUEST_TIMEOUT", 60),
		StreamTimeout:         getEnvSeconds("ZAI_STREAM_TIMEOUT", 120),
		ToolCallTimeout:       getEnvSeconds("ZAI_TOOL_CALL_TIMEOUT", 30),
		MaxConcurrentRequests: getEnvInt("ZAI_MAX_CONCURRENT_REQUESTS", 100),

		LogLevel:       getEnv("ZAI_LOG_LEVEL", "info"),
		LogFile:        getEnv("ZAI_LOG_FILE", ""),
		PerfMonitoring: getEnvBool("ZAI_ENABLE_PERFORMANCE_MONITORING", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *AppConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1-65535, got %d", c.Port)
	}
	switch c.ReasoningMode {
	case ReasoningModeThink, ReasoningModePure, ReasoningModeRaw:
	default:
		return fmt.Errorf("reasoning mode must be think, pure or raw, got %q", c.ReasoningMode)
	}
	if c.CacheMaxSize < 1 {
		return fmt.Errorf("cache max size must be positive, got %d", c.CacheMaxSize)
	}
	if !c.AnonTokenEnabled && c.UpstreamToken == "" {
		return fmt.Errorf("ZAI_UPSTREAM_TOKEN is required when anonymous tokens are disabled")
	}
	return nil
}

// AuthRequired reports whether inbound requests must carry the shared key.
func (c *AppConfig) AuthRequired() bool {
	return c.APIKeyEnabled && c.APIKey != ""
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvSeconds(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Second
}

func getEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return def
}
