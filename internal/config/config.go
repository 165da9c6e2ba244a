package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Gateway modes reported by GatewayMode.
const (
	GatewayBackend = "backend"
	GatewayDirect  = "direct"
	GatewayNone    = "none"
)

// Config holds the service configuration read from the environment.
type Config struct {
	// Service configuration
	ServiceName string
	LogLevel    string
	LogFormat   string

	// NATS configuration
	NatsURL            string
	NatsRequestSubject string
	NatsEventSubject   string
	NatsTimeout        time.Duration

	// Platform API configuration
	APIBase         string
	APIToken        string
	NeighbourhoodID string
	APITimeout      time.Duration

	// LLM gateway configuration
	BackendURL    string
	UseBackend    bool
	LLMProvider   string
	GroqAPIKey    string
	GroqModel     string
	GroqBaseURL   string
	GeminiAPIKey  string
	GeminiModel   string
	LLMTimeout    time.Duration
	FormatTimeout time.Duration

	// Intent catalog
	CatalogPath string

	// Context storage
	StorageBackend string
	RedisURL       string
	SessionTTL     time.Duration
	BadgerPath     string

	// LLM proxy server
	ProxyAddr      string
	ProxyRateLimit float64
	ProxyRateBurst int
	CORSOrigins    []string
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		// Service settings
		ServiceName: getEnv("SERVICE_NAME", "neighbourbot"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		// NATS settings
		NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NatsRequestSubject: getEnv("NATS_REQUEST_SUBJECT", "neighbourbot.chat"),
		NatsEventSubject:   getEnv("NATS_EVENT_SUBJECT", "neighbourbot.events"),
		NatsTimeout:        getDurationEnv("NATS_TIMEOUT", 30*time.Second),

		// Platform API settings
		APIBase:         getEnv("API_BASE", "http://localhost:8000/api/v1"),
		APIToken:        getEnv("API_TOKEN", ""),
		NeighbourhoodID: getEnv("NEIGHBOURHOOD_ID", ""),
		APITimeout:      getDurationEnv("API_TIMEOUT", 30*time.Second),

		// Gateway settings
		BackendURL:    getEnv("BACKEND_URL", ""),
		UseBackend:    getBoolEnv("USE_BACKEND", true),
		LLMProvider:   strings.ToLower(getEnv("LLM_PROVIDER", "groq")),
		GroqAPIKey:    getEnv("GROQ_API_KEY", ""),
		GroqModel:     getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GroqBaseURL:   getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		LLMTimeout:    getDurationEnv("LLM_TIMEOUT", 30*time.Second),
		FormatTimeout: getDurationEnv("FORMAT_TIMEOUT", 15*time.Second),

		// Catalog settings
		CatalogPath: getEnv("CATALOG_PATH", ""),

		// Storage settings
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "memory")),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SessionTTL:     getDurationEnv("SESSION_TTL", 24*time.Hour),
		BadgerPath:     getEnv("BADGER_PATH", "./data/context"),

		// Proxy settings
		ProxyAddr:      getEnv("PROXY_ADDR", ":8000"),
		ProxyRateLimit: getFloatEnv("PROXY_RATE_LIMIT", 1),
		ProxyRateBurst: getIntEnv("PROXY_RATE_BURST", 10),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "http://localhost:3001,http://localhost:5173")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case "memory", "redis", "badger":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.LLMProvider {
	case "groq", "gemini":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.LLMTimeout <= 0 || c.FormatTimeout <= 0 || c.APITimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.ProxyRateLimit <= 0 || c.ProxyRateBurst <= 0 {
		return fmt.Errorf("proxy rate limit and burst must be positive")
	}
	return nil
}

// GatewayMode reports which LLM gateway this configuration selects:
// the backend proxy when one is configured, otherwise a direct client
// when the provider has a credential, otherwise none.
func (c *Config) GatewayMode() string {
	if c.UseBackend && c.BackendURL != "" {
		return GatewayBackend
	}
	if c.LLMAPIKey() != "" {
		return GatewayDirect
	}
	return GatewayNone
}

// LLMAPIKey returns the credential of the configured direct provider.
func (c *Config) LLMAPIKey() string {
	if c.LLMProvider == "gemini" {
		return c.GeminiAPIKey
	}
	return c.GroqAPIKey
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
