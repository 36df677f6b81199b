package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ProviderConfig describes one LLM backend the gateway can dispatch to
type ProviderConfig struct {
	Name     string
	Model    string
	BaseURL  string
	APIKey   string
	Priority int
}

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Redis configuration
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// JWT configuration
	JWT struct {
		Secret string
		Expiry time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit       int
		RateLimitWindow time.Duration
		AllowedOrigins  []string
		TrustedProxies  []string
		MaxBodySize     int64
	}

	// Quota holds per-tier daily message ceilings
	Quota struct {
		FreeDailyLimit int64
		ProDailyLimit  int64
		// EnterpriseDailyLimit < 0 means unlimited
		EnterpriseDailyLimit int64
	}

	// LLM provider configuration
	LLM struct {
		Providers           []ProviderConfig
		PrimaryProvider     string
		FallbackProvider    string
		RetryBudget         int
		RequestTimeout      time.Duration
		FragmentTimeout     time.Duration
		DegradeThreshold    int
		DegradeCooldown     time.Duration
		MaxCompletionTokens int
	}

	// Cache settings for conversation context
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		TokenBudget int
		MaxMessages int
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables.
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		// Server config
		instance.Server.Port = getEnvString("PORT", "8081")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)

		// Database config
		instance.Database.Host = getEnvString("DB_HOST", "localhost")
		instance.Database.Port = getEnvString("DB_PORT", "5432")
		instance.Database.User = getEnvString("DB_USER", "postgres")
		instance.Database.Password = getEnvString("DB_PASSWORD", "postgres")
		instance.Database.Name = getEnvString("DB_NAME", "ai-companion")
		instance.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
		instance.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
		instance.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

		// Redis config
		instance.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
		instance.Redis.Password = getEnvString("REDIS_PASSWORD", "")
		instance.Redis.DB = getEnvInt("REDIS_DB", 0)

		// JWT config
		instance.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
		instance.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

		// Security config
		instance.Security.RateLimit = getEnvInt("RATE_LIMIT_PER_MINUTE", 60)
		instance.Security.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", time.Minute)
		instance.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
		instance.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})
		instance.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20) // 1MB

		// Quota config
		instance.Quota.FreeDailyLimit = getEnvInt64("DAILY_MESSAGE_LIMIT_FREE", 20)
		instance.Quota.ProDailyLimit = getEnvInt64("DAILY_MESSAGE_LIMIT_PRO", 500)
		instance.Quota.EnterpriseDailyLimit = getEnvInt64("DAILY_MESSAGE_LIMIT_ENTERPRISE", -1)

		// LLM config
		instance.LLM.PrimaryProvider = getEnvString("LLM_PRIMARY_PROVIDER", "groq")
		instance.LLM.FallbackProvider = getEnvString("LLM_FALLBACK_PROVIDER", "openai")
		instance.LLM.RetryBudget = getEnvInt("LLM_RETRY_BUDGET", 2)
		instance.LLM.RequestTimeout = getEnvDuration("LLM_REQUEST_TIMEOUT", 60*time.Second)
		instance.LLM.FragmentTimeout = getEnvDuration("LLM_FRAGMENT_TIMEOUT", 15*time.Second)
		instance.LLM.DegradeThreshold = getEnvInt("LLM_DEGRADE_THRESHOLD", 3)
		instance.LLM.DegradeCooldown = getEnvDuration("LLM_DEGRADE_COOLDOWN", 2*time.Minute)
		instance.LLM.MaxCompletionTokens = getEnvInt("LLM_MAX_COMPLETION_TOKENS", 500)
		instance.LLM.Providers = applyProviderOrder(loadProviders(),
			instance.LLM.PrimaryProvider, instance.LLM.FallbackProvider)

		// Cache settings
		instance.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
		instance.Cache.TTL = getEnvDuration("CACHE_TTL", time.Hour)
		instance.Cache.TokenBudget = getEnvInt("CACHE_TOKEN_BUDGET", 2000)
		instance.Cache.MaxMessages = getEnvInt("CACHE_MAX_MESSAGES", 10)

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// loadProviders reads provider definitions from the environment. A provider is
// only registered when its API key is present.
func loadProviders() []ProviderConfig {
	var providers []ProviderConfig

	if key := getEnvString("GROQ_API_KEY", ""); key != "" {
		providers = append(providers, ProviderConfig{
			Name:     "groq",
			Model:    getEnvString("GROQ_MODEL", "llama-3.1-8b-instant"),
			BaseURL:  getEnvString("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			APIKey:   key,
			Priority: getEnvInt("GROQ_PRIORITY", 1),
		})
	}

	if key := getEnvString("OPENAI_API_KEY", ""); key != "" {
		providers = append(providers, ProviderConfig{
			Name:     "openai",
			Model:    getEnvString("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:  getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:   key,
			Priority: getEnvInt("OPENAI_PRIORITY", 2),
		})
	}

	return providers
}

// applyProviderOrder overrides the per-provider priorities so the configured
// primary dispatches first and the configured fallback second. Providers
// named by neither keep their own priority.
func applyProviderOrder(providers []ProviderConfig, primary, fallback string) []ProviderConfig {
	for i := range providers {
		switch providers[i].Name {
		case primary:
			providers[i].Priority = 0
		case fallback:
			providers[i].Priority = 1
		}
	}
	return providers
}

// TierLimit returns the daily message ceiling for a subscription tier
func (c *Config) TierLimit(tier string) int64 {
	switch tier {
	case "pro":
		return c.Quota.ProDailyLimit
	case "enterprise":
		return c.Quota.EnterpriseDailyLimit
	default:
		return c.Quota.FreeDailyLimit
	}
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
