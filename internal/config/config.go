package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	LogLevel    string
	RedisURL    string
	DatabaseURL string

	AWSRegion        string
	EncryptionKey    string
	AlertTopicARN    string
	UsageQueueURL    string
	OTLPEndpoint     string
	OpenAIBaseURL    string
	GroqBaseURL      string
	AnthropicBaseURL string

	RateLimitRPM int

	ProviderTimeout time.Duration
	CacheTTL        time.Duration
	ConfigCacheTTL  time.Duration
	SecretCacheTTL  time.Duration

	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:             getEnv("ADDR", ":8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		RedisURL:         getEnv("REDIS_URL", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		AWSRegion:        getEnv("AWS_REGION", ""),
		EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),
		AlertTopicARN:    getEnv("ALERT_TOPIC_ARN", ""),
		UsageQueueURL:    getEnv("USAGE_QUEUE_URL", ""),
		OTLPEndpoint:     getEnv("OTLP_ENDPOINT", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		GroqBaseURL:      getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		RateLimitRPM:     getIntEnv("RATE_LIMIT_RPM", 300),
		ProviderTimeout:  getDurationEnv("PROVIDER_TIMEOUT", 60*time.Second),
		CacheTTL:         getDurationEnv("CACHE_TTL", 10*time.Minute),
		ConfigCacheTTL:   getDurationEnv("CONFIG_CACHE_TTL", 30*time.Second),
		SecretCacheTTL:   getDurationEnv("SECRET_CACHE_TTL", 5*time.Minute),
		ShutdownTimeout:  getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
