package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	DatabaseURL string
	LogLevel    string

	AssistantBaseURL string
	AssistantAPIKey  string
	AssistantID      string

	BlobBaseURL string
	BlobToken   string

	NatsURL   string
	NatsToken string

	JWTSecret string
}

func Load() Config {
	// A local .env is a convenience; absence is not an error.
	_ = godotenv.Load()

	return Config{
		Port:             envInt("PARLEY_PORT", 8650),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		AssistantBaseURL: envStr("ASSISTANT_BASE_URL", "https://api.openai.com"),
		AssistantAPIKey:  envStr("ASSISTANT_API_KEY", ""),
		AssistantID:      envStr("ASSISTANT_ID", ""),
		BlobBaseURL:      envStr("BLOB_BASE_URL", ""),
		BlobToken:        envStr("BLOB_TOKEN", ""),
		NatsURL:          envStr("NATS_URL", ""),
		NatsToken:        envStr("NATS_TOKEN", ""),
		JWTSecret:        envStr("JWT_SECRET", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
