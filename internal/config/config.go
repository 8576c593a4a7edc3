package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port               int
	NatsURL            string
	NatsToken          string
	DatabaseURL        string
	LogLevel           string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	ChatModel          string
	EmbeddingModel     string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioWhatsAppFrom string
	Workers            int
}

func Load() Config {
	return Config{
		Port:               envInt("ATTEND_PORT", 8760),
		NatsURL:            envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:          envStr("NATS_TOKEN", ""),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		LogLevel:           envStr("LOG_LEVEL", "info"),
		OpenAIAPIKey:       envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ChatModel:          envStr("CHAT_MODEL", "gpt-4-turbo"),
		EmbeddingModel:     envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		TwilioAccountSID:   envStr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:    envStr("TWILIO_AUTH_TOKEN", ""),
		TwilioWhatsAppFrom: envStr("TWILIO_WHATSAPP_NUMBER", ""),
		Workers:            envInt("ATTEND_WORKERS", 4),
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
