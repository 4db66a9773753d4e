package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port          int
	NatsURL       string
	NatsToken     string
	DatabaseURL   string
	LogLevel      string
	AIServiceURL  string
	SlackBotToken string
	SlackChannel  string
	PolicyFile    string

	TranscribeTimeout   time.Duration
	GenerateTimeout     time.Duration
	ContextTimeout      time.Duration
	SummaryTimeout      time.Duration
	WriteTimeout        time.Duration
	ShutdownGracePeriod time.Duration
}

func Load() Config {
	return Config{
		Port:          envInt("ONNO_PORT", 8780),
		NatsURL:       envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:     envStr("NATS_TOKEN", ""),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		AIServiceURL:  envStr("AI_SERVICE_URL", "http://ai-service:8000/api"),
		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_MEETINGS_CHANNEL", ""),
		PolicyFile:    envStr("ONNO_POLICY_FILE", ""),

		TranscribeTimeout:   envDuration("ONNO_TRANSCRIBE_TIMEOUT", 30*time.Second),
		GenerateTimeout:     envDuration("ONNO_GENERATE_TIMEOUT", 15*time.Second),
		ContextTimeout:      envDuration("ONNO_CONTEXT_TIMEOUT", 20*time.Second),
		SummaryTimeout:      envDuration("ONNO_SUMMARY_TIMEOUT", 60*time.Second),
		WriteTimeout:        envDuration("ONNO_WS_WRITE_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDuration("ONNO_SHUTDOWN_GRACE", 15*time.Second),
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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
