package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings carries everything the service reads from the environment.
type Settings struct {
	Host              string
	Port              string
	DBPath            string
	MaxSSHConnections int
	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration
	RollbackRetention time.Duration

	LLMProvider string
	LLMModel    string
	LLMBaseURL  string
	LLMAPIKey   string
}

// getEnv fetches environment variable or returns fallback
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Load reads .env if present and builds Settings from the environment.
func Load() Settings {
	_ = godotenv.Load()

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dbPath = filepath.Join(home, ".netval", "netval.db")
	}

	retentionHours := getEnvInt("PLAN_ROLLBACK_RETENTION", 24)

	return Settings{
		Host:              getEnv("WEB_HOST", "127.0.0.1"),
		Port:              getEnv("WEB_PORT", "8742"),
		DBPath:            dbPath,
		MaxSSHConnections: getEnvInt("MAX_SSH_CONNECTIONS", 5),
		ConnectTimeout:    15 * time.Second,
		CommandTimeout:    30 * time.Second,
		RollbackRetention: time.Duration(retentionHours) * time.Hour,
		LLMProvider:       getEnv("LLM_PROVIDER", "ollama"),
		LLMModel:          getEnv("LLM_MODEL", "llama3.2:3b"),
		LLMBaseURL:        getEnv("LLM_BASE_URL", "http://localhost:11434"),
		LLMAPIKey:         os.Getenv("LLM_API_KEY"),
	}
}
