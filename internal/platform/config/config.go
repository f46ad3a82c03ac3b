package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files; with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration parses the variable named by key with time.ParseDuration.
// Unset, empty or unparsable values yield fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// GetEnvBool reports whether the variable named by key is set to a true value
// accepted by strconv.ParseBool.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// Runtime holds the process-level settings of the recorder binary. User
// recording settings live in the YAML settings file, not here.
type Runtime struct {
	HTTPAddr        string
	SettingsPath    string
	LogLevel        string
	LogFormat       string
	RestartInterval time.Duration
	PollInterval    time.Duration
	CloudPoll       time.Duration
	ListConcurrency int
	// CloudEnabled off builds the recorder without a cloud store factory, so
	// settings that ask for cloud storage are reported as invalid.
	CloudEnabled bool
}

// LoadRuntime collects the Runtime from the environment, applying defaults.
func LoadRuntime() Runtime {
	return Runtime{
		HTTPAddr:        GetEnv("HTTP_ADDR", "127.0.0.1:8787"),
		SettingsPath:    GetEnv("SETTINGS_PATH", "settings.yaml"),
		LogLevel:        GetEnv("LOG_LEVEL", "info"),
		LogFormat:       GetEnv("LOG_FORMAT", "json"),
		RestartInterval: GetEnvDuration("ENGINE_RESTART_INTERVAL", 90*time.Minute),
		PollInterval:    GetEnvDuration("PROCESS_POLL_INTERVAL", 2*time.Second),
		CloudPoll:       GetEnvDuration("CLOUD_POLL_INTERVAL", 30*time.Second),
		ListConcurrency: GetEnvInt("LIST_CONCURRENCY", 8),
		CloudEnabled:    GetEnvBool("CLOUD_ENABLED", true),
	}
}
