package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultBackendURL           = "http://localhost:8080"
	DefaultChatPath             = "/ws/ai-chat"
	DefaultReconnectDelayMS     = 5000
	DefaultMaxReconnectAttempts = 5
	DefaultCacheGeneration      = "healthnet-shell-v1"
	DefaultSyncPath             = "/api/sync"
	DefaultSyncTag              = "sync-metrics"
	DefaultSyncSchedule         = "* * * * *"
	DefaultHealthPath           = "/healthz"
	DefaultOfflineHost          = "127.0.0.1"
	DefaultOfflinePort          = 18791
	DefaultDataDir              = "~/.healthnet"
	DefaultQueueDriver          = "sqlite"
	DefaultRedisKey             = "healthnet:offline:queue"

	envManifest = "HEALTHNET_OFFLINE_MANIFEST"
)

// DefaultManifest is the application shell cached by the offline agent.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/static/js/main.chunk.js",
	"/static/css/main.chunk.css",
	"/manifest.json",
	"/logo192.png",
	"/logo512.png",
}

// Config is the root runtime configuration loaded from config.json and the environment.
type Config struct {
	Backend BackendConfig `json:"backend"`
	Session SessionConfig `json:"session"`
	Offline OfflineConfig `json:"offline"`
	Logging LoggingConfig `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// BackendConfig locates the monitoring backend.
type BackendConfig struct {
	URL string `json:"url" env:"HEALTHNET_BACKEND_URL"`
}

// SessionConfig tunes the realtime chat connection.
type SessionConfig struct {
	ChatPath             string `json:"chat_path" env:"HEALTHNET_SESSION_CHAT_PATH"`
	ReconnectDelayMS     int    `json:"reconnect_delay_ms" env:"HEALTHNET_SESSION_RECONNECT_DELAY_MS"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts" env:"HEALTHNET_SESSION_MAX_RECONNECT_ATTEMPTS"`
}

// OfflineConfig configures the offline sync agent.
type OfflineConfig struct {
	DataDir         string      `json:"data_dir" env:"HEALTHNET_OFFLINE_DATA_DIR"`
	Host            string      `json:"host" env:"HEALTHNET_OFFLINE_HOST"`
	Port            int         `json:"port" env:"HEALTHNET_OFFLINE_PORT"`
	CacheGeneration string      `json:"cache_generation" env:"HEALTHNET_OFFLINE_CACHE_GENERATION"`
	Manifest        []string    `json:"manifest"`
	SyncPath        string      `json:"sync_path" env:"HEALTHNET_OFFLINE_SYNC_PATH"`
	SyncSchedule    string      `json:"sync_schedule" env:"HEALTHNET_OFFLINE_SYNC_SCHEDULE"`
	HealthPath      string      `json:"health_path" env:"HEALTHNET_OFFLINE_HEALTH_PATH"`
	Queue           QueueConfig `json:"queue"`
}

// QueueConfig selects the durable store for queued metric submissions.
type QueueConfig struct {
	Driver        string `json:"driver" env:"HEALTHNET_QUEUE_DRIVER"`
	RedisAddr     string `json:"redis_addr" env:"HEALTHNET_QUEUE_REDIS_ADDR"`
	RedisPassword string `json:"redis_password" env:"HEALTHNET_QUEUE_REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" env:"HEALTHNET_QUEUE_REDIS_DB"`
	RedisKey      string `json:"redis_key" env:"HEALTHNET_QUEUE_REDIS_KEY"`
}

// LoadConfig resolves config.json when one exists, applies environment
// overrides, and fills defaults for anything left blank.
func LoadConfig() (*Config, error) {
	var cfg Config

	configPath, err := findConfigPath()
	switch {
	case errors.Is(err, errConfigNotFound):
	case err != nil:
		return nil, err
	default:
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	if rawManifest := strings.TrimSpace(os.Getenv(envManifest)); rawManifest != "" {
		cfg.Offline.Manifest = parseCSV(rawManifest)
	}

	return nil
}

func applyDefaults(cfg *Config) {
	cfg.Backend.URL = strings.TrimRight(strings.TrimSpace(cfg.Backend.URL), "/")
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = DefaultBackendURL
	}

	if strings.TrimSpace(cfg.Session.ChatPath) == "" {
		cfg.Session.ChatPath = DefaultChatPath
	}
	if cfg.Session.ReconnectDelayMS <= 0 {
		cfg.Session.ReconnectDelayMS = DefaultReconnectDelayMS
	}
	if cfg.Session.MaxReconnectAttempts <= 0 {
		cfg.Session.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	offline := &cfg.Offline
	if strings.TrimSpace(offline.DataDir) == "" {
		offline.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(offline.Host) == "" {
		offline.Host = DefaultOfflineHost
	}
	if offline.Port <= 0 {
		offline.Port = DefaultOfflinePort
	}
	if strings.TrimSpace(offline.CacheGeneration) == "" {
		offline.CacheGeneration = DefaultCacheGeneration
	}
	if len(offline.Manifest) == 0 {
		offline.Manifest = slices.Clone(DefaultManifest)
	}
	if strings.TrimSpace(offline.SyncPath) == "" {
		offline.SyncPath = DefaultSyncPath
	}
	if strings.TrimSpace(offline.SyncSchedule) == "" {
		offline.SyncSchedule = DefaultSyncSchedule
	}
	if strings.TrimSpace(offline.HealthPath) == "" {
		offline.HealthPath = DefaultHealthPath
	}
	offline.Queue.Driver = strings.ToLower(strings.TrimSpace(offline.Queue.Driver))
	if offline.Queue.Driver == "" {
		offline.Queue.Driver = DefaultQueueDriver
	}
	if strings.TrimSpace(offline.Queue.RedisKey) == "" {
		offline.Queue.RedisKey = DefaultRedisKey
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

var errConfigNotFound = errors.New("config.json not found")

// findConfigPath resolves the active config file location.
//
// Precedence is HEALTHNET_CONFIG first, then cwd-local fallback paths.
// A missing cwd-local file is not an error; a bad HEALTHNET_CONFIG is.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("HEALTHNET_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("HEALTHNET_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", errConfigNotFound
}
