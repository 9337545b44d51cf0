// Package config provides configuration for the aurora relay and CLI.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the aurora configuration.
type Config struct {
	// Server settings
	WSPort   int // External WebSocket port for relay clients
	HTTPPort int // HTTP port for /health, /api/*, /v1/*

	// Auth settings
	APIKey string // Static API key for hello.api_key validation

	// Sandbox settings
	ProbeURL    string // Capability endpoint; empty means PistonWSURL decides the mode
	PistonURL   string // REST base for batch execution
	PistonWSURL string // Interactive endpoint

	// Database
	DatabaseURL string

	// Timeouts
	RunTimeout   time.Duration
	BatchTimeout time.Duration

	// Buffer sessions with no run and no relay client are released after this
	SessionIdleTTL time.Duration

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Execution rules, usually from CONFIG_FILE
	Languages        map[string]string // language name -> version
	StderrDenylist   []string
	AllowedLanguages []string
	MaxSourceBytes   int
}

// FileConfig is the YAML overlay loaded from CONFIG_FILE.
type FileConfig struct {
	Languages        map[string]string `yaml:"languages,omitempty"`
	StderrDenylist   []string          `yaml:"stderr_denylist,omitempty"`
	AllowedLanguages []string          `yaml:"allowed_languages,omitempty"`
	MaxSourceBytes   int               `yaml:"max_source_bytes,omitempty"`
	APIKey           string            `yaml:"api_key,omitempty"`
	PistonURL        string            `yaml:"piston_url,omitempty"`
	PistonWSURL      string            `yaml:"piston_ws_url,omitempty"`
}

// Load loads configuration from environment variables and the optional CONFIG_FILE overlay.
func Load() (*Config, error) {
	cfg := &Config{
		WSPort:         getEnvInt("WS_PORT", 8090),
		HTTPPort:       getEnvInt("HTTP_PORT", 8091),
		APIKey:         getEnv("API_KEY", ""),
		ProbeURL:       getEnv("PROBE_URL", ""),
		PistonURL:      getEnv("PISTON_URL", "http://localhost:2000"),
		PistonWSURL:    getEnv("PISTON_WS_URL", "ws://localhost:2000/api/v2/connect"),
		DatabaseURL:    getEnv("DATABASE_URL", "file:aurora.db?cache=shared&mode=rwc"),
		RunTimeout:     time.Duration(getEnvInt("RUN_TIMEOUT_MS", 120000)) * time.Millisecond,
		BatchTimeout:   time.Duration(getEnvInt("BATCH_TIMEOUT_MS", 30000)) * time.Millisecond,
		SessionIdleTTL: time.Duration(getEnvInt("SESSION_IDLE_TTL_MS", 600000)) * time.Millisecond,
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		MaxSourceBytes: getEnvInt("MAX_SOURCE_BYTES", 64*1024),
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Apply(file)
	}
	return cfg, nil
}

// LoadFile reads and parses a YAML overlay.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseFile(data)
}

// ParseFile parses YAML bytes into a FileConfig.
func ParseFile(data []byte) (*FileConfig, error) {
	var file FileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if file.MaxSourceBytes < 0 {
		return nil, fmt.Errorf("parsing config: max_source_bytes must not be negative")
	}
	file.APIKey = resolveEnvRef(file.APIKey)
	file.PistonURL = resolveEnvRef(file.PistonURL)
	file.PistonWSURL = resolveEnvRef(file.PistonWSURL)
	return &file, nil
}

// Apply overlays non-empty file values onto the config.
func (c *Config) Apply(file *FileConfig) {
	if file == nil {
		return
	}
	if len(file.Languages) > 0 {
		c.Languages = file.Languages
	}
	c.StderrDenylist = append(c.StderrDenylist, file.StderrDenylist...)
	if len(file.AllowedLanguages) > 0 {
		c.AllowedLanguages = file.AllowedLanguages
	}
	if file.MaxSourceBytes > 0 {
		c.MaxSourceBytes = file.MaxSourceBytes
	}
	if file.APIKey != "" {
		c.APIKey = file.APIKey
	}
	if file.PistonURL != "" {
		c.PistonURL = file.PistonURL
	}
	if file.PistonWSURL != "" {
		c.PistonWSURL = file.PistonWSURL
	}
}

// resolveEnvRef expands "$NAME" references.
func resolveEnvRef(val string) string {
	if len(val) > 1 && val[0] == '$' {
		return os.Getenv(val[1:])
	}
	return val
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
