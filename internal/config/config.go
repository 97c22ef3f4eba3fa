// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config represents the full application configuration surface.
type Config struct {
	Port          string
	DBPath        string
	LogLevel      string
	LogFormat     string
	Timezone      string
	DefaultBudget float64
	StateKey      string
	SaveDebounce  time.Duration

	Assistant AssistantConfig
	Backup    BackupConfig

	problems []string
}

// AssistantConfig holds settings for the list-generation assistant.
type AssistantConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	RateLimit int // requests per minute per client
}

// BackupConfig holds S3 backup settings.
type BackupConfig struct {
	Endpoint      string
	Bucket        string
	Region        string
	AccessKey     string
	SecretKey     string
	Schedule      string
	Passphrase    string
	RetentionDays int
}

// Enabled reports whether enough is configured to upload backups.
func (b BackupConfig) Enabled() bool {
	return b.Bucket != "" && b.AccessKey != "" && b.SecretKey != "" && b.Passphrase != ""
}

// Load reads environment variables (optionally from the provided file) and
// materializes a validated Config.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
		}
	} else {
		// A missing .env is fine when the environment carries everything.
		_ = godotenv.Load()
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from the current environment without validating it.
func FromEnv() *Config {
	cfg := &Config{
		Port:      getEnv("MERCADO_PORT", "8080"),
		DBPath:    getEnv("MERCADO_DB_PATH", "mercado.db"),
		LogLevel:  getEnv("MERCADO_LOG_LEVEL", "info"),
		LogFormat: getEnv("MERCADO_LOG_FORMAT", "text"),
		Timezone:  getEnv("MERCADO_TIMEZONE", "Local"),
		StateKey:  getEnv("MERCADO_STATE_KEY", "mercado_state_v2"),
		Assistant: AssistantConfig{
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			Model:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			BaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		},
		Backup: BackupConfig{
			Endpoint:   os.Getenv("MERCADO_S3_ENDPOINT"),
			Bucket:     os.Getenv("MERCADO_S3_BUCKET"),
			Region:     getEnv("MERCADO_S3_REGION", "us-east-1"),
			AccessKey:  os.Getenv("MERCADO_S3_ACCESS_KEY"),
			SecretKey:  os.Getenv("MERCADO_S3_SECRET_KEY"),
			Schedule:   os.Getenv("MERCADO_BACKUP_SCHEDULE"),
			Passphrase: os.Getenv("MERCADO_BACKUP_PASSPHRASE"),
		},
	}

	cfg.DefaultBudget = cfg.getEnvFloat("MERCADO_DEFAULT_BUDGET", 500)
	cfg.SaveDebounce = cfg.getEnvDuration("MERCADO_SAVE_DEBOUNCE", 250*time.Millisecond)
	cfg.Assistant.Timeout = cfg.getEnvDuration("MERCADO_ASSISTANT_TIMEOUT", 30*time.Second)
	cfg.Assistant.RateLimit = cfg.getEnvInt("MERCADO_ASSISTANT_RATE_LIMIT", 10)
	cfg.Backup.RetentionDays = cfg.getEnvInt("MERCADO_BACKUP_RETENTION_DAYS", 30)
	return cfg
}

// Location resolves Timezone. "Local" and "" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	problems := append([]string(nil), c.problems...)

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if strings.TrimSpace(c.DBPath) == "" {
		problems = append(problems, "database path cannot be empty")
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if _, err := c.Location(); err != nil {
		problems = append(problems, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if c.StateKey == "" {
		problems = append(problems, "state key cannot be empty")
	}
	if c.SaveDebounce < 0 {
		problems = append(problems, "save debounce cannot be negative")
	}
	if math.IsNaN(c.DefaultBudget) || math.IsInf(c.DefaultBudget, 0) {
		problems = append(problems, "default budget must be a finite number")
	}

	if c.Assistant.Timeout <= 0 {
		problems = append(problems, "assistant timeout must be positive")
	}
	if c.Assistant.RateLimit < 1 {
		problems = append(problems, "assistant rate limit must be at least 1")
	}

	if c.Backup.Schedule != "" {
		if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("invalid backup schedule '%s': %v", c.Backup.Schedule, err))
		}
		if !c.Backup.Enabled() {
			problems = append(problems, "backup schedule requires S3 bucket, credentials and passphrase")
		}
	}
	if c.Backup.RetentionDays < 1 {
		problems = append(problems, "backup retention must be at least 1 day")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func (c *Config) getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s: '%s' is not an integer", key, raw))
		return fallback
	}
	return v
}

func (c *Config) getEnvFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s: '%s' is not a number", key, raw))
		return fallback
	}
	return v
}

func (c *Config) getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s: '%s' is not a duration", key, raw))
		return fallback
	}
	return v
}
