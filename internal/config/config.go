// Package config handles loading and validating runtime configuration for the Puckdrop API.
// Values come from three layers, each overriding the previous one:
//  1. an optional YAML file (handy for shared local setups and docker-compose)
//  2. a .env file in the working directory (development convenience)
//  3. real environment variables (what production uses)
//
// The same binary can run in dev, staging and production without code changes.
// Just swap the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	// godotenv reads a .env file and loads its key=value pairs into the process environment.
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration values for the application.
type Config struct {
	Port          string        `yaml:"port"`           // TCP port for the HTTP server (e.g. "8080")
	DatabaseURL   string        `yaml:"database_url"`   // PostgreSQL connection string
	MigrationsDir string        `yaml:"migrations_dir"` // Directory holding the numbered .sql migrations
	Env           string        `yaml:"env"`            // "development", "staging", or "production"
	LogLevel      string        `yaml:"log_level"`      // zap level: debug, info, warn, error
	JWT           JWTConfig     `yaml:"jwt"`
	Push          PushConfig    `yaml:"push"`
	Sweeps        SweepConfig   `yaml:"sweeps"`
	RateLimit     RateLimitConf `yaml:"rate_limit"`
}

// JWTConfig controls how we sign and verify bearer tokens.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// PushConfig points at the Expo push service.
type PushConfig struct {
	ExpoURL     string `yaml:"expo_url"`
	AccessToken string `yaml:"access_token"` // Optional; only needed when "enhanced push security" is on in Expo
}

// SweepConfig tunes the periodic background jobs.
type SweepConfig struct {
	Interval              time.Duration `yaml:"interval"`               // How often waitlist/reminder/roster sweeps run
	ReminderLead          time.Duration `yaml:"reminder_lead"`          // Remind players this long before puck drop
	RosterPublishLead     time.Duration `yaml:"roster_publish_lead"`    // Auto-publish unpublished rosters this long before start
	NotificationRetention time.Duration `yaml:"notification_retention"` // Notifications older than this are deleted
}

// RateLimitConf sets how many attempts one client IP gets on the public auth routes.
type RateLimitConf struct {
	LoginPerMinute  int `yaml:"login_per_minute"`  // Password attempts; also the size of a quick burst
	RegisterPerHour int `yaml:"register_per_hour"` // New accounts
}

const defaultExpoURL = "https://exp.host/--/api/v2/push/send"

// Defaults returns a Config populated with sensible development defaults.
func Defaults() *Config {
	return &Config{
		Port:          "8080",
		MigrationsDir: "migrations",
		Env:           "development",
		LogLevel:      "info",
		JWT: JWTConfig{
			TTL: 30 * 24 * time.Hour,
		},
		Push: PushConfig{
			ExpoURL: defaultExpoURL,
		},
		Sweeps: SweepConfig{
			Interval:              time.Minute,
			ReminderLead:          24 * time.Hour,
			RosterPublishLead:     2 * time.Hour,
			NotificationRetention: 30 * 24 * time.Hour,
		},
		RateLimit: RateLimitConf{
			LoginPerMinute:  10,
			RegisterPerHour: 5,
		},
	}
}

// Load builds the Config from the optional YAML file at path (empty path skips it),
// then the .env file, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Missing .env is fine. In production the platform sets real env vars.
	_ = godotenv.Load()

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg with any environment variables that are set.
func applyEnv(cfg *Config) error {
	setString(&cfg.Port, "PORT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.MigrationsDir, "MIGRATIONS_DIR")
	setString(&cfg.Env, "ENV")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.JWT.Secret, "JWT_SECRET")
	setString(&cfg.Push.ExpoURL, "EXPO_PUSH_URL")
	setString(&cfg.Push.AccessToken, "EXPO_ACCESS_TOKEN")

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.JWT.TTL, "JWT_TTL"},
		{&cfg.Sweeps.Interval, "SWEEP_INTERVAL"},
		{&cfg.Sweeps.ReminderLead, "REMINDER_LEAD"},
		{&cfg.Sweeps.RosterPublishLead, "ROSTER_PUBLISH_LEAD"},
		{&cfg.Sweeps.NotificationRetention, "NOTIFICATION_RETENTION"},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	limits := []struct {
		dst *int
		key string
	}{
		{&cfg.RateLimit.LoginPerMinute, "RATE_LIMIT_LOGIN_PER_MINUTE"},
		{&cfg.RateLimit.RegisterPerHour, "RATE_LIMIT_REGISTER_PER_HOUR"},
	}
	for _, l := range limits {
		if v := os.Getenv(l.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", l.key, v, err)
			}
			*l.dst = n
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

// devSecret is only ever used when ENV=development and no JWT_SECRET is set.
const devSecret = "puckdrop-development-secret-change-me"

// Validate checks that required settings are present. In development a missing
// JWT secret falls back to a fixed value so the server can boot with zero setup.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.JWT.Secret == "" {
		if !c.IsDevelopment() {
			return errors.New("JWT_SECRET is required outside development")
		}
		c.JWT.Secret = devSecret
	}
	if c.JWT.TTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.Sweeps.Interval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment reports whether we're running locally.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
