package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("SWEEP_INTERVAL", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, time.Minute, cfg.Sweeps.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Sweeps.ReminderLead)
	assert.Equal(t, defaultExpoURL, cfg.Push.ExpoURL)
	assert.Equal(t, 10, cfg.RateLimit.LoginPerMinute)
	assert.Equal(t, 5, cfg.RateLimit.RegisterPerHour)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "puckdrop.yaml")
	yml := []byte(`
port: "9000"
database_url: postgres://file/db
jwt:
  secret: from-file
  ttl: 1h
sweeps:
  interval: 5m
rate_limit:
  login_per_minute: 3
`)
	require.NoError(t, os.WriteFile(path, yml, 0o600))

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REMINDER_LEAD", "12h")
	t.Setenv("PORT", "")
	t.Setenv("RATE_LIMIT_REGISTER_PER_HOUR", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL, "env wins over file")
	assert.Equal(t, "from-file", cfg.JWT.Secret)
	assert.Equal(t, time.Hour, cfg.JWT.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Sweeps.Interval)
	assert.Equal(t, 12*time.Hour, cfg.Sweeps.ReminderLead)
	assert.Equal(t, 3, cfg.RateLimit.LoginPerMinute)
	assert.Equal(t, 2, cfg.RateLimit.RegisterPerHour)
}

func TestLoadRejectsBadLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_LOGIN_PER_MINUTE", "lots")
	_, err := Load("")
	assert.ErrorContains(t, err, "RATE_LIMIT_LOGIN_PER_MINUTE")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "soon")
	_, err := Load("")
	assert.ErrorContains(t, err, "SWEEP_INTERVAL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
		verify  func(t *testing.T, c *Config)
	}{
		{
			name:    "missing database url",
			mutate:  func(c *Config) {},
			wantErr: "DATABASE_URL",
		},
		{
			name: "development falls back to dev secret",
			mutate: func(c *Config) {
				c.DatabaseURL = "postgres://x"
			},
			verify: func(t *testing.T, c *Config) {
				assert.Equal(t, devSecret, c.JWT.Secret)
			},
		},
		{
			name: "production requires secret",
			mutate: func(c *Config) {
				c.DatabaseURL = "postgres://x"
				c.Env = "production"
			},
			wantErr: "JWT_SECRET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.verify != nil {
				tt.verify(t, c)
			}
		})
	}
}
