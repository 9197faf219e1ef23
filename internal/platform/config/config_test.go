package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/payrun")
	t.Setenv("RUN_MIGRATIONS", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("MAX_BODY_BYTES", "not-a-number")

	cfg := Load("testdata/missing.env")

	assert.Equal(t, "postgres://localhost/payrun", cfg.DatabaseURL)
	assert.False(t, cfg.RunMigrations)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, int64(1048576), cfg.MaxBodyBytes)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := Config{
		DatabaseURL:     "postgres://localhost/payrun",
		MaxBodyBytes:    4096,
		LogFormat:       "json",
		PayslipDir:      "storage/payslips",
		ShutdownTimeout: time.Second,
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.DatabaseURL = " " }, want: "DATABASE_URL"},
		{name: "production without secret", mutate: func(c *Config) { c.Environment = "production" }, want: "JWT_SECRET"},
		{name: "production without key", mutate: func(c *Config) {
			c.Environment = "production"
			c.JWTSecret = "s3cret"
		}, want: "DATA_ENCRYPTION_KEY"},
		{name: "small body limit", mutate: func(c *Config) { c.MaxBodyBytes = 10 }, want: "MAX_BODY_BYTES"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, want: "LOG_FORMAT"},
		{name: "negative rate limit", mutate: func(c *Config) { c.RateLimitPerMinute = -1 }, want: "RATE_LIMIT_PER_MINUTE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
