package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"relative base url", func(c *Config) { c.API.BaseURL = "start.exactonline.nl" }, "base_url"},
		{"ftp redirect", func(c *Config) { c.API.RedirectURL = "ftp://x/cb" }, "redirect_url"},
		{"negative division", func(c *Config) { c.API.Division = -1 }, "division"},
		{"bad timeout", func(c *Config) { c.Network.Timeout = "soon" }, "timeout"},
		{"tiny timeout", func(c *Config) { c.Network.Timeout = "10ms" }, "at least 1s"},
		{"retries", func(c *Config) { c.Network.MaxRetries = 11 }, "max_retries"},
		{"negative rpm", func(c *Config) { c.Network.RequestsPerMinute = -1 }, "requests_per_minute"},
		{"empty header", func(c *Config) { c.RateLimit.DailyHeader = "" }, "daily_header"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "log_format"},
		{"workers", func(c *Config) { c.Mirror.Workers = 0 }, "workers"},
		{"unknown resource", func(c *Config) { c.Mirror.Resources = []string{"accounts", "widgets"} }, `"widgets"`},
		{"short interval", func(c *Config) { c.Mirror.Interval = "5s" }, "interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AccumulatesAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogLevel = "loud"
	cfg.Mirror.Workers = 100
	cfg.Network.MaxRetries = -1

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "max_retries")
}

func TestRequireCredentials(t *testing.T) {
	cfg := DefaultConfig()

	err := RequireCredentials(cfg)
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Contains(t, err.Error(), "api.client_id")
	assert.Contains(t, err.Error(), "api.client_secret")
	assert.NotContains(t, err.Error(), "api.redirect_url")

	cfg.API.ClientID = "id"
	cfg.API.ClientSecret = "secret"
	require.NoError(t, RequireCredentials(cfg))
}
