// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for exact-go. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	API       APIConfig       `toml:"api"`
	Network   NetworkConfig   `toml:"network"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Logging   LoggingConfig   `toml:"logging"`
	Mirror    MirrorConfig    `toml:"mirror"`
}

// APIConfig identifies the Exact Online site, the registered app, and the
// division (administration) that relative resource paths are scoped to.
type APIConfig struct {
	BaseURL      string `toml:"base_url"`
	Division     int    `toml:"division"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
}

// NetworkConfig controls HTTP client behavior. requests_per_minute is a
// client-side throttle; 0 disables it.
type NetworkConfig struct {
	Timeout           string `toml:"timeout"`
	MaxRetries        int    `toml:"max_retries"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	UserAgent         string `toml:"user_agent"`
}

// RateLimitConfig names the response headers that carry the remaining
// call counts.
type RateLimitConfig struct {
	MinutelyHeader string `toml:"minutely_header"`
	DailyHeader    string `toml:"daily_header"`
}

// LoggingConfig controls log output: level and handler format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// MirrorConfig controls the local mirror.
type MirrorConfig struct {
	Database  string   `toml:"database"`
	Workers   int      `toml:"workers"`
	Resources []string `toml:"resources"`
	Interval  string   `toml:"interval"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	Division   *int    // --division flag
	LogLevel   *string // derived from --verbose / --quiet
}

// TimeoutDuration returns network.timeout. Validate guarantees it parses.
func (n NetworkConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(n.Timeout)
	if err != nil {
		return defaultTimeoutDuration
	}

	return d
}

// IntervalDuration returns mirror.interval; 0 means a single run.
func (m MirrorConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(m.Interval)
	if err != nil {
		return 0
	}

	return d
}

// DatabasePath returns mirror.database, or the default location in the data
// directory when unset.
func (m MirrorConfig) DatabasePath() string {
	if m.Database != "" {
		return expandTilde(m.Database)
	}

	return DefaultDatabasePath()
}
