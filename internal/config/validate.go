package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/tonimelisma/exact-go/internal/resource"
)

// Validation range constants.
const (
	maxRetries        = 10
	minMirrorWorkers  = 1
	maxMirrorWorkers  = 16
	minTimeout        = time.Second
	minMirrorInterval = time.Minute
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// ErrMissingCredentials is returned by RequireCredentials.
var ErrMissingCredentials = errors.New("config: app credentials are not configured")

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateMirror(&cfg.Mirror)...)

	return errors.Join(errs...)
}

// RequireCredentials checks that the app registration needed for login is
// present.
func RequireCredentials(cfg *Config) error {
	var missing []string

	if cfg.API.ClientID == "" {
		missing = append(missing, "api.client_id")
	}

	if cfg.API.ClientSecret == "" {
		missing = append(missing, "api.client_secret")
	}

	if cfg.API.RedirectURL == "" {
		missing = append(missing, "api.redirect_url")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: set %v", ErrMissingCredentials, missing)
	}

	return nil
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	if err := validateHTTPURL(a.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("base_url: %w", err))
	}

	if a.RedirectURL != "" {
		if err := validateHTTPURL(a.RedirectURL); err != nil {
			errs = append(errs, fmt.Errorf("redirect_url: %w", err))
		}
	}

	if a.Division < 0 {
		errs = append(errs, fmt.Errorf("division: must not be negative, got %d", a.Division))
	}

	return errs
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL, got %q", raw)
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if d, err := time.ParseDuration(n.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("timeout: %w", err))
	} else if d < minTimeout {
		errs = append(errs, fmt.Errorf("timeout: must be at least %s, got %s", minTimeout, d))
	}

	if n.MaxRetries < 0 || n.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d", maxRetries, n.MaxRetries))
	}

	if n.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("requests_per_minute: must not be negative, got %d", n.RequestsPerMinute))
	}

	return errs
}

func validateRateLimit(r *RateLimitConfig) []error {
	var errs []error

	if r.MinutelyHeader == "" {
		errs = append(errs, errors.New("minutely_header: must not be empty"))
	}

	if r.DailyHeader == "" {
		errs = append(errs, errors.New("daily_header: must not be empty"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level: must be one of %v, got %q", validLogLevels, l.LogLevel))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("log_format: must be one of %v, got %q", validLogFormats, l.LogFormat))
	}

	return errs
}

func validateMirror(m *MirrorConfig) []error {
	var errs []error

	if m.Workers < minMirrorWorkers || m.Workers > maxMirrorWorkers {
		errs = append(errs, fmt.Errorf("workers: must be between %d and %d, got %d",
			minMirrorWorkers, maxMirrorWorkers, m.Workers))
	}

	for _, name := range m.Resources {
		if _, ok := resource.Lookup(name); !ok {
			errs = append(errs, fmt.Errorf("resources: unknown resource type %q", name))
		}
	}

	d, err := time.ParseDuration(m.Interval)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("interval: %w", err))
	case d != 0 && d < minMirrorInterval:
		errs = append(errs, fmt.Errorf("interval: must be 0 or at least %s, got %s", minMirrorInterval, d))
	}

	return errs
}
