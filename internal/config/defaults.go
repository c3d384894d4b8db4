package config

import "time"

// Default values for configuration options. These are "layer 0" of the
// four-layer override chain.
const (
	defaultBaseURL           = "https://start.exactonline.nl"
	defaultRedirectURL       = "http://localhost:8080/callback"
	defaultTimeout           = "30s"
	defaultTimeoutDuration   = 30 * time.Second
	defaultMaxRetries        = 3
	defaultRequestsPerMinute = 60
	defaultUserAgent         = "exact-go/dev"
	defaultMinutelyHeader    = "x-ratelimit-minutely-remaining"
	defaultDailyHeader       = "x-ratelimit-remaining"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultMirrorWorkers     = 4
	defaultMirrorInterval    = "0"
)

// defaultMirrorResources are mirrored when mirror.resources is not set.
var defaultMirrorResources = []string{"accounts", "contacts", "items"}

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     defaultBaseURL,
			RedirectURL: defaultRedirectURL,
		},
		Network: NetworkConfig{
			Timeout:           defaultTimeout,
			MaxRetries:        defaultMaxRetries,
			RequestsPerMinute: defaultRequestsPerMinute,
			UserAgent:         defaultUserAgent,
		},
		RateLimit: RateLimitConfig{
			MinutelyHeader: defaultMinutelyHeader,
			DailyHeader:    defaultDailyHeader,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Mirror: MirrorConfig{
			Workers:   defaultMirrorWorkers,
			Resources: append([]string(nil), defaultMirrorResources...),
			Interval:  defaultMirrorInterval,
		},
	}
}
