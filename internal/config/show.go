package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as TOML-like text to w.
// The client secret is masked.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	renderAPISection(ew, &cfg.API)
	renderNetworkSection(ew, &cfg.Network)
	renderRateLimitSection(ew, &cfg.RateLimit)
	renderLoggingSection(ew, &cfg.Logging)
	renderMirrorSection(ew, &cfg.Mirror)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderAPISection(ew *errWriter, a *APIConfig) {
	ew.printf("[api]\n")
	ew.printf("base_url      = %q\n", a.BaseURL)
	ew.printf("division      = %d\n", a.Division)
	ew.printf("client_id     = %q\n", a.ClientID)
	ew.printf("client_secret = %q\n", maskSecret(a.ClientSecret))
	ew.printf("redirect_url  = %q\n", a.RedirectURL)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("timeout             = %q\n", n.Timeout)
	ew.printf("max_retries         = %d\n", n.MaxRetries)
	ew.printf("requests_per_minute = %d\n", n.RequestsPerMinute)
	ew.printf("user_agent          = %q\n", n.UserAgent)
	ew.printf("\n")
}

func renderRateLimitSection(ew *errWriter, r *RateLimitConfig) {
	ew.printf("[rate_limit]\n")
	ew.printf("minutely_header = %q\n", r.MinutelyHeader)
	ew.printf("daily_header    = %q\n", r.DailyHeader)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("log_level  = %q\n", l.LogLevel)
	ew.printf("log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderMirrorSection(ew *errWriter, m *MirrorConfig) {
	ew.printf("[mirror]\n")
	ew.printf("database  = %q\n", m.DatabasePath())
	ew.printf("workers   = %d\n", m.Workers)
	ew.printf("resources = [%s]\n", joinQuoted(m.Resources))
	ew.printf("interval  = %q\n", m.Interval)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}

	return "********"
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
