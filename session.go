package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tonimelisma/exact-go/internal/config"
	"github.com/tonimelisma/exact-go/internal/exact"
	"github.com/tonimelisma/exact-go/internal/odata"
	"github.com/tonimelisma/exact-go/internal/resource"
	"github.com/tonimelisma/exact-go/internal/tokenfile"
)

// Session holds an authenticated client for the resolved division.
type Session struct {
	Client   *exact.Client
	Division int
	Logger   *slog.Logger
	respOpts odata.ResponseOptions
}

// appCredentials maps the [api] section onto the OAuth2 app registration.
func appCredentials(cfg *config.Config) exact.AppCredentials {
	return exact.AppCredentials{
		BaseURL:      cfg.API.BaseURL,
		ClientID:     cfg.API.ClientID,
		ClientSecret: cfg.API.ClientSecret,
		RedirectURL:  cfg.API.RedirectURL,
	}
}

// newAPIClient creates a client with the configured transport settings.
// reg, when non-nil, receives the request metrics.
func newAPIClient(cfg *config.Config, ts exact.TokenSource, division int, reg prometheus.Registerer, logger *slog.Logger) *exact.Client {
	var metrics *exact.Metrics
	if reg != nil {
		metrics = exact.NewMetrics(reg)
	}

	httpClient := exact.NewHTTPClient(cfg.Network.TimeoutDuration(), cfg.Network.MaxRetries, logger)

	return exact.NewClient(cfg.API.BaseURL, httpClient, ts, logger, exact.Options{
		Division:          division,
		UserAgent:         cfg.Network.UserAgent,
		RequestsPerMinute: cfg.Network.RequestsPerMinute,
		Metrics:           metrics,
		MinutelyHeader:    cfg.RateLimit.MinutelyHeader,
		DailyHeader:       cfg.RateLimit.DailyHeader,
	})
}

// NewSession loads the saved token and creates a client. The division comes
// from the resolved config, falling back to the current division cached at
// login. ctx must outlive the session because token refreshes bind it.
func NewSession(ctx context.Context, cc *CLIContext, reg prometheus.Registerer) (*Session, error) {
	cfg := cc.Config()
	tokenPath := config.DefaultTokenPath()

	if tokenPath == "" {
		return nil, errors.New("cannot determine token path (no home directory)")
	}

	ts, err := exact.TokenSourceFromPath(ctx, appCredentials(cfg), tokenPath, cc.Logger)
	if err != nil {
		if errors.Is(err, exact.ErrNotLoggedIn) {
			return nil, fmt.Errorf("not logged in: run 'exact-go login' first")
		}

		return nil, err
	}

	division := cfg.API.Division
	if division == 0 {
		meta, err := tokenfile.ReadMeta(tokenPath)
		if err != nil {
			return nil, err
		}

		division = meta.CurrentDivision
	}

	cc.Logger.Debug("using division", slog.Int("division", division))

	return &Session{
		Client:   newAPIClient(cfg, ts, division, reg, cc.Logger),
		Division: division,
		Logger:   cc.Logger,
		respOpts: responseOptions(cfg, cc.Logger),
	}, nil
}

func responseOptions(cfg *config.Config, logger *slog.Logger) odata.ResponseOptions {
	return odata.ResponseOptions{
		MinutelyHeader: cfg.RateLimit.MinutelyHeader,
		DailyHeader:    cfg.RateLimit.DailyHeader,
		Logger:         logger,
	}
}

func (s *Session) options() []resource.Option {
	return []resource.Option{
		resource.WithLogger(s.Logger),
		resource.WithResponseOptions(s.respOpts),
	}
}

// Resource creates a proxy for def bound to the session's transport.
func (s *Session) Resource(def *resource.Definition, attrs map[string]any) *resource.Resource {
	return resource.New(def, s.Client, attrs, s.options()...)
}

// lookupType resolves a resource type name given on the command line.
func lookupType(name string) (*resource.Definition, error) {
	def, ok := resource.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown resource type %q (see 'exact-go types')", name)
	}

	return def, nil
}
