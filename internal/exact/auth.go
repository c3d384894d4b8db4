package exact

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/exact-go/internal/tokenfile"
)

// OAuth2 endpoint paths, relative to the site root.
const (
	authPath  = "/api/oauth2/auth"
	tokenPath = "/api/oauth2/token"
)

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// AppCredentials identify the app registered in the Exact App Center.
type AppCredentials struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// RedirectURL must match the registered redirect URI. Its host and port
	// are where the callback server listens; port 0 picks a free port.
	RedirectURL string
}

// OAuthConfig builds the oauth2 configuration for the given app.
func OAuthConfig(app AppCredentials) *oauth2.Config {
	base := strings.TrimRight(app.BaseURL, "/")

	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		RedirectURL:  app.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + authPath,
			TokenURL:  base + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser performs the authorization code flow:
//  1. Binds the redirect URL's host and port on a local HTTP server
//  2. Opens the browser to the Exact authorization endpoint
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens and saves them at tokenPath
//
// openURL is called with the authorization URL. If it fails, the URL is
// printed to stderr so the user can open it manually.
//
// The returned TokenSource binds ctx; ctx must outlive it.
func LoginWithBrowser(
	ctx context.Context,
	app AppCredentials,
	tokenPath string,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	return doAuthCodeLogin(ctx, OAuthConfig(app), tokenPath, openURL, logger)
}

func doAuthCodeLogin(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath string,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("starting browser auth flow", slog.String("path", tokenPath))

	redirect, err := url.Parse(cfg.RedirectURL)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("exact: invalid redirect URL %q", cfg.RedirectURL)
	}

	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, redirect.Host, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	if redirect.Port() == "" || redirect.Port() == "0" {
		redirect.Host = net.JoinHostPort(redirect.Hostname(), strconv.Itoa(port))
		cfg.RedirectURL = redirect.String()
	}

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("exact: generating state token: %w", err)
	}

	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})

	authURL := cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("force_login", "0"))

	launchBrowser(authURL, openURL, logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	return exchangeAndSave(ctx, cfg, tokenPath, code, logger)
}

// startCallbackServer binds hostport (port 0 allowed) and serves mux.
func startCallbackServer(
	ctx context.Context,
	hostport string,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		hostport = net.JoinHostPort(hostport, "0")
	}

	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", hostport)
	if err != nil {
		return nil, 0, fmt.Errorf("exact: binding callback listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("exact: listener address is not TCP")
	}

	port := tcpAddr.Port
	logger.Info("callback server listening", slog.Int("port", port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("exact: callback server error: %w", serveErr)}
		}
	}()

	return srv, port, nil
}

// handleOAuthCallback validates the state, extracts the code, and sends the result.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("exact: OAuth2 state mismatch (possible CSRF)")}

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("exact: authorization failed: %s: %s", errParam, q.Get("error_description"))}

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("exact: callback missing authorization code")}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("exact: browser auth canceled: %w", ctx.Err())
	}
}

func exchangeAndSave(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath, code string,
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exact: token exchange failed: %w", err)
	}

	if saveErr := tokenfile.Save(tokenPath, &tokenfile.File{Token: tok}); saveErr != nil {
		return nil, fmt.Errorf("exact: saving token: %w", saveErr)
	}

	logger.Info("browser login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return newTokenSource(ctx, cfg, tok, tokenPath, logger), nil
}

func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// TokenSourceFromPath loads a saved token and returns a TokenSource that
// refreshes it when expired and writes every refreshed token back to
// tokenPath. Returns ErrNotLoggedIn if no token file exists.
//
// The returned TokenSource binds ctx; ctx must outlive it.
func TokenSourceFromPath(ctx context.Context, app AppCredentials, tokenPath string, logger *slog.Logger) (TokenSource, error) {
	tf, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tf == nil {
		return nil, ErrNotLoggedIn
	}

	expired := !tf.Token.Expiry.IsZero() && tf.Token.Expiry.Before(time.Now())
	logger.Info("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tf.Token.Expiry),
		slog.Bool("expired", expired),
	)

	return newTokenSource(ctx, OAuthConfig(app), tf.Token, tokenPath, logger), nil
}

// Logout removes the saved token file. A missing file is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no token file to remove (already logged out)",
			slog.String("path", tokenPath),
		)

		return nil
	}

	if err != nil {
		return err
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

func newTokenSource(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, path string, logger *slog.Logger) TokenSource {
	persist := &persistingSource{
		src:    cfg.TokenSource(ctx, tok),
		path:   path,
		logger: logger,
		last:   tok.AccessToken,
	}

	return &tokenBridge{src: persist, logger: logger}
}

// persistingSource writes a token back to disk whenever the wrapped source
// hands out a new access token. Exact rotates refresh tokens on every
// refresh, so a lost write means a forced re-login.
type persistingSource struct {
	src    oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tok.AccessToken == p.last {
		return tok, nil
	}

	p.last = tok.AccessToken

	if err := tokenfile.SaveToken(p.path, tok); err != nil {
		p.logger.Warn("failed to persist refreshed token",
			slog.String("path", p.path),
			slog.String("error", err.Error()),
		)

		return tok, nil
	}

	p.logger.Info("persisted refreshed token",
		slog.String("path", p.path),
		slog.Time("expiry", tok.Expiry),
	)

	return tok, nil
}

// tokenBridge adapts oauth2.TokenSource to TokenSource.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("exact: obtaining token: %w", err)
	}

	b.logger.Debug("token acquired",
		slog.Time("expiry", t.Expiry),
		slog.Bool("valid", t.Valid()),
	)

	return t.AccessToken, nil
}
