package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/exact-go/internal/config"
	"github.com/tonimelisma/exact-go/internal/exact"
	"github.com/tonimelisma/exact-go/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Exact Online in the browser",
		Long: `Authenticate with Exact Online using the authorization code flow.

A local HTTP server listens on api.redirect_url for the callback, so the
redirect URL registered in the Exact App Center must match it exactly.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().Bool("no-browser", false, "print the authorization URL instead of opening a browser")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Remove the saved authentication token",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated user and current division",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Config()
	ctx := cmd.Context()

	if err := config.RequireCredentials(cfg); err != nil {
		return fmt.Errorf("%w (run 'exact-go config set api.client_id ...')", err)
	}

	tokenPath := config.DefaultTokenPath()
	noBrowser, _ := cmd.Flags().GetBool("no-browser")

	openURL := openBrowser
	if noBrowser {
		openURL = func(url string) error {
			// The prompt must be visible even with --quiet.
			fmt.Fprintf(os.Stderr, "To sign in, visit:\n  %s\n", url)
			return nil
		}
	}

	cc.Logger.Info("login started", slog.String("path", tokenPath))

	ts, err := exact.LoginWithBrowser(ctx, appCredentials(cfg), tokenPath, openURL, cc.Logger)
	if err != nil {
		return err
	}

	client := newAPIClient(cfg, ts, cfg.API.Division, nil, cc.Logger)

	me, err := exact.CurrentMe(ctx, client)
	if err != nil {
		return fmt.Errorf("fetching current user: %w", err)
	}

	if err := tokenfile.UpdateMeta(tokenPath, func(m *tokenfile.Meta) {
		m.UserID = me.UserID
		m.UserName = me.UserName
		m.FullName = me.FullName
		m.CurrentDivision = me.CurrentDivision
	}); err != nil {
		return err
	}

	cc.Logger.Info("login successful", slog.String("user", me.UserName), slog.Int("division", me.CurrentDivision))
	cc.Statusf("Logged in as %s (current division %d).\n", me.UserName, me.CurrentDivision)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := exact.Logout(config.DefaultTokenPath(), cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the schema for `whoami -o json|yaml`.
type whoamiOutput struct {
	UserID          string `json:"user_id" yaml:"user_id"`
	UserName        string `json:"user_name" yaml:"user_name"`
	FullName        string `json:"full_name" yaml:"full_name"`
	Email           string `json:"email" yaml:"email"`
	CurrentDivision int    `json:"current_division" yaml:"current_division"`
	Division        int    `json:"division" yaml:"division"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	sess, err := NewSession(ctx, cc, nil)
	if err != nil {
		return err
	}

	me, err := exact.CurrentMe(ctx, sess.Client, sess.options()...)
	if err != nil {
		return fmt.Errorf("fetching current user: %w", err)
	}

	out := whoamiOutput{
		UserID:          me.UserID,
		UserName:        me.UserName,
		FullName:        me.FullName,
		Email:           me.Email,
		CurrentDivision: me.CurrentDivision,
		Division:        sess.Division,
	}

	w := cmd.OutOrStdout()

	if ok, err := writeStructured(w, cc.Flags.Output, out); ok {
		return err
	}

	fmt.Fprintf(w, "User:     %s (%s)\n", out.FullName, out.UserName)
	fmt.Fprintf(w, "ID:       %s\n", out.UserID)
	fmt.Fprintf(w, "Email:    %s\n", out.Email)
	fmt.Fprintf(w, "Division: %d (current: %d)\n", out.Division, out.CurrentDivision)

	return nil
}

// openBrowser opens url with the platform's default handler.
func openBrowser(url string) error {
	var name string

	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		name = "xdg-open"
	}

	return exec.Command(name, url).Start()
}
