package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/exact-go/internal/config"
	"github.com/tonimelisma/exact-go/internal/mirror"
	"github.com/tonimelisma/exact-go/internal/resource"
)

// metricsShutdownTimeout bounds the metrics server drain on exit.
const metricsShutdownTimeout = 5 * time.Second

func newMirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Copy resource collections into a local SQLite database",
		Long: `Copy every configured resource type into a local SQLite database.

Each run pages through the full collection, upserts every record and prunes
records that are gone upstream. With an interval (mirror.interval or
--interval) the command keeps running: it re-reads the config file when it
changes or on SIGHUP, and waits for the rate-limit reset when the API
reports an exhausted window.

Examples:
  exact-go mirror
  exact-go mirror --resources accounts,items --interval 15m --metrics-listen :9090`,
		Args: cobra.NoArgs,
		RunE: runMirror,
	}

	cmd.Flags().StringSlice("resources", nil, "resource types to mirror (overrides mirror.resources)")
	cmd.Flags().Duration("interval", 0, "repeat every interval (overrides mirror.interval)")
	cmd.Flags().String("database", "", "mirror database path (overrides mirror.database)")
	cmd.Flags().String("metrics-listen", "", "serve Prometheus metrics on this address, e.g. :9090")

	cmd.AddCommand(newMirrorStatusCmd())
	cmd.AddCommand(newMirrorShowCmd())
	cmd.AddCommand(newMirrorReloadCmd())

	return cmd
}

func newMirrorStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last mirror run and local record counts",
		Args:  cobra.NoArgs,
		RunE:  runMirrorStatus,
	}

	cmd.Flags().String("database", "", "mirror database path (overrides mirror.database)")

	return cmd
}

func newMirrorShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <type>",
		Short: "Print the locally mirrored records of a resource type",
		Args:  cobra.ExactArgs(1),
		RunE:  runMirrorShow,
	}

	cmd.Flags().String("database", "", "mirror database path (overrides mirror.database)")

	return cmd
}

func newMirrorReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask a running mirror loop to reload its config",
		Args:  cobra.NoArgs,
		RunE:  runMirrorReload,
	}

	cmd.Flags().String("database", "", "mirror database path (overrides mirror.database)")

	return cmd
}

// databasePath applies --database over mirror.database.
func databasePath(cmd *cobra.Command, cfg *config.Config) string {
	if p, _ := cmd.Flags().GetString("database"); p != "" {
		return p
	}

	return cfg.Mirror.DatabasePath()
}

// mirrorPlan builds the per-cycle plan from the current config, with flags
// taking precedence.
func mirrorPlan(cmd *cobra.Command, holder *config.Holder) func() (mirror.Plan, error) {
	return func() (mirror.Plan, error) {
		cfg := holder.Config()

		names := cfg.Mirror.Resources
		if cmd.Flags().Changed("resources") {
			names, _ = cmd.Flags().GetStringSlice("resources")
		}

		interval := cfg.Mirror.IntervalDuration()
		if cmd.Flags().Changed("interval") {
			interval, _ = cmd.Flags().GetDuration("interval")
		}

		defs, err := definitionsFor(names)
		if err != nil {
			return mirror.Plan{}, err
		}

		return mirror.Plan{Definitions: defs, Interval: interval}, nil
	}
}

// definitionsFor resolves resource type names, rejecting unknown and
// duplicate names.
func definitionsFor(names []string) ([]*resource.Definition, error) {
	if len(names) == 0 {
		return nil, errors.New("no resource types to mirror")
	}

	defs := make([]*resource.Definition, 0, len(names))
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		def, err := lookupType(name)
		if err != nil {
			return nil, err
		}

		if seen[def.Name] {
			continue
		}

		seen[def.Name] = true
		defs = append(defs, def)
	}

	return defs, nil
}

func runMirror(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	cfg := cc.Config()

	nextPlan := mirrorPlan(cmd, cc.Holder)

	first, err := nextPlan()
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), logger)
	dbPath := databasePath(cmd, cfg)

	if first.Interval > 0 {
		lock, err := lockMirrorDatabase(dbPath)
		if err != nil {
			return err
		}
		defer lock.Release()

		reloadOnSIGHUP(ctx, cc.Holder, logger)

		go func() {
			if err := cc.Holder.Watch(ctx, logger, nil); err != nil {
				logger.Warn("config watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	var reg prometheus.Registerer

	if addr, _ := cmd.Flags().GetString("metrics-listen"); addr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		stop, err := serveMetrics(ctx, addr, registry, logger)
		if err != nil {
			return err
		}
		defer stop()

		reg = registry
	}

	sess, err := NewSession(ctx, cc, reg)
	if err != nil {
		return err
	}

	store, err := mirror.Open(ctx, dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	m := &mirror.Mirror{
		Transport:       sess.Client,
		Store:           store,
		Workers:         cfg.Mirror.Workers,
		Logger:          logger,
		ResponseOptions: sess.respOpts,
	}

	cc.Statusf("Mirroring division %d into %s\n", sess.Division, dbPath)

	plan := first
	used := false

	err = m.RepeatPlan(ctx, func() mirror.Plan {
		if !used {
			used = true
			return plan
		}

		next, err := nextPlan()
		if err != nil {
			logger.Warn("invalid mirror plan after reload, keeping previous", slog.String("error", err.Error()))
			return plan
		}

		plan = next

		return plan
	})

	// A stop requested by signal is a clean exit for a repeating mirror.
	if first.Interval > 0 && errors.Is(err, context.Canceled) {
		cc.Statusf("Mirror stopped.\n")
		return nil
	}

	return err
}

// serveMetrics exposes reg on addr until ctx is done or stop is called.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
		}
	}, nil
}

// mirrorStatusOutput is the schema for `mirror status -o json|yaml`.
type mirrorStatusOutput struct {
	Database string         `json:"database" yaml:"database"`
	LastRun  *runOutput     `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	Records  map[string]int `json:"records" yaml:"records"`
}

type runOutput struct {
	ID         string    `json:"id" yaml:"id"`
	Status     string    `json:"status" yaml:"status"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero" yaml:"finished_at,omitempty"`
	Resources  []string  `json:"resources" yaml:"resources"`
	Records    int       `json:"records" yaml:"records"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
}

func runMirrorStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	cfg := cc.Config()
	dbPath := databasePath(cmd, cfg)

	store, err := mirror.Open(ctx, dbPath, cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	out := mirrorStatusOutput{Database: dbPath, Records: map[string]int{}}

	last, err := store.LastRun(ctx)
	if err != nil {
		return err
	}

	names := slices.Clone(cfg.Mirror.Resources)

	if last != nil {
		out.LastRun = &runOutput{
			ID:         last.ID,
			Status:     last.Status,
			StartedAt:  last.StartedAt,
			FinishedAt: last.FinishedAt,
			Resources:  last.Resources,
			Records:    last.Records,
			Error:      last.Error,
		}

		for _, n := range last.Resources {
			if !slices.Contains(names, n) {
				names = append(names, n)
			}
		}
	}

	for _, name := range names {
		n, err := store.Count(ctx, name)
		if err != nil {
			return err
		}

		out.Records[name] = n
	}

	w := cmd.OutOrStdout()

	if ok, err := writeStructured(w, cc.Flags.Output, out); ok {
		return err
	}

	fmt.Fprintf(w, "Database: %s\n", out.Database)

	if out.LastRun == nil {
		fmt.Fprintln(w, "Last run: never")
	} else {
		r := out.LastRun
		fmt.Fprintf(w, "Last run: %s (%s)\n", r.Status, r.ID)
		fmt.Fprintf(w, "  Started:  %s\n", formatTime(r.StartedAt))
		fmt.Fprintf(w, "  Finished: %s\n", formatTime(r.FinishedAt))
		fmt.Fprintf(w, "  Records:  %d\n", r.Records)

		if r.Error != "" {
			fmt.Fprintf(w, "  Error:    %s\n", r.Error)
		}
	}

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.Itoa(out.Records[name])})
	}

	fmt.Fprintln(w)

	return printTable(w, []string{"Type", "Records"}, rows)
}

func runMirrorShow(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	def, err := lookupType(args[0])
	if err != nil {
		return err
	}

	store, err := mirror.Open(ctx, databasePath(cmd, cc.Config()), cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Records(ctx, def.Name)
	if err != nil {
		return err
	}

	return printRecords(cmd.OutOrStdout(), cc.Flags.Output, records, nil, def.KeyField())
}

func runMirrorReload(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	pid, err := signalMirrorReload(databasePath(cmd, cc.Config()))
	if err != nil {
		return err
	}

	cc.Statusf("Sent reload signal to mirror (PID %d).\n", pid)

	return nil
}
