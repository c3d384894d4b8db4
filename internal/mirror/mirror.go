package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/exact-go/internal/odata"
	"github.com/tonimelisma/exact-go/internal/resource"
)

// DefaultWorkers is the number of resource types mirrored concurrently.
const DefaultWorkers = 4

// Mirror copies resource collections into a Store.
type Mirror struct {
	Transport       resource.Transport
	Store           *Store
	Workers         int
	Logger          *slog.Logger
	ResponseOptions odata.ResponseOptions
}

// Run mirrors every definition once. Each type is paged through on its own
// goroutine with its own Resource; the first failure cancels the rest. The
// run row is written even when the run fails, and is returned alongside any
// error.
func (m *Mirror) Run(ctx context.Context, defs []*resource.Definition) (*Run, error) {
	logger := m.logger()
	runID := uuid.NewString()

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}

	if err := m.Store.BeginRun(ctx, runID, names); err != nil {
		return nil, err
	}

	logger.Info("mirror run started",
		slog.String("run_id", runID),
		slog.Any("resources", names),
	)

	workers := m.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var total atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, def := range defs {
		g.Go(func() error {
			n, err := m.mirrorOne(gctx, def, runID)
			total.Add(int64(n))

			return err
		})
	}

	runErr := g.Wait()
	status := statusFor(runErr)

	// The outcome is recorded even when ctx is already canceled.
	finishCtx := context.WithoutCancel(ctx)
	if err := m.Store.FinishRun(finishCtx, runID, status, int(total.Load()), runErr); err != nil {
		return nil, errors.Join(runErr, err)
	}

	run, err := m.Store.Run(finishCtx, runID)
	if err != nil {
		return nil, errors.Join(runErr, err)
	}

	attrs := []any{
		slog.String("run_id", runID),
		slog.String("status", status),
		slog.Int64("records", total.Load()),
	}

	if runErr != nil {
		logger.Error("mirror run failed", append(attrs, slog.String("error", runErr.Error()))...)

		return run, fmt.Errorf("mirror: run %s: %w", runID, runErr)
	}

	logger.Info("mirror run finished", attrs...)

	return run, nil
}

func (m *Mirror) mirrorOne(ctx context.Context, def *resource.Definition, runID string) (int, error) {
	logger := m.logger().With(slog.String("resource", def.Name))
	r := resource.New(def, m.Transport, nil,
		resource.WithLogger(logger),
		resource.WithResponseOptions(m.ResponseOptions),
	)

	stored := 0

	err := r.FindAllPages(ctx, resource.FindOptions{}, func(rs *odata.ResultSet) error {
		n, _, err := m.Store.UpsertRecords(ctx, def.Name, def.KeyField(), runID, rs.Records)
		stored += n

		return err
	})
	if err != nil {
		return stored, fmt.Errorf("%s: %w", def.Name, err)
	}

	pruned, err := m.Store.Prune(ctx, def.Name, runID)
	if err != nil {
		return stored, err
	}

	logger.Info("resource mirrored",
		slog.Int("records", stored),
		slog.Int64("pruned", pruned),
	)

	return stored, nil
}

// Repeat calls Run every interval until ctx is canceled. After a rate-limited
// run it waits at least until the reported reset time. Other run failures are
// logged and do not stop the loop. A non-positive interval runs once.
func (m *Mirror) Repeat(ctx context.Context, defs []*resource.Definition, interval time.Duration) error {
	return m.RepeatPlan(ctx, func() Plan {
		return Plan{Definitions: defs, Interval: interval}
	})
}

// Plan is what one cycle of RepeatPlan mirrors, and how long it waits
// afterwards.
type Plan struct {
	Definitions []*resource.Definition
	Interval    time.Duration
}

// RepeatPlan is Repeat with the resource list and interval re-read from next
// before every cycle, so a reloaded configuration applies to the next run.
// The loop ends after the first cycle whose interval is non-positive.
func (m *Mirror) RepeatPlan(ctx context.Context, next func() Plan) error {
	for {
		plan := next()

		_, err := m.Run(ctx, plan.Definitions)
		if plan.Interval <= 0 {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := plan.Interval

		var rlErr *odata.RateLimitError
		if errors.As(err, &rlErr) && !rlErr.Reset.IsZero() {
			if untilReset := time.Until(rlErr.Reset); untilReset > wait {
				wait = untilReset
			}
		}

		m.logger().Debug("next mirror run scheduled", slog.Duration("in", wait))

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (m *Mirror) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}

	return m.Logger
}

func statusFor(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, odata.ErrRateLimited):
		return StatusRateLimited
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCanceled
	default:
		return StatusFailed
	}
}
