package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kilupskalvis/swivel/internal/config"
	"github.com/kilupskalvis/swivel/internal/core"
	"github.com/kilupskalvis/swivel/internal/feed"
	"github.com/kilupskalvis/swivel/internal/index"
	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/kilupskalvis/swivel/internal/server"
	"github.com/kilupskalvis/swivel/internal/weaviate"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the migration coordinator",
	Long: `Run the migration coordinator: consume the change feed, mirror writes
according to the current phase, serve the control API, and run the
backfill automatically when the migration enters the backfilling phase.

The coordinator is the only process that applies phase transitions;
'swivel advance' and 'swivel rollback' talk to it over the control API.`,
	Run: runRunCmd,
}

func init() {
	registerLogFlags(runCmd)
}

func runRunCmd(cmd *cobra.Command, args []string) {
	logger := newLogger()
	c := initContext()
	defer c.Close()
	cfg := c.Config

	legacy, err := weaviate.NewStore(cfg.Legacy.Endpoint, cfg.Legacy.Class)
	if err != nil {
		exitError("failed to create legacy client: %v", err)
	}
	rawTarget, err := weaviate.NewStore(cfg.Target.Endpoint, cfg.Target.Class)
	if err != nil {
		exitError("failed to create target client: %v", err)
	}
	target := index.NewRetryStore(rawTarget, retryConfig(cfg))

	fence := core.NewDeleteFence(c.Meta, target, c.Audit, logger)
	phases, err := core.NewController(c.Meta, logger)
	if err != nil {
		exitError("failed to load phase state: %v", err)
	}
	phases.SetReleaser(fence)

	dispatcher := core.NewDispatcher(legacy, target, phases, fence, nil, c.Audit, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The backfill engine starts when the migration enters Backfilling,
	// either by a transition committed while we run or because the
	// process restarted mid-backfill.
	runner := &backfillRunner{
		ctx:      ctx,
		phases:   phases,
		backfill: core.NewBackfill(legacy, target, c.Meta, nil, c.Audit, backfillConfig(cfg), logger),
		logger:   logger,
	}
	phases.Subscribe(func(p models.MigrationPhase) {
		if p == models.PhaseBackfilling {
			runner.start()
		}
	})
	if phases.Current() == models.PhaseBackfilling {
		runner.start()
	}

	coord := &server.Coordinator{Phases: phases, Fence: fence, Meta: c.Meta, Audit: c.Audit}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(ctx, cfg.Listen, coord, logger)
	}()

	src, err := feed.DialWebSocket(ctx, cfg.FeedURL, logger)
	if err != nil {
		exitError("failed to connect to change feed at %s: %v", cfg.FeedURL, err)
	}
	defer src.Close()

	logger.Info("coordinator started",
		"phase", phases.Current(),
		"feed", cfg.FeedURL,
		"listen", cfg.Listen,
		"lanes", cfg.Lanes)

	if err := dispatcher.Run(ctx, src, cfg.Lanes); err != nil && ctx.Err() == nil {
		exitError("dispatcher failed: %v", err)
	}

	stop()
	runner.wait()
	if err := <-serverErr; err != nil {
		logger.Error("control server error", "error", err)
	}
	logger.Info("coordinator stopped", "phase", phases.Current())
}

// backfillRunner serializes backfill runs: at most one at a time, a
// rollback followed by a new advance to backfilling starts a fresh one.
type backfillRunner struct {
	ctx      context.Context
	phases   *core.Controller
	backfill *core.Backfill
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func (r *backfillRunner) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()

		result, err := r.backfill.Run(r.ctx)
		if err != nil {
			r.logger.Error("backfill aborted", "error", err)
			return
		}
		r.phases.RecordBackfillResult(*result)
		if !result.Reconciled {
			r.logger.Warn("backfill finished without reconciling",
				"legacy", result.LegacyCount, "target", result.TargetCount)
			return
		}
		r.logger.Info("backfill complete",
			"seen", result.Cursor.DocumentsSeen,
			"rejected", result.Cursor.Rejected)
	}()
}

func (r *backfillRunner) wait() {
	r.wg.Wait()
}

func retryConfig(cfg *config.Config) *index.RetryConfig {
	return &index.RetryConfig{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: cfg.InitialBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
		JitterFraction: cfg.Retry.JitterFraction,
		OpTimeout:      cfg.OpTimeout(),
	}
}

func backfillConfig(cfg *config.Config) *core.BackfillConfig {
	return &core.BackfillConfig{
		BatchSize:       cfg.Backfill.BatchSize,
		MaxBatchRetries: cfg.Backfill.MaxBatchRetries,
		RetryBackoff:    cfg.InitialBackoff(),
		MaxBackoff:      cfg.MaxBackoff(),
		Tolerance:       cfg.Backfill.Tolerance,
	}
}
