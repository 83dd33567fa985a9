package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/kilupskalvis/swivel/internal/core"
	"github.com/kilupskalvis/swivel/internal/index"
	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/kilupskalvis/swivel/internal/weaviate"
	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run the backfill in the foreground",
	Long: `Run the snapshot backfill in the foreground, resuming from the last
checkpoint if a previous run was aborted. The migration must already be
in the backfilling phase and the coordinator must not be running (it
runs the backfill itself).

With --advance the migration moves to cutover-pending after a
reconciled backfill, releasing the fenced deletes.`,
	Run: runBackfillCmd,
}

var backfillAdvance bool

func init() {
	registerLogFlags(backfillCmd)
	backfillCmd.Flags().BoolVar(&backfillAdvance, "advance", false, "Advance to cutover-pending after a reconciled backfill")
}

func runBackfillCmd(cmd *cobra.Command, args []string) {
	logger := newLogger()
	cfg := initConfig()

	if newCoordClient(cfg.Listen).reachable() {
		exitError("coordinator is running on %s and runs the backfill itself", cfg.Listen)
	}

	c := initContext()
	defer c.Close()

	phases, err := core.NewController(c.Meta, logger)
	if err != nil {
		exitError("failed to load phase state: %v", err)
	}
	if phases.Current() != models.PhaseBackfilling {
		exitError("migration is in phase %s, backfill runs only in %s",
			phases.Current(), models.PhaseBackfilling)
	}

	legacy, err := weaviate.NewStore(cfg.Legacy.Endpoint, cfg.Legacy.Class)
	if err != nil {
		exitError("failed to create legacy client: %v", err)
	}
	rawTarget, err := weaviate.NewStore(cfg.Target.Endpoint, cfg.Target.Class)
	if err != nil {
		exitError("failed to create target client: %v", err)
	}
	target := index.NewRetryStore(rawTarget, retryConfig(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := core.NewBackfill(legacy, target, c.Meta, nil, c.Audit, backfillConfig(cfg), logger)
	result, err := engine.Run(ctx)
	if err != nil {
		if result != nil {
			fmt.Printf("Backfill aborted at position %d of %d (resumable)\n",
				result.Cursor.Position, result.Cursor.DocumentsTotal)
		}
		exitError("backfill failed: %v", err)
	}

	fmt.Printf("Backfill complete: %d documents seen, %d rejected\n",
		result.Cursor.DocumentsSeen, result.Cursor.Rejected)
	if result.Reconciled {
		color.New(color.FgGreen).Printf("Reconciled: legacy=%d target=%d\n",
			result.LegacyCount, result.TargetCount)
	} else {
		color.New(color.FgRed).Printf("Reconciliation mismatch: legacy=%d target=%d\n",
			result.LegacyCount, result.TargetCount)
		os.Exit(1)
	}

	if !backfillAdvance {
		fmt.Println("Next: 'swivel backfill --advance' or advance via the coordinator")
		return
	}

	fence := core.NewDeleteFence(c.Meta, target, c.Audit, logger)
	phases.SetReleaser(fence)
	phases.RecordBackfillResult(*result)

	next, err := phases.Advance(ctx)
	if err != nil {
		exitError("failed to advance: %v", err)
	}
	fmt.Printf("Phase advanced to %s (fenced deletes released)\n", next)
}
