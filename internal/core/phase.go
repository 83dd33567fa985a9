// Package core implements the reindexing coordinator: the dual-write
// dispatcher, the delete fence, the backfill engine, and the phase
// controller that gates them.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/kilupskalvis/swivel/internal/store"
)

// Releaser is the controller's view of the delete fence: Release replays
// deferred deletes when the migration leaves Backfilling, Activate
// re-opens the fence when the migration enters it.
type Releaser interface {
	Release(ctx context.Context) error
	Activate()
}

// Controller owns the authoritative migration phase. All transitions are
// validated and linearized under one mutex; readers always observe a
// consistent value. The phase is persisted to the metastore before a
// transition is considered committed.
type Controller struct {
	mu         sync.Mutex
	meta       *store.Meta
	phase      models.MigrationPhase
	lastResult *models.BackfillResult
	releaser   Releaser
	observers  []func(models.MigrationPhase)
	logger     *slog.Logger
}

// forward is the legal advance table. Rollback is handled separately.
var forward = map[models.MigrationPhase]models.MigrationPhase{
	models.PhasePreparing:      models.PhaseDualWrite,
	models.PhaseDualWrite:      models.PhaseBackfilling,
	models.PhaseBackfilling:    models.PhaseCutoverPending,
	models.PhaseCutoverPending: models.PhaseCutover,
	models.PhaseCutover:        models.PhaseComplete,
}

// NewController loads the persisted phase and returns a controller.
func NewController(meta *store.Meta, logger *slog.Logger) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	phase, err := meta.GetPhase()
	if err != nil {
		return nil, fmt.Errorf("load phase: %w", err)
	}
	return &Controller{meta: meta, phase: phase, logger: logger}, nil
}

// SetReleaser wires the delete fence in. Must be called before the
// Backfilling phase can be left.
func (c *Controller) SetReleaser(r Releaser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaser = r
}

// Current returns a consistent snapshot of the phase.
func (c *Controller) Current() models.MigrationPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Subscribe registers fn to be called after each committed transition,
// with the new phase, while the transition lock is held.
func (c *Controller) Subscribe(fn func(models.MigrationPhase)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// RecordBackfillResult stores the outcome of the latest backfill run; the
// Backfilling to CutoverPending advance is gated on it.
func (c *Controller) RecordBackfillResult(r models.BackfillResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastResult = &r
}

// Advance moves the migration one phase forward, enforcing the gates the
// transition requires. Leaving Backfilling requires a completed and
// reconciled backfill, and replays fenced deletes before the phase
// changes.
func (c *Controller) Advance(ctx context.Context) (models.MigrationPhase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, ok := forward[c.phase]
	if !ok {
		return c.phase, fmt.Errorf("no forward transition from phase %s", c.phase)
	}

	if c.phase == models.PhaseBackfilling {
		switch {
		case c.lastResult == nil:
			return c.phase, fmt.Errorf("cannot leave %s: no backfill has completed", c.phase)
		case !c.lastResult.Completed:
			return c.phase, fmt.Errorf("cannot leave %s: backfill did not complete", c.phase)
		case !c.lastResult.Reconciled:
			return c.phase, &ReconciliationMismatch{
				LegacyCount: c.lastResult.LegacyCount,
				TargetCount: c.lastResult.TargetCount,
			}
		}
		if c.releaser != nil {
			// Replay deferred deletes before the fence deactivates. A
			// failed release keeps the migration in Backfilling.
			if err := c.releaser.Release(ctx); err != nil {
				return c.phase, fmt.Errorf("release pending deletes: %w", err)
			}
		}
	}

	return c.commit(next)
}

// Rollback returns the migration from CutoverPending to DualWrite when
// the target index is found unfit. Already-released deletes are not
// re-released; the next backfill starts its reconciliation from zero.
func (c *Controller) Rollback(ctx context.Context) (models.MigrationPhase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != models.PhaseCutoverPending {
		return c.phase, fmt.Errorf("rollback only allowed from %s, currently %s",
			models.PhaseCutoverPending, c.phase)
	}

	c.lastResult = nil
	if err := c.meta.ClearActiveRun(); err != nil {
		return c.phase, fmt.Errorf("clear backfill checkpoint: %w", err)
	}
	return c.commit(models.PhaseDualWrite)
}

// commit persists and publishes a validated transition. Caller holds mu.
func (c *Controller) commit(next models.MigrationPhase) (models.MigrationPhase, error) {
	if next == models.PhaseBackfilling && c.releaser != nil {
		// The fence must accept enqueues before the phase becomes
		// visible, or a first-in delete could be applied under the
		// backfill instead of deferred past it.
		c.releaser.Activate()
	}
	if err := c.meta.SetPhase(next); err != nil {
		return c.phase, fmt.Errorf("persist phase %s: %w", next, err)
	}
	prev := c.phase
	c.phase = next
	c.logger.Info("phase transition", "from", prev, "to", next)
	for _, fn := range c.observers {
		fn(next)
	}
	return next, nil
}
