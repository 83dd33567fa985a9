package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/kilupskalvis/swivel/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quietLogger discards output in tests.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMeta(t *testing.T) *store.Meta {
	t.Helper()
	m, err := store.OpenMeta(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func testController(t *testing.T) (*Controller, *store.Meta) {
	t.Helper()
	meta := testMeta(t)
	c, err := NewController(meta, quietLogger())
	require.NoError(t, err)
	return c, meta
}

// advanceTo walks the controller forward to the given phase, satisfying
// the backfill gate along the way.
func advanceTo(t *testing.T, c *Controller, want models.MigrationPhase) {
	t.Helper()
	ctx := context.Background()
	for c.Current() != want {
		if c.Current() == models.PhaseBackfilling {
			c.RecordBackfillResult(models.BackfillResult{Completed: true, Reconciled: true})
		}
		_, err := c.Advance(ctx)
		require.NoError(t, err)
	}
}

func TestController_StartsInPreparing(t *testing.T) {
	c, _ := testController(t)
	assert.Equal(t, models.PhasePreparing, c.Current())
}

func TestController_FullForwardSequence(t *testing.T) {
	c, _ := testController(t)
	ctx := context.Background()

	want := []models.MigrationPhase{
		models.PhaseDualWrite,
		models.PhaseBackfilling,
		models.PhaseCutoverPending,
		models.PhaseCutover,
		models.PhaseComplete,
	}
	for _, next := range want {
		if c.Current() == models.PhaseBackfilling {
			c.RecordBackfillResult(models.BackfillResult{Completed: true, Reconciled: true})
		}
		got, err := c.Advance(ctx)
		require.NoError(t, err)
		assert.Equal(t, next, got)
	}

	// Complete is terminal.
	_, err := c.Advance(ctx)
	assert.Error(t, err)
	assert.Equal(t, models.PhaseComplete, c.Current())
}

func TestController_BackfillGateBlocksAdvance(t *testing.T) {
	c, _ := testController(t)
	ctx := context.Background()
	advanceTo(t, c, models.PhaseBackfilling)

	// No backfill recorded yet.
	_, err := c.Advance(ctx)
	assert.Error(t, err)
	assert.Equal(t, models.PhaseBackfilling, c.Current())

	// Incomplete backfill.
	c.RecordBackfillResult(models.BackfillResult{Completed: false})
	_, err = c.Advance(ctx)
	assert.Error(t, err)

	// Completed but unreconciled backfill surfaces a mismatch.
	c.RecordBackfillResult(models.BackfillResult{
		Completed: true, Reconciled: false, LegacyCount: 100, TargetCount: 90,
	})
	_, err = c.Advance(ctx)
	var mismatch *ReconciliationMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 100, mismatch.LegacyCount)
	assert.Equal(t, 90, mismatch.TargetCount)
	assert.Equal(t, models.PhaseBackfilling, c.Current())
}

func TestController_RollbackOnlyFromCutoverPending(t *testing.T) {
	c, _ := testController(t)
	ctx := context.Background()

	_, err := c.Rollback(ctx)
	assert.Error(t, err, "rollback from Preparing must be rejected")

	advanceTo(t, c, models.PhaseCutoverPending)
	got, err := c.Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDualWrite, got)

	// Cutover cannot be rolled back.
	advanceTo(t, c, models.PhaseCutover)
	_, err = c.Rollback(ctx)
	assert.Error(t, err)
}

func TestController_RollbackResetsReconciliation(t *testing.T) {
	c, meta := testController(t)
	ctx := context.Background()

	require.NoError(t, meta.SaveCursor(models.BackfillCursor{RunID: "r1", Position: 10}))
	advanceTo(t, c, models.PhaseCutoverPending)

	_, err := c.Rollback(ctx)
	require.NoError(t, err)

	cur, err := meta.ActiveCursor()
	require.NoError(t, err)
	assert.Nil(t, cur, "rollback must forget the previous run's checkpoint")

	// The previous backfill result must not satisfy the gate again.
	_, err = c.Advance(ctx) // DualWrite -> Backfilling
	require.NoError(t, err)
	_, err = c.Advance(ctx)
	assert.Error(t, err, "reconciliation must restart from zero after rollback")
}

func TestController_PhaseSurvivesRestart(t *testing.T) {
	meta := testMeta(t)
	c, err := NewController(meta, quietLogger())
	require.NoError(t, err)
	advanceTo(t, c, models.PhaseBackfilling)

	reloaded, err := NewController(meta, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, models.PhaseBackfilling, reloaded.Current())
}

func TestController_ReleaserFailureKeepsBackfilling(t *testing.T) {
	c, _ := testController(t)
	ctx := context.Background()
	advanceTo(t, c, models.PhaseBackfilling)

	c.SetReleaser(releaserFunc(func(context.Context) error {
		return errors.New("target unavailable")
	}))
	c.RecordBackfillResult(models.BackfillResult{Completed: true, Reconciled: true})

	_, err := c.Advance(ctx)
	assert.Error(t, err)
	assert.Equal(t, models.PhaseBackfilling, c.Current())
}

func TestController_ObserversSeeCommittedTransitions(t *testing.T) {
	c, _ := testController(t)

	var seen []models.MigrationPhase
	c.Subscribe(func(p models.MigrationPhase) { seen = append(seen, p) })

	advanceTo(t, c, models.PhaseBackfilling)
	assert.Equal(t, []models.MigrationPhase{models.PhaseDualWrite, models.PhaseBackfilling}, seen)
}

// releaserFunc adapts a function to the Releaser interface.
type releaserFunc func(context.Context) error

func (f releaserFunc) Release(ctx context.Context) error { return f(ctx) }
func (f releaserFunc) Activate()                         {}

// trackingReleaser counts fence lifecycle calls.
type trackingReleaser struct {
	released  int
	activated int
}

func (r *trackingReleaser) Release(context.Context) error { r.released++; return nil }
func (r *trackingReleaser) Activate()                     { r.activated++ }

func TestController_EnteringBackfillingActivatesFence(t *testing.T) {
	c, _ := testController(t)
	ctx := context.Background()
	tr := &trackingReleaser{}
	c.SetReleaser(tr)

	advanceTo(t, c, models.PhaseDualWrite)
	assert.Zero(t, tr.activated)

	advanceTo(t, c, models.PhaseBackfilling)
	assert.Equal(t, 1, tr.activated)
	assert.Zero(t, tr.released)

	advanceTo(t, c, models.PhaseCutoverPending)
	assert.Equal(t, 1, tr.released)

	// Rollback and a second advance re-activate the fence.
	_, err := c.Rollback(ctx)
	require.NoError(t, err)
	advanceTo(t, c, models.PhaseBackfilling)
	assert.Equal(t, 2, tr.activated)
}
