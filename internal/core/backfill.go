package core

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/swivel/internal/index"
	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/kilupskalvis/swivel/internal/store"
)

// BackfillConfig tunes the backfill engine.
type BackfillConfig struct {
	BatchSize       int
	MaxBatchRetries int
	RetryBackoff    time.Duration
	MaxBackoff      time.Duration
	// Tolerance is the acceptable absolute difference between the legacy
	// and target document counts at reconciliation time, to absorb live
	// traffic racing the final count.
	Tolerance int
}

// DefaultBackfillConfig returns sensible defaults.
func DefaultBackfillConfig() *BackfillConfig {
	return &BackfillConfig{
		BatchSize:       100,
		MaxBatchRetries: 5,
		RetryBackoff:    500 * time.Millisecond,
		MaxBackoff:      30 * time.Second,
		Tolerance:       0,
	}
}

// Backfill streams a point-in-time snapshot of the legacy index into the
// target index with insert-if-absent semantics. The run is resumable:
// the cursor position is checkpointed after every acknowledged batch, so
// an aborted run picks up without rereading completed batches. A
// rejected insert means the dispatcher already wrote a newer version of
// the record and is counted, never treated as an error.
type Backfill struct {
	source    index.Store
	dest      index.Store
	meta      *store.Meta
	transform models.Transform
	audit     *store.AuditLog
	cfg       *BackfillConfig
	logger    *slog.Logger
}

// NewBackfill wires a backfill engine. transform and audit may be nil;
// cfg nil means defaults.
func NewBackfill(source, dest index.Store, meta *store.Meta, transform models.Transform,
	audit *store.AuditLog, cfg *BackfillConfig, logger *slog.Logger) *Backfill {
	if transform == nil {
		transform = models.IdentityTransform
	}
	if cfg == nil {
		cfg = DefaultBackfillConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfill{
		source:    source,
		dest:      dest,
		meta:      meta,
		transform: transform,
		audit:     audit,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes (or resumes) a backfill. On a fatal abort the error is
// returned with the last acknowledged position preserved in the
// metastore; the caller is expected to leave the migration in
// Backfilling and retry later. Cancellation is cooperative: the
// in-flight batch finishes or fails before the run halts.
func (b *Backfill) Run(ctx context.Context) (*models.BackfillResult, error) {
	cursor, skip, err := b.openCursor(ctx)
	if err != nil {
		return nil, err
	}

	cur, err := b.source.OpenSnapshotCursor(ctx, b.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("open snapshot cursor: %w", err)
	}
	if cursor.SnapshotToken == "" {
		cursor.SnapshotToken = cur.SnapshotToken()
	} else if cursor.SnapshotToken != cur.SnapshotToken() {
		// The previous snapshot did not survive (engine restart). The
		// resumed run reads a fresh snapshot but keeps its position:
		// already-copied records reject as already-present, so correctness
		// only relies on insert-if-absent.
		b.logger.Warn("resuming on a fresh snapshot",
			"run_id", cursor.RunID, "old_token", cursor.SnapshotToken, "new_token", cur.SnapshotToken())
		cursor.SnapshotToken = cur.SnapshotToken()
	}
	cursor.DocumentsTotal = cur.Total()

	if skip > 0 {
		if err := cur.Skip(skip); err != nil {
			return nil, fmt.Errorf("seek to position %d: %w", skip, err)
		}
		b.logger.Info("backfill resuming", "run_id", cursor.RunID, "position", skip)
	}

	if err := b.meta.SaveCursor(*cursor); err != nil {
		return nil, fmt.Errorf("checkpoint cursor: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return b.abort(cursor, err)
		}

		docs, done, err := cur.ReadBatch(ctx)
		if err != nil {
			return b.abort(cursor, fmt.Errorf("read batch at %d: %w", cursor.Position, err))
		}

		if len(docs) > 0 {
			rejected, err := b.insertBatch(ctx, docs)
			if err != nil {
				return b.abort(cursor, err)
			}
			cursor.DocumentsSeen += len(docs)
			cursor.Rejected += rejected
			cursor.Position = cur.Position()
			if err := b.meta.SaveCursor(*cursor); err != nil {
				return b.abort(cursor, fmt.Errorf("checkpoint cursor: %w", err))
			}
		}

		if done {
			break
		}
	}

	result, err := b.finish(ctx, cursor)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// openCursor loads the active checkpoint if one exists, otherwise starts
// a fresh run.
func (b *Backfill) openCursor(ctx context.Context) (*models.BackfillCursor, int, error) {
	checkpoint, err := b.meta.ActiveCursor()
	if err != nil {
		return nil, 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if checkpoint != nil {
		return checkpoint, checkpoint.Position, nil
	}
	return &models.BackfillCursor{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}, 0, nil
}

// insertBatch writes one batch with insert-if-absent semantics, retrying
// the whole batch on transient failure with exponential backoff. Returns
// the number of rejected (already present) documents.
func (b *Backfill) insertBatch(ctx context.Context, docs []*models.Document) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxBatchRetries; attempt++ {
		rejected, err := b.tryBatch(ctx, docs)
		if err == nil {
			return rejected, nil
		}
		lastErr = err
		if !index.IsTransient(err) {
			return 0, err
		}
		if attempt < b.cfg.MaxBatchRetries {
			d := b.batchBackoff(attempt)
			b.logger.Warn("batch insert failed, retrying",
				"attempt", attempt+1, "backoff", d, "error", err)
			if err := sleepCtx(ctx, d); err != nil {
				return 0, fmt.Errorf("batch retry cancelled: %w", lastErr)
			}
		}
	}
	return 0, fmt.Errorf("batch insert: %w (after %d retries)", lastErr, b.cfg.MaxBatchRetries)
}

// tryBatch attempts every document in the batch once. Insert-if-absent
// is idempotent, so a retried batch re-offers documents that already
// landed and simply collects rejections for them.
func (b *Backfill) tryBatch(ctx context.Context, docs []*models.Document) (int, error) {
	rejected := 0
	for _, doc := range docs {
		transformed, err := b.transform(doc)
		if err != nil {
			return 0, index.Permanent("transform", fmt.Errorf("document %s: %w", doc.ID, err))
		}
		inserted, err := b.dest.InsertIfAbsent(ctx, doc.ID, transformed)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", doc.ID, err)
		}
		if !inserted {
			rejected++
			b.recordAudit(doc.ID, store.OutcomeRejected, "already present, dispatcher wrote newer version")
			continue
		}
		b.recordAudit(doc.ID, store.OutcomeApplied, "")
	}
	return rejected, nil
}

func (b *Backfill) batchBackoff(attempt int) time.Duration {
	d := time.Duration(float64(b.cfg.RetryBackoff) * math.Pow(2, float64(attempt)))
	if d > b.cfg.MaxBackoff {
		d = b.cfg.MaxBackoff
	}
	return d
}

// abort preserves the checkpoint and surfaces the error. The phase stays
// Backfilling; nothing auto-advances.
func (b *Backfill) abort(cursor *models.BackfillCursor, cause error) (*models.BackfillResult, error) {
	b.logger.Error("backfill aborted",
		"run_id", cursor.RunID, "position", cursor.Position, "error", cause)
	return &models.BackfillResult{Cursor: *cursor, Completed: false},
		fmt.Errorf("backfill aborted at position %d: %w", cursor.Position, cause)
}

// finish runs the reconciliation check and clears the active-run marker.
func (b *Backfill) finish(ctx context.Context, cursor *models.BackfillCursor) (*models.BackfillResult, error) {
	legacyCount, err := b.source.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count legacy: %w", err)
	}
	targetCount, err := b.dest.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count target: %w", err)
	}

	result := &models.BackfillResult{
		Cursor:      *cursor,
		Completed:   true,
		Reconciled:  reconciled(legacyCount, targetCount, b.cfg.Tolerance),
		LegacyCount: legacyCount,
		TargetCount: targetCount,
	}

	if err := b.meta.ClearActiveRun(); err != nil {
		return nil, fmt.Errorf("clear active run: %w", err)
	}

	if !result.Reconciled {
		b.logger.Error("backfill reconciliation mismatch",
			"run_id", cursor.RunID, "legacy", legacyCount, "target", targetCount,
			"seen", cursor.DocumentsSeen, "rejected", cursor.Rejected)
	} else {
		b.logger.Info("backfill complete",
			"run_id", cursor.RunID, "seen", cursor.DocumentsSeen, "total", cursor.DocumentsTotal,
			"rejected", cursor.Rejected, "legacy", legacyCount, "target", targetCount)
	}
	return result, nil
}

func (b *Backfill) recordAudit(recordID, outcome, detail string) {
	if b.audit == nil {
		return
	}
	if err := b.audit.Record(recordID, "insert", models.RoleTarget, outcome, detail); err != nil {
		b.logger.Warn("audit write failed", "record_id", recordID, "error", err)
	}
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
