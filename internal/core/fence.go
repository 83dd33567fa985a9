package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kilupskalvis/swivel/internal/index"
	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/kilupskalvis/swivel/internal/store"
)

// DeleteFence defers target-bound deletes while a backfill is running.
// A record deleted from the legacy index after the backfill snapshot was
// taken may still be inserted into the target by the backfill engine;
// replaying the delete only after the backfill completes guarantees the
// record cannot resurrect.
//
// The queue is persisted in the metastore so a crash during Backfilling
// loses no deletes. Enqueue and release are mutually exclusive under the
// fence mutex: a delete arriving while Release drains the queue waits,
// and once the fence has been released it is applied to the target
// directly instead of landing in a queue nothing will drain. The phase
// controller re-activates the fence when the migration enters
// Backfilling again after a rollback.
type DeleteFence struct {
	meta   *store.Meta
	target index.Store
	audit  *store.AuditLog
	logger *slog.Logger

	mu   sync.Mutex
	open bool
}

// NewDeleteFence creates a fence writing to the given metastore and
// replaying against the given target store. audit may be nil. The fence
// starts open; a successful Release closes it.
func NewDeleteFence(meta *store.Meta, target index.Store, audit *store.AuditLog, logger *slog.Logger) *DeleteFence {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeleteFence{meta: meta, target: target, audit: audit, logger: logger, open: true}
}

var _ Releaser = (*DeleteFence)(nil)

// Fence enqueues a pending delete for later replay. If the fence has
// already been released (the caller read the phase before an advance
// committed), the delete is applied to the target directly, best-effort,
// like any other post-backfill delete.
func (f *DeleteFence) Fence(ctx context.Context, recordID, seq string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		if err := f.target.DeleteIfExists(ctx, recordID); err != nil {
			f.logger.Error("post-release delete failed", "record_id", recordID, "error", err)
			f.recordAudit(recordID, "delete", store.OutcomeFailed, err.Error())
			return nil
		}
		f.logger.Info("delete applied directly, fence already released", "record_id", recordID, "seq", seq)
		f.recordAudit(recordID, "delete", store.OutcomeApplied, "fence already released")
		return nil
	}

	pd := models.PendingDelete{
		RecordID:    recordID,
		Seq:         seq,
		RequestedAt: time.Now().UTC(),
	}
	if err := f.meta.AppendPendingDelete(pd); err != nil {
		return fmt.Errorf("fence delete for %s: %w", recordID, err)
	}
	f.logger.Info("delete fenced", "record_id", recordID, "seq", seq)
	f.recordAudit(recordID, "delete", store.OutcomeFenced, "deferred until backfill completes")
	return nil
}

// Release replays all pending deletes against the target in FIFO arrival
// order with delete-if-exists semantics, drains the queue and closes the
// fence. Enqueues block for the duration, so nothing can slip into the
// segment being drained. Calling Release on an empty or already-drained
// queue only closes the fence.
func (f *DeleteFence) Release(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending, err := f.meta.ListPendingDeletes()
	if err != nil {
		return fmt.Errorf("list pending deletes: %w", err)
	}

	for _, pd := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.target.DeleteIfExists(ctx, pd.RecordID); err != nil {
			f.recordAudit(pd.RecordID, "delete", store.OutcomeFailed, err.Error())
			return fmt.Errorf("replay delete for %s: %w", pd.RecordID, err)
		}
		f.recordAudit(pd.RecordID, "delete", store.OutcomeApplied, "replayed from fence")
	}

	if len(pending) > 0 {
		if err := f.meta.ClearPendingDeletes(); err != nil {
			return fmt.Errorf("clear pending deletes: %w", err)
		}
		f.logger.Info("delete fence released", "replayed", len(pending))
	}
	f.open = false
	return nil
}

// Activate re-opens the fence. Called by the phase controller when the
// migration enters Backfilling.
func (f *DeleteFence) Activate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
}

// Pending returns the current queue length.
func (f *DeleteFence) Pending() (int, error) {
	return f.meta.PendingDeleteCount()
}

func (f *DeleteFence) recordAudit(recordID, op, outcome, detail string) {
	if f.audit == nil {
		return
	}
	if err := f.audit.Record(recordID, op, models.RoleTarget, outcome, detail); err != nil {
		f.logger.Warn("audit write failed", "record_id", recordID, "error", err)
	}
}
