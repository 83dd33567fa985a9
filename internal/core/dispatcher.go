package core

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/kilupskalvis/swivel/internal/feed"
	"github.com/kilupskalvis/swivel/internal/index"
	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/kilupskalvis/swivel/internal/store"
)

// Dispatcher applies change events to the legacy index always and to the
// target index according to the current migration phase. The legacy and
// target indexes are eventually, not atomically, consistent: a target
// failure never blocks or rolls back the legacy write.
type Dispatcher struct {
	legacy    index.Store
	target    index.Store
	phases    *Controller
	fence     *DeleteFence
	transform models.Transform
	audit     *store.AuditLog
	logger    *slog.Logger

	mu      sync.Mutex
	lastSeq map[string]string
}

// NewDispatcher wires a dispatcher. transform may be nil (identity);
// audit may be nil.
func NewDispatcher(legacy, target index.Store, phases *Controller, fence *DeleteFence,
	transform models.Transform, audit *store.AuditLog, logger *slog.Logger) *Dispatcher {
	if transform == nil {
		transform = models.IdentityTransform
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		legacy:    legacy,
		target:    target,
		phases:    phases,
		fence:     fence,
		transform: transform,
		audit:     audit,
		logger:    logger,
		lastSeq:   make(map[string]string),
	}
}

// Apply processes one change event. A returned error means the legacy
// write (or a fence enqueue) failed and the feed must redeliver the
// event; target index failures are logged, audited and retried
// independently but never surface here.
func (d *Dispatcher) Apply(ctx context.Context, ev models.ChangeEvent) error {
	d.checkOrdering(ev)

	var doc *models.Document
	switch ev.Op {
	case models.OpUpsert:
		var err error
		doc, err = models.DecodeDocument(ev.RecordID, ev.Payload)
		if err != nil {
			return fmt.Errorf("decode payload for %s: %w", ev.RecordID, err)
		}
		if err := d.legacy.IndexOrReplace(ctx, ev.RecordID, doc); err != nil {
			return fmt.Errorf("legacy upsert %s: %w", ev.RecordID, err)
		}
	case models.OpDelete:
		if err := d.legacy.DeleteIfExists(ctx, ev.RecordID); err != nil {
			return fmt.Errorf("legacy delete %s: %w", ev.RecordID, err)
		}
	default:
		return fmt.Errorf("unknown change op %q for %s", ev.Op, ev.RecordID)
	}

	phase := d.phases.Current()

	switch {
	case ev.Op == models.OpUpsert && phase.TargetWritesEnabled():
		d.targetUpsert(ctx, ev, doc)
	case ev.Op == models.OpDelete && phase.DeletesFenced():
		// The fence queue is coordinator state, not a target write: if we
		// cannot persist the pending delete we must not ack the event,
		// or the delete would be lost.
		if err := d.fence.Fence(ctx, ev.RecordID, ev.Seq); err != nil {
			return err
		}
	case ev.Op == models.OpDelete && (phase.TargetWritesEnabled() || phase == models.PhaseCutover):
		d.targetDelete(ctx, ev)
	}

	return nil
}

// targetUpsert mirrors an upsert to the target index, best-effort.
func (d *Dispatcher) targetUpsert(ctx context.Context, ev models.ChangeEvent, doc *models.Document) {
	transformed, err := d.transform(doc)
	if err != nil {
		d.logger.Error("target transform failed", "record_id", ev.RecordID, "error", err)
		d.recordAudit(ev.RecordID, "upsert", store.OutcomeFailed, err.Error())
		return
	}
	if err := d.target.IndexOrReplace(ctx, ev.RecordID, transformed); err != nil {
		d.logger.Error("target upsert failed", "record_id", ev.RecordID, "error", err)
		d.recordAudit(ev.RecordID, "upsert", store.OutcomeFailed, err.Error())
		return
	}
	d.logger.Info("target upsert", "record_id", ev.RecordID, "outcome", store.OutcomeApplied)
	d.recordAudit(ev.RecordID, "upsert", store.OutcomeApplied, "")
}

// targetDelete mirrors a delete to the target index, best-effort.
func (d *Dispatcher) targetDelete(ctx context.Context, ev models.ChangeEvent) {
	if err := d.target.DeleteIfExists(ctx, ev.RecordID); err != nil {
		d.logger.Error("target delete failed", "record_id", ev.RecordID, "error", err)
		d.recordAudit(ev.RecordID, "delete", store.OutcomeFailed, err.Error())
		return
	}
	d.logger.Info("target delete", "record_id", ev.RecordID, "outcome", store.OutcomeApplied)
	d.recordAudit(ev.RecordID, "delete", store.OutcomeApplied, "")
}

// maxTrackedRecords bounds the ordering-check map. The check is purely
// diagnostic, so forgetting old records when the bound is hit only costs
// detection of violations spanning the reset.
const maxTrackedRecords = 1 << 16

// checkOrdering flags events arriving out of per-record order, relying
// on the feed's lexicographic sequence tokens. The later arrival still
// wins: both indexes use last-writer-wins and the fence design covers
// the backfill race, so the violation is diagnostic only.
func (d *Dispatcher) checkOrdering(ev models.ChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastSeq[ev.RecordID]; ok && ev.Seq < last {
		d.logger.Warn("ordering violation: event arrived out of per-record order",
			"record_id", ev.RecordID, "seq", ev.Seq, "last_seq", last)
		return
	}
	if len(d.lastSeq) >= maxTrackedRecords {
		d.lastSeq = make(map[string]string)
	}
	d.lastSeq[ev.RecordID] = ev.Seq
}

func (d *Dispatcher) recordAudit(recordID, op, outcome, detail string) {
	if d.audit == nil {
		return
	}
	if err := d.audit.Record(recordID, op, models.RoleTarget, outcome, detail); err != nil {
		d.logger.Warn("audit write failed", "record_id", recordID, "error", err)
	}
}

// Run consumes the change feed until the context is cancelled or the
// feed closes. Events are routed by record id to a fixed lane so
// mutations of one record are serialized while different records proceed
// concurrently. An event is acknowledged only after its legacy
// application succeeded; failed events are left for redelivery.
func (d *Dispatcher) Run(ctx context.Context, src feed.Source, lanes int) error {
	if lanes <= 0 {
		lanes = 4
	}

	chans := make([]chan models.ChangeEvent, lanes)
	var wg sync.WaitGroup
	for i := range chans {
		chans[i] = make(chan models.ChangeEvent, 64)
		wg.Add(1)
		go func(ch <-chan models.ChangeEvent) {
			defer wg.Done()
			for ev := range ch {
				if err := d.Apply(ctx, ev); err != nil {
					d.logger.Error("event failed, awaiting redelivery",
						"record_id", ev.RecordID, "seq", ev.Seq, "error", err)
					continue
				}
				if err := src.Ack(ev.Seq); err != nil {
					d.logger.Warn("ack failed", "seq", ev.Seq, "error", err)
				}
			}
		}(chans[i])
	}

	drain := func() {
		for _, ch := range chans {
			close(ch)
		}
		wg.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return ctx.Err()
		case ev, ok := <-src.Events():
			if !ok {
				drain()
				return nil
			}
			chans[laneFor(ev.RecordID, lanes)] <- ev
		}
	}
}

// laneFor maps a record id to a worker lane.
func laneFor(recordID string, lanes int) int {
	h := fnv.New32a()
	h.Write([]byte(recordID))
	return int(h.Sum32() % uint32(lanes))
}
