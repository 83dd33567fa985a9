package models

import "time"

// BackfillCursor tracks a backfill run's progress through a point-in-time
// snapshot of the legacy index. SnapshotToken is fixed for the cursor's
// lifetime: the run never observes mutations committed after the snapshot
// was taken. Position is the last acknowledged batch boundary and is safe
// to persist at any point.
type BackfillCursor struct {
	RunID          string    `json:"run_id"`
	SnapshotToken  string    `json:"snapshot_token"`
	Position       int       `json:"position"`
	DocumentsSeen  int       `json:"documents_seen"`
	DocumentsTotal int       `json:"documents_total"`
	Rejected       int       `json:"rejected"`
	StartedAt      time.Time `json:"started_at"`
}

// Done reports whether the cursor has consumed the whole snapshot.
func (c *BackfillCursor) Done() bool {
	return c.DocumentsSeen >= c.DocumentsTotal
}

// BackfillResult summarizes a finished (or aborted) backfill run.
type BackfillResult struct {
	Cursor     BackfillCursor `json:"cursor"`
	Completed  bool           `json:"completed"`
	Reconciled bool           `json:"reconciled"`
	// LegacyCount and TargetCount are the post-run totals used by the
	// reconciliation check.
	LegacyCount int `json:"legacy_count"`
	TargetCount int `json:"target_count"`
}
