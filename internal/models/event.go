// Package models defines the shared data model for swivel: change events,
// index documents, migration phases, and backfill bookkeeping.
package models

import "time"

// ChangeOp is the kind of mutation carried by a change event.
type ChangeOp string

const (
	OpUpsert ChangeOp = "upsert"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent is a single committed mutation emitted by the change feed.
// Events for the same RecordID arrive in commit order; cross-record order
// is not guaranteed. Delivery is at-least-once, so consumers must be
// idempotent.
type ChangeEvent struct {
	RecordID string   `json:"record_id" msgpack:"record_id"`
	Op       ChangeOp `json:"op" msgpack:"op"`
	// Payload is the opaque document body for upserts; empty for deletes.
	Payload []byte `json:"payload,omitempty" msgpack:"payload"`
	// Seq is the feed's opaque sequence token, used for acknowledgment
	// and ordering diagnostics.
	Seq string `json:"seq" msgpack:"seq"`
}

// PendingDelete is a delete that arrived for the target index while a
// backfill was running. It is held by the delete fence and replayed in
// FIFO order once the backfill completes.
type PendingDelete struct {
	RecordID    string    `json:"record_id"`
	Seq         string    `json:"seq"`
	RequestedAt time.Time `json:"requested_at"`
}
