// Package index defines the minimal store contract swivel needs from a
// search index, plus the error taxonomy and retry wrapper shared by all
// implementations. The coordinator depends only on this interface, never
// on a specific engine's wire protocol.
package index

import (
	"context"

	"github.com/kilupskalvis/swivel/internal/models"
)

// Store is the write/read surface swivel uses against one index.
//
// Implementations: Memory (tests), weaviate.Store (production).
type Store interface {
	// IndexOrReplace writes doc under id with last-writer-wins semantics.
	IndexOrReplace(ctx context.Context, id string, doc *models.Document) error
	// InsertIfAbsent creates doc under id only if no document with that id
	// exists. Returns inserted=false (and no error) when the id is taken.
	InsertIfAbsent(ctx context.Context, id string, doc *models.Document) (inserted bool, err error)
	// DeleteIfExists removes the document under id; absence is a no-op,
	// not an error.
	DeleteIfExists(ctx context.Context, id string) error
	// OpenSnapshotCursor opens a stable iteration view over the index as
	// of now. The cursor never observes later mutations.
	OpenSnapshotCursor(ctx context.Context, batchSize int) (Cursor, error)
	// Count returns the current number of documents in the index.
	Count(ctx context.Context) (int, error)
}

// Cursor iterates a point-in-time snapshot in batches.
type Cursor interface {
	// ReadBatch returns the next batch. done is true once the snapshot is
	// exhausted; the final call may return both docs and done.
	ReadBatch(ctx context.Context) (docs []*models.Document, done bool, err error)
	// Position is the number of documents handed out so far. Seeking
	// forward with Skip lets an aborted run resume without rereads.
	Position() int
	// Skip advances the cursor past n documents from the start. Only valid
	// before the first ReadBatch.
	Skip(n int) error
	// SnapshotToken identifies the snapshot this cursor reads from.
	SnapshotToken() string
	// Total is the snapshot-time document count.
	Total() int
}
