// Package feed provides the change feed adapter: an ordered,
// at-least-once stream of committed mutations from the primary data
// store. Per-record ordering is the producer's responsibility; the
// dispatcher preserves it downstream via lane routing.
package feed

import (
	"github.com/kilupskalvis/swivel/internal/models"
)

// Source is one change feed connection. Sequence tokens are opaque to
// the coordinator except for one property the producer must provide:
// within a single record's events, tokens compare lexicographically in
// commit order. The dispatcher uses this only to diagnose ordering
// violations, never to reorder.
type Source interface {
	// Events returns the event channel. It is closed when the feed ends
	// or the source is closed.
	Events() <-chan models.ChangeEvent
	// Ack acknowledges an event by its sequence token. Unacknowledged
	// events are redelivered by the producer.
	Ack(seq string) error
	// Close tears the source down. Safe to call more than once.
	Close() error
}
