package feed

import (
	"sync"

	"github.com/kilupskalvis/swivel/internal/models"
)

// Replay is an in-memory Source fed by tests and by `swivel run
// --dry-run`. It records acknowledgments so tests can assert the
// at-least-once contract.
type Replay struct {
	mu     sync.Mutex
	ch     chan models.ChangeEvent
	acked  map[string]bool
	closed bool
}

// NewReplay creates a Replay source with a buffered channel.
func NewReplay(buffer int) *Replay {
	if buffer <= 0 {
		buffer = 64
	}
	return &Replay{
		ch:    make(chan models.ChangeEvent, buffer),
		acked: make(map[string]bool),
	}
}

var _ Source = (*Replay)(nil)

// Emit queues an event for delivery.
func (r *Replay) Emit(ev models.ChangeEvent) {
	r.ch <- ev
}

// Finish closes the event channel, signalling end of feed.
func (r *Replay) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}

func (r *Replay) Events() <-chan models.ChangeEvent { return r.ch }

func (r *Replay) Ack(seq string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acked[seq] = true
	return nil
}

func (r *Replay) Close() error {
	r.Finish()
	return nil
}

// Acked reports whether the given sequence token was acknowledged.
func (r *Replay) Acked(seq string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acked[seq]
}

// AckedCount returns how many events were acknowledged.
func (r *Replay) AckedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.acked)
}
