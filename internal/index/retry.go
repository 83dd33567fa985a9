package index

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kilupskalvis/swivel/internal/models"
)

// RetryConfig configures retry behavior for transient store errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
	// OpTimeout bounds each individual attempt; zero means no per-attempt
	// deadline beyond the caller's context.
	OpTimeout time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
		OpTimeout:      15 * time.Second,
	}
}

// RetryStore wraps a Store with automatic retry on transient errors.
// Permanent errors and context cancellation pass through immediately.
type RetryStore struct {
	inner  Store
	config *RetryConfig
}

// NewRetryStore creates a RetryStore that wraps the given Store.
func NewRetryStore(inner Store, cfg *RetryConfig) *RetryStore {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryStore{inner: inner, config: cfg}
}

var _ Store = (*RetryStore)(nil)

// backoff computes the delay for the given attempt with jitter.
func (rs *RetryStore) backoff(attempt int) time.Duration {
	base := float64(rs.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rs.config.MaxBackoff) {
		base = float64(rs.config.MaxBackoff)
	}
	jitter := base * rs.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry executes fn with retry logic. Only retries transient errors.
func (rs *RetryStore) retry(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= rs.config.MaxRetries; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if rs.config.OpTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, rs.config.OpTimeout)
		}
		lastErr = fn(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt < rs.config.MaxRetries {
			d := rs.backoff(attempt)
			if err := sleep(ctx, d); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rs.config.MaxRetries)
}

func (rs *RetryStore) IndexOrReplace(ctx context.Context, id string, doc *models.Document) error {
	return rs.retry(ctx, "index or replace", func(ctx context.Context) error {
		return rs.inner.IndexOrReplace(ctx, id, doc)
	})
}

func (rs *RetryStore) InsertIfAbsent(ctx context.Context, id string, doc *models.Document) (inserted bool, err error) {
	err = rs.retry(ctx, "insert if absent", func(ctx context.Context) error {
		inserted, err = rs.inner.InsertIfAbsent(ctx, id, doc)
		return err
	})
	return
}

func (rs *RetryStore) DeleteIfExists(ctx context.Context, id string) error {
	return rs.retry(ctx, "delete if exists", func(ctx context.Context) error {
		return rs.inner.DeleteIfExists(ctx, id)
	})
}

func (rs *RetryStore) OpenSnapshotCursor(ctx context.Context, batchSize int) (c Cursor, err error) {
	err = rs.retry(ctx, "open snapshot cursor", func(ctx context.Context) error {
		c, err = rs.inner.OpenSnapshotCursor(ctx, batchSize)
		return err
	})
	return
}

func (rs *RetryStore) Count(ctx context.Context) (n int, err error) {
	err = rs.retry(ctx, "count", func(ctx context.Context) error {
		n, err = rs.inner.Count(ctx)
		return err
	})
	return
}
