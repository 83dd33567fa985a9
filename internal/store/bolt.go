// Package store provides the coordinator's local persistence: a bbolt
// metastore for migration phase, the delete-fence queue, and backfill
// cursor checkpoints, plus a SQLite audit log of target-bound operations.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilupskalvis/swivel/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the metastore.
var (
	bucketKV             = []byte("kv")
	bucketPendingDeletes = []byte("pending_deletes")
	bucketCursors        = []byte("cursors")
)

// KV keys.
const (
	keyPhase     = "phase"
	keyActiveRun = "active_run"
)

// Meta is the bbolt-backed metastore. All state that must survive a
// coordinator restart lives here.
type Meta struct {
	db *bolt.DB
}

// OpenMeta opens or creates the metastore at the given path.
func OpenMeta(dbPath string) (*Meta, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open metastore: %w", err)
	}

	m := &Meta{db: db}
	if err := m.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// Close closes the database.
func (m *Meta) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// initialize creates all required buckets.
func (m *Meta) initialize() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketKV, bucketPendingDeletes, bucketCursors}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// GetPhase returns the persisted migration phase, defaulting to Preparing
// on a fresh metastore.
func (m *Meta) GetPhase() (models.MigrationPhase, error) {
	var raw string
	err := m.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketKV).Get([]byte(keyPhase)); v != nil {
			raw = string(v)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if raw == "" {
		return models.PhasePreparing, nil
	}
	return models.ParsePhase(raw)
}

// SetPhase persists the migration phase.
func (m *Meta) SetPhase(p models.MigrationPhase) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(keyPhase), []byte(p))
	})
}

// pendingKey orders fence entries by arrival: an 8-byte big-endian
// sequence prefix keeps bbolt's key order equal to FIFO order.
func pendingKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// AppendPendingDelete appends a fenced delete to the queue.
func (m *Meta) AppendPendingDelete(pd models.PendingDelete) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingDeletes)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(pd)
		if err != nil {
			return fmt.Errorf("marshal pending delete: %w", err)
		}
		return b.Put(pendingKey(seq), data)
	})
}

// ListPendingDeletes returns all fenced deletes in FIFO order.
func (m *Meta) ListPendingDeletes() ([]models.PendingDelete, error) {
	var out []models.PendingDelete
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingDeletes).ForEach(func(k, v []byte) error {
			var pd models.PendingDelete
			if err := json.Unmarshal(v, &pd); err != nil {
				return fmt.Errorf("unmarshal pending delete %x: %w", k, err)
			}
			out = append(out, pd)
			return nil
		})
	})
	return out, err
}

// PendingDeleteCount returns the queue length.
func (m *Meta) PendingDeleteCount() (int, error) {
	n := 0
	err := m.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketPendingDeletes).Stats().KeyN
		return nil
	})
	return n, err
}

// ClearPendingDeletes drops the whole queue after a successful release.
func (m *Meta) ClearPendingDeletes() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketPendingDeletes); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketPendingDeletes)
		return err
	})
}

// SaveCursor checkpoints a backfill cursor under its run id and marks the
// run active so a restart can resume it.
func (m *Meta) SaveCursor(c models.BackfillCursor) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal cursor: %w", err)
		}
		if err := tx.Bucket(bucketCursors).Put([]byte(c.RunID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketKV).Put([]byte(keyActiveRun), []byte(c.RunID))
	})
}

// ActiveCursor returns the checkpoint of the active backfill run, or nil
// when no run is in progress.
func (m *Meta) ActiveCursor() (*models.BackfillCursor, error) {
	var c *models.BackfillCursor
	err := m.db.View(func(tx *bolt.Tx) error {
		runID := tx.Bucket(bucketKV).Get([]byte(keyActiveRun))
		if runID == nil {
			return nil
		}
		v := tx.Bucket(bucketCursors).Get(runID)
		if v == nil {
			return nil
		}
		c = &models.BackfillCursor{}
		if err := json.Unmarshal(v, c); err != nil {
			return fmt.Errorf("unmarshal cursor %s: %w", runID, err)
		}
		return nil
	})
	return c, err
}

// ClearActiveRun forgets the active run marker once a backfill completes
// or is abandoned. The per-run checkpoint is kept for inspection.
func (m *Meta) ClearActiveRun() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Delete([]byte(keyActiveRun))
	})
}
