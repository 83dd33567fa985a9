package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kilupskalvis/swivel/internal/models"
)

// Memory is an in-memory Store implementation used by the core package
// tests and by `swivel run --dry-run`. It is safe for concurrent use.
type Memory struct {
	mu   sync.Mutex
	docs map[string]*models.Document

	// Err, when set, is returned by every operation. Tests use it to
	// simulate store outages.
	Err error
	// FailInserts, when positive, makes the next N InsertIfAbsent calls
	// fail with a transient error before succeeding.
	FailInserts int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*models.Document)}
}

var _ Store = (*Memory)(nil)

// Seed inserts documents directly, bypassing error injection. Test setup
// helper.
func (m *Memory) Seed(docs ...*models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.docs[d.ID] = d.Clone()
	}
}

// Get returns the stored document or nil. Test inspection helper.
func (m *Memory) Get(id string) *models.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil
	}
	return d.Clone()
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (m *Memory) IndexOrReplace(ctx context.Context, id string, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.docs[id] = doc.Clone()
	return nil
}

func (m *Memory) InsertIfAbsent(ctx context.Context, id string, doc *models.Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if m.FailInserts > 0 {
		m.FailInserts--
		return false, Transient("insert if absent", fmt.Errorf("injected failure"))
	}
	if _, exists := m.docs[id]; exists {
		return false, nil
	}
	m.docs[id] = doc.Clone()
	return true, nil
}

func (m *Memory) DeleteIfExists(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.docs, id)
	return nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return len(m.docs), nil
}

// OpenSnapshotCursor copies the current contents so later mutations are
// invisible to the cursor, mirroring a real engine's stable read view.
func (m *Memory) OpenSnapshotCursor(ctx context.Context, batchSize int) (Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	snapshot := make([]*models.Document, 0, len(m.docs))
	for _, d := range m.docs {
		snapshot = append(snapshot, d.Clone())
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	return &memoryCursor{
		token:     uuid.NewString(),
		docs:      snapshot,
		batchSize: batchSize,
	}, nil
}

type memoryCursor struct {
	token     string
	docs      []*models.Document
	batchSize int
	pos       int
	started   bool
}

func (c *memoryCursor) ReadBatch(ctx context.Context) ([]*models.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c.started = true
	if c.pos >= len(c.docs) {
		return nil, true, nil
	}
	end := c.pos + c.batchSize
	if end > len(c.docs) {
		end = len(c.docs)
	}
	batch := c.docs[c.pos:end]
	c.pos = end
	return batch, c.pos >= len(c.docs), nil
}

func (c *memoryCursor) Position() int { return c.pos }

func (c *memoryCursor) Skip(n int) error {
	if c.started {
		return fmt.Errorf("cannot skip after iteration started")
	}
	if n < 0 || n > len(c.docs) {
		return fmt.Errorf("skip position %d out of range [0, %d]", n, len(c.docs))
	}
	c.pos = n
	return nil
}

func (c *memoryCursor) SnapshotToken() string { return c.token }

func (c *memoryCursor) Total() int { return len(c.docs) }
