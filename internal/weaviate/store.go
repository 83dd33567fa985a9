// Package weaviate provides the Weaviate-backed implementation of the
// index.Store contract. One Store is bound to one class on one cluster;
// a migration holds two of them, legacy and target.
package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kilupskalvis/swivel/internal/index"
	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	weaviatemodels "github.com/weaviate/weaviate/entities/models"
)

// Store binds a Weaviate class to the index.Store contract.
type Store struct {
	client *weaviate.Client
	class  string
	url    string
}

// NewStore creates a Store for the given endpoint and class.
func NewStore(endpoint, class string) (*Store, error) {
	cfg := weaviate.Config{
		Host:   endpoint,
		Scheme: "http",
	}

	// Handle URL parsing
	if len(endpoint) > 7 && endpoint[:7] == "http://" {
		cfg.Host = endpoint[7:]
		cfg.Scheme = "http"
	} else if len(endpoint) > 8 && endpoint[:8] == "https://" {
		cfg.Host = endpoint[8:]
		cfg.Scheme = "https"
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	return &Store{client: client, class: class, url: endpoint}, nil
}

var _ index.Store = (*Store)(nil)

// Ping checks if Weaviate is reachable.
func (s *Store) Ping(ctx context.Context) error {
	live, err := s.client.Misc().LiveChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Weaviate: %w", err)
	}
	if !live {
		return fmt.Errorf("weaviate is not live")
	}
	return nil
}

// classify maps a Weaviate client error onto the store error taxonomy.
// 5xx, overload and plain network failures retry; auth and schema-level
// rejections do not.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *fault.WeaviateClientError
	if errors.As(err, &ce) {
		switch {
		case ce.StatusCode >= 500, ce.StatusCode == 429, ce.StatusCode <= 0:
			return index.Transient(op, err)
		case ce.StatusCode == 401, ce.StatusCode == 403, ce.StatusCode == 422:
			return index.Permanent(op, err)
		}
		return index.Permanent(op, err)
	}
	return index.Transient(op, err)
}

// exists checks whether an object with the given id is present.
func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.Data().Checker().
		WithClassName(s.class).
		WithID(id).
		Do(ctx)
	if err != nil {
		return false, classify("check exists", err)
	}
	return ok, nil
}

// IndexOrReplace writes with last-writer-wins semantics: create when
// absent, update in place when present.
func (s *Store) IndexOrReplace(ctx context.Context, id string, doc *models.Document) error {
	ok, err := s.exists(ctx, id)
	if err != nil {
		return err
	}

	if ok {
		updater := s.client.Data().Updater().
			WithClassName(s.class).
			WithID(id).
			WithProperties(doc.Properties)
		if len(doc.Vector) > 0 {
			updater = updater.WithVector(doc.Vector)
		}
		if err := updater.Do(ctx); err != nil {
			return classify("update object", err)
		}
		return nil
	}

	return s.create(ctx, id, doc)
}

// InsertIfAbsent creates the document only when the id is free. A taken
// id is a rejection, not an error: it proves a newer write already
// landed.
func (s *Store) InsertIfAbsent(ctx context.Context, id string, doc *models.Document) (bool, error) {
	ok, err := s.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}

	if err := s.create(ctx, id, doc); err != nil {
		// A concurrent dispatcher write can land between the existence
		// check and the create; Weaviate rejects the duplicate id.
		var ce *fault.WeaviateClientError
		if errors.As(err, &ce) && ce.StatusCode == 422 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) create(ctx context.Context, id string, doc *models.Document) error {
	creator := s.client.Data().Creator().
		WithClassName(s.class).
		WithID(id).
		WithProperties(doc.Properties)
	if len(doc.Vector) > 0 {
		creator = creator.WithVector(doc.Vector)
	}
	if _, err := creator.Do(ctx); err != nil {
		return classify("create object", err)
	}
	return nil
}

// DeleteIfExists removes the document; absence is a no-op.
func (s *Store) DeleteIfExists(ctx context.Context, id string) error {
	err := s.client.Data().Deleter().
		WithClassName(s.class).
		WithID(id).
		Do(ctx)
	if err != nil {
		var ce *fault.WeaviateClientError
		if errors.As(err, &ce) && ce.StatusCode == 404 {
			return nil
		}
		return classify("delete object", err)
	}
	return nil
}

// Count returns the number of objects in the class using an aggregate
// query.
func (s *Store) Count(ctx context.Context) (int, error) {
	metaField := graphql.Field{
		Name: "meta",
		Fields: []graphql.Field{
			{Name: "count"},
		},
	}

	result, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(metaField).
		Do(ctx)
	if err != nil {
		return 0, classify("count", fmt.Errorf("failed to get count for %s: %w", s.class, err))
	}

	// Parse the aggregate result
	data, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, index.Permanent("count", fmt.Errorf("unexpected aggregate response format"))
	}

	classData, ok := data[s.class].([]interface{})
	if !ok || len(classData) == 0 {
		return 0, nil
	}

	first, ok := classData[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}

	meta, ok := first["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}

	count, ok := meta["count"].(float64)
	if !ok {
		return 0, nil
	}

	return int(count), nil
}

// OpenSnapshotCursor materializes the class contents at open time using
// cursor pagination, so the returned cursor never observes later
// mutations. Weaviate has no server-side MVCC snapshot; fixing the
// membership at open is what the backfill contract needs, since the
// dispatcher's newer writes win through insert-if-absent anyway.
func (s *Store) OpenSnapshotCursor(ctx context.Context, batchSize int) (index.Cursor, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var all []*models.Document
	limit := 100
	afterCursor := ""

	for {
		getter := s.client.Data().ObjectsGetter().
			WithClassName(s.class).
			WithVector().
			WithLimit(limit)
		if afterCursor != "" {
			getter = getter.WithAfter(afterCursor)
		}

		objs, err := getter.Do(ctx)
		if err != nil {
			return nil, classify("snapshot read", fmt.Errorf("failed to fetch objects from %s: %w", s.class, err))
		}
		if len(objs) == 0 {
			break
		}

		for _, obj := range objs {
			if doc := toDocument(obj); doc != nil {
				all = append(all, doc)
			}
		}

		if len(objs) < limit {
			break
		}
		afterCursor = objs[len(objs)-1].ID.String()
	}

	return &snapshotCursor{
		token:     uuid.NewString(),
		docs:      all,
		batchSize: batchSize,
	}, nil
}

// toDocument converts a Weaviate API object to the internal model.
func toDocument(obj *weaviatemodels.Object) *models.Document {
	// JSON round-trip handles the interface{} vector type in v5 safely.
	data, err := json.Marshal(obj)
	if err != nil {
		return nil
	}

	var raw struct {
		ID         string                 `json:"id"`
		Properties map[string]interface{} `json:"properties"`
		Vector     []float32              `json:"vector"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	return &models.Document{
		ID:         raw.ID,
		Properties: raw.Properties,
		Vector:     raw.Vector,
	}
}

type snapshotCursor struct {
	token     string
	docs      []*models.Document
	batchSize int
	pos       int
	started   bool
}

func (c *snapshotCursor) ReadBatch(ctx context.Context) ([]*models.Document, bool, error) {
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

func (c *snapshotCursor) Position() int { return c.pos }

func (c *snapshotCursor) Skip(n int) error {
	if c.started {
		return fmt.Errorf("cannot skip after iteration started")
	}
	if n < 0 || n > len(c.docs) {
		return fmt.Errorf("skip position %d out of range [0, %d]", n, len(c.docs))
	}
	c.pos = n
	return nil
}

func (c *snapshotCursor) SnapshotToken() string { return c.token }

func (c *snapshotCursor) Total() int { return len(c.docs) }
