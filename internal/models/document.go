package models

import "encoding/json"

// Document is an index-side document: the unit stored in both the legacy
// and the target index. Properties carry the searchable body; Vector is
// optional and only set when the index stores embeddings alongside.
type Document struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	Vector     []float32      `json:"vector,omitempty"`
}

// DecodeDocument parses an opaque change-event payload into a Document.
// The payload is the JSON body produced by the primary store's feed.
func DecodeDocument(id string, payload []byte) (*Document, error) {
	doc := &Document{ID: id}
	if len(payload) == 0 {
		doc.Properties = map[string]any{}
		return doc, nil
	}
	if err := json.Unmarshal(payload, doc); err == nil && len(doc.Properties) > 0 {
		doc.ID = id
		return doc, nil
	}
	// Bare property maps are accepted too; feeds differ on envelope shape.
	props := map[string]any{}
	if err := json.Unmarshal(payload, &props); err != nil {
		return nil, err
	}
	return &Document{ID: id, Properties: props}, nil
}

// Clone returns a deep-enough copy: the properties map is copied so the
// caller can mutate it without aliasing the original.
func (d *Document) Clone() *Document {
	props := make(map[string]any, len(d.Properties))
	for k, v := range d.Properties {
		props[k] = v
	}
	vec := make([]float32, len(d.Vector))
	copy(vec, d.Vector)
	return &Document{ID: d.ID, Properties: props, Vector: vec}
}

// Transform is a user-supplied schema migration function applied to each
// document before it is written to the target index.
type Transform func(*Document) (*Document, error)

// IdentityTransform passes documents through unchanged.
func IdentityTransform(d *Document) (*Document, error) { return d, nil }
