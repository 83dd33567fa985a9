package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	for _, p := range []MigrationPhase{
		PhasePreparing, PhaseDualWrite, PhaseBackfilling,
		PhaseCutoverPending, PhaseCutover, PhaseComplete,
	} {
		parsed, err := ParsePhase(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}

	_, err := ParsePhase("half-cut-over")
	assert.Error(t, err)
}

func TestPhasePredicates(t *testing.T) {
	assert.False(t, PhasePreparing.TargetWritesEnabled())
	assert.True(t, PhaseDualWrite.TargetWritesEnabled())
	assert.True(t, PhaseBackfilling.TargetWritesEnabled())
	assert.True(t, PhaseCutoverPending.TargetWritesEnabled())
	assert.False(t, PhaseCutover.TargetWritesEnabled())

	assert.True(t, PhaseBackfilling.DeletesFenced())
	assert.False(t, PhaseDualWrite.DeletesFenced())

	assert.True(t, PhaseComplete.Terminal())
	assert.False(t, PhaseCutover.Terminal())
}

func TestBackfillCursorDone(t *testing.T) {
	c := BackfillCursor{DocumentsSeen: 3, DocumentsTotal: 10}
	assert.False(t, c.Done())

	c.DocumentsSeen = 10
	assert.True(t, c.Done())
}

func TestDecodeDocumentEnvelope(t *testing.T) {
	payload := []byte(`{"id":"ignored","properties":{"title":"Go"},"vector":[0.1,0.2]}`)

	doc, err := DecodeDocument("rec-1", payload)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", doc.ID)
	assert.Equal(t, "Go", doc.Properties["title"])
	assert.Len(t, doc.Vector, 2)
}

func TestDecodeDocumentBareMap(t *testing.T) {
	doc, err := DecodeDocument("rec-2", []byte(`{"title":"bare"}`))
	require.NoError(t, err)
	assert.Equal(t, "rec-2", doc.ID)
	assert.Equal(t, "bare", doc.Properties["title"])
}

func TestDecodeDocumentEmptyPayload(t *testing.T) {
	doc, err := DecodeDocument("rec-3", nil)
	require.NoError(t, err)
	assert.Equal(t, "rec-3", doc.ID)
	assert.Empty(t, doc.Properties)

	_, err = DecodeDocument("rec-4", []byte(`not json`))
	assert.Error(t, err)
}

func TestDocumentClone(t *testing.T) {
	orig := &Document{
		ID:         "rec-5",
		Properties: map[string]any{"title": "before"},
		Vector:     []float32{1, 2},
	}

	clone := orig.Clone()
	clone.Properties["title"] = "after"
	clone.Vector[0] = 9

	assert.Equal(t, "before", orig.Properties["title"])
	assert.Equal(t, float32(1), orig.Vector[0])
}
