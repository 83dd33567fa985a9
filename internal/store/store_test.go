package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeta(t *testing.T) *Meta {
	t.Helper()
	m, err := OpenMeta(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMeta_PhaseDefaultsToPreparing(t *testing.T) {
	m := testMeta(t)

	p, err := m.GetPhase()
	require.NoError(t, err)
	assert.Equal(t, models.PhasePreparing, p)
}

func TestMeta_PhaseRoundTrip(t *testing.T) {
	m := testMeta(t)

	require.NoError(t, m.SetPhase(models.PhaseBackfilling))
	p, err := m.GetPhase()
	require.NoError(t, err)
	assert.Equal(t, models.PhaseBackfilling, p)
}

func TestMeta_PendingDeletesFIFO(t *testing.T) {
	m := testMeta(t)

	now := time.Now().UTC()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, m.AppendPendingDelete(models.PendingDelete{
			RecordID:    id,
			Seq:         "seq-" + id,
			RequestedAt: now,
		}))
	}

	pds, err := m.ListPendingDeletes()
	require.NoError(t, err)
	require.Len(t, pds, 3)
	// Arrival order, not lexical order.
	assert.Equal(t, "c", pds[0].RecordID)
	assert.Equal(t, "a", pds[1].RecordID)
	assert.Equal(t, "b", pds[2].RecordID)

	n, err := m.PendingDeleteCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMeta_ClearPendingDeletes(t *testing.T) {
	m := testMeta(t)

	require.NoError(t, m.AppendPendingDelete(models.PendingDelete{RecordID: "x"}))
	require.NoError(t, m.ClearPendingDeletes())

	n, err := m.PendingDeleteCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Queue is usable again after clearing.
	require.NoError(t, m.AppendPendingDelete(models.PendingDelete{RecordID: "y"}))
	pds, err := m.ListPendingDeletes()
	require.NoError(t, err)
	require.Len(t, pds, 1)
	assert.Equal(t, "y", pds[0].RecordID)
}

func TestMeta_CursorCheckpoint(t *testing.T) {
	m := testMeta(t)

	c, err := m.ActiveCursor()
	require.NoError(t, err)
	assert.Nil(t, c, "fresh metastore has no active run")

	cursor := models.BackfillCursor{
		RunID:          "run-1",
		SnapshotToken:  "snap-1",
		Position:       200,
		DocumentsSeen:  200,
		DocumentsTotal: 1000,
		Rejected:       3,
		StartedAt:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, m.SaveCursor(cursor))

	got, err := m.ActiveCursor()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cursor, *got)

	require.NoError(t, m.ClearActiveRun())
	got, err = m.ActiveCursor()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAudit_RecordAndQuery(t *testing.T) {
	a, err := OpenAudit(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Record("rec-1", "upsert", "target", OutcomeApplied, ""))
	require.NoError(t, a.Record("rec-2", "delete", "target", OutcomeFenced, "backfill in progress"))
	require.NoError(t, a.Record("rec-1", "insert", "target", OutcomeRejected, "already present"))

	entries, err := a.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Newest first.
	assert.Equal(t, OutcomeRejected, entries[0].Outcome)
	assert.Equal(t, "rec-1", entries[0].RecordID)

	counts, err := a.CountByOutcome()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[OutcomeApplied])
	assert.Equal(t, 1, counts[OutcomeFenced])
	assert.Equal(t, 1, counts[OutcomeRejected])
}
