package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/swivel/internal/core"
	"github.com/kilupskalvis/swivel/internal/index"
	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/kilupskalvis/swivel/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCoordinator(t *testing.T) (*Coordinator, *store.Meta) {
	t.Helper()
	meta, err := store.OpenMeta(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	phases, err := core.NewController(meta, logger)
	require.NoError(t, err)
	fence := core.NewDeleteFence(meta, index.NewMemory(), nil, logger)
	phases.SetReleaser(fence)

	return &Coordinator{Phases: phases, Fence: fence, Meta: meta}, meta
}

func testServer(t *testing.T) (*httptest.Server, *Coordinator, *store.Meta) {
	t.Helper()
	coord, meta := testCoordinator(t)
	srv := httptest.NewServer(Handler(coord, slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(srv.Close)
	return srv, coord, meta
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHandler_Health(t *testing.T) {
	srv, _, _ := testServer(t)
	var body map[string]string
	status := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestHandler_PhaseLifecycle(t *testing.T) {
	srv, _, _ := testServer(t)

	var phase phaseResponse
	status := getJSON(t, srv.URL+"/v1/phase", &phase)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "preparing", phase.Phase)

	status = postJSON(t, srv.URL+"/v1/phase/advance", &phase)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "dual-write", phase.Phase)
}

func TestHandler_AdvanceGateReturnsConflict(t *testing.T) {
	srv, coord, _ := testServer(t)
	ctx := t.Context()

	_, err := coord.Phases.Advance(ctx) // -> dual-write
	require.NoError(t, err)
	_, err = coord.Phases.Advance(ctx) // -> backfilling
	require.NoError(t, err)

	// Backfilling cannot be left without a completed backfill.
	var body map[string]any
	status := postJSON(t, srv.URL+"/v1/phase/advance", &body)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "illegal_transition", body["error"])
}

func TestHandler_ReconciliationMismatchSurfaced(t *testing.T) {
	srv, coord, _ := testServer(t)
	ctx := t.Context()

	_, err := coord.Phases.Advance(ctx)
	require.NoError(t, err)
	_, err = coord.Phases.Advance(ctx)
	require.NoError(t, err)
	coord.Phases.RecordBackfillResult(models.BackfillResult{
		Completed: true, Reconciled: false, LegacyCount: 10, TargetCount: 7,
	})

	var body map[string]any
	status := postJSON(t, srv.URL+"/v1/phase/advance", &body)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "reconciliation_mismatch", body["error"])
	assert.Equal(t, float64(10), body["legacy_count"])
	assert.Equal(t, float64(7), body["target_count"])
}

func TestHandler_RollbackRejectedOutsideCutoverPending(t *testing.T) {
	srv, _, _ := testServer(t)

	var body map[string]any
	status := postJSON(t, srv.URL+"/v1/phase/rollback", &body)
	assert.Equal(t, http.StatusConflict, status)
}

func TestHandler_BackfillProgress(t *testing.T) {
	srv, _, meta := testServer(t)

	var resp backfillResponse
	status := getJSON(t, srv.URL+"/v1/backfill", &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, resp.Active)

	require.NoError(t, meta.SaveCursor(models.BackfillCursor{
		RunID: "run-1", Position: 40, DocumentsSeen: 40, DocumentsTotal: 200, Rejected: 2,
	}))

	status = getJSON(t, srv.URL+"/v1/backfill", &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Active)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 40, resp.DocumentsSeen)
	assert.Equal(t, 200, resp.DocumentsTotal)
	assert.Equal(t, 2, resp.Rejected)
}

func TestHandler_PendingDeletes(t *testing.T) {
	srv, coord, _ := testServer(t)
	ctx := context.Background()
	require.NoError(t, coord.Fence.Fence(ctx, "rec-1", "1"))
	require.NoError(t, coord.Fence.Fence(ctx, "rec-2", "2"))

	var resp deletesResponse
	status := getJSON(t, srv.URL+"/v1/deletes", &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, resp.Pending)
}
