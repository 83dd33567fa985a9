// Package server implements the operator control surface: a small HTTP
// API to inspect the migration, advance or roll back the phase, and
// watch backfill progress.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kilupskalvis/swivel/internal/core"
	"github.com/kilupskalvis/swivel/internal/store"
)

// Coordinator is the slice of the migration the control surface exposes.
type Coordinator struct {
	Phases *core.Controller
	Fence  *core.DeleteFence
	Meta   *store.Meta
	Audit  *store.AuditLog
}

// phaseResponse is the body of GET /v1/phase and the transition endpoints.
type phaseResponse struct {
	Phase string `json:"phase"`
}

// backfillResponse is the body of GET /v1/backfill.
type backfillResponse struct {
	Active         bool   `json:"active"`
	RunID          string `json:"run_id,omitempty"`
	Position       int    `json:"position"`
	DocumentsSeen  int    `json:"documents_seen"`
	DocumentsTotal int    `json:"documents_total"`
	Rejected       int    `json:"rejected"`
}

// deletesResponse is the body of GET /v1/deletes.
type deletesResponse struct {
	Pending int `json:"pending"`
}

// Handler creates the HTTP handler with all routes and middleware.
func Handler(coord *Coordinator, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /v1/phase", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, phaseResponse{Phase: coord.Phases.Current().String()})
	})

	mux.HandleFunc("POST /v1/phase/advance", func(w http.ResponseWriter, r *http.Request) {
		next, err := coord.Phases.Advance(r.Context())
		if err != nil {
			writeTransitionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, phaseResponse{Phase: next.String()})
	})

	mux.HandleFunc("POST /v1/phase/rollback", func(w http.ResponseWriter, r *http.Request) {
		next, err := coord.Phases.Rollback(r.Context())
		if err != nil {
			writeTransitionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, phaseResponse{Phase: next.String()})
	})

	mux.HandleFunc("GET /v1/backfill", func(w http.ResponseWriter, r *http.Request) {
		cursor, err := coord.Meta.ActiveCursor()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": err.Error()})
			return
		}
		resp := backfillResponse{}
		if cursor != nil {
			resp = backfillResponse{
				Active:         true,
				RunID:          cursor.RunID,
				Position:       cursor.Position,
				DocumentsSeen:  cursor.DocumentsSeen,
				DocumentsTotal: cursor.DocumentsTotal,
				Rejected:       cursor.Rejected,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("GET /v1/deletes", func(w http.ResponseWriter, r *http.Request) {
		n, err := coord.Fence.Pending()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, deletesResponse{Pending: n})
	})

	mux.HandleFunc("GET /v1/audit", func(w http.ResponseWriter, r *http.Request) {
		if coord.Audit == nil {
			writeJSON(w, http.StatusOK, []struct{}{})
			return
		}
		entries, err := coord.Audit.Recent(100)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return loggingMiddleware(logger)(recoveryMiddleware(logger)(mux))
}

// writeTransitionError maps controller errors onto HTTP statuses: an
// illegal or gated transition is the operator's mistake (409), a
// reconciliation mismatch carries its counts.
func writeTransitionError(w http.ResponseWriter, err error) {
	var mismatch *core.ReconciliationMismatch
	if errors.As(err, &mismatch) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":        "reconciliation_mismatch",
			"message":      mismatch.Error(),
			"legacy_count": mismatch.LegacyCount,
			"target_count": mismatch.TargetCount,
		})
		return
	}
	writeJSON(w, http.StatusConflict, map[string]string{
		"error":   "illegal_transition",
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs the control server until ctx is cancelled.
func Serve(ctx context.Context, addr string, coord *Coordinator, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{Addr: addr, Handler: Handler(coord, logger)}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
