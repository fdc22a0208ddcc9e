package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AngelCh415/workdays-etl/internal/checkpoint"
	"github.com/AngelCh415/workdays-etl/internal/ingest"
	"github.com/AngelCh415/workdays-etl/internal/store"
	"github.com/AngelCh415/workdays-etl/internal/utils"
)

// Snapshots lists the phase snapshots kept for a run.
type Snapshots interface {
	Runs(ctx context.Context, runID string) ([]checkpoint.Summary, error)
}

// NewRouter exposes run control and status. snaps and metrics may be nil.
func NewRouter(log *slog.Logger, runner *ingest.Runner, runs *store.MemoryStore, snaps Snapshots, metrics http.Handler) http.Handler {
	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(log))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ready")) })

	if metrics != nil {
		mux.Method(http.MethodGet, "/metrics", metrics)
	}

	mux.Post("/runs", func(w http.ResponseWriter, r *http.Request) {
		opts := ingest.RunOptions{DryRun: r.URL.Query().Get("dry_run") == "1"}
		id, err := runner.Trigger(opts)
		if errors.Is(err, ingest.ErrRunning) {
			running, _ := runs.Running()
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "run_id": running})
			return
		}
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"run_id": id})
	})

	mux.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, runs.All())
	})

	mux.Get("/runs/last", func(w http.ResponseWriter, r *http.Request) {
		rep, ok := runs.Last()
		if !ok {
			http.Error(w, "no runs yet", 404)
			return
		}
		writeJSON(w, 200, rep)
	})

	mux.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rep, ok := runs.Get(id)
		if !ok {
			http.Error(w, "run not found", 404)
			return
		}
		out := map[string]any{"report": rep}
		if snaps != nil {
			s, err := snaps.Runs(r.Context(), id)
			if err != nil {
				http.Error(w, err.Error(), 500)
				return
			}
			out["snapshots"] = s
		}
		writeJSON(w, 200, out)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.Encode(v)
}
