// Package statusapi exposes a read-only HTTP view over in-flight and
// recently completed pipeline runs. It never gates or alters pipeline
// behavior; it only reports it.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mumuon/demregion/internal/runledger"
)

// ActiveRun is the in-process progress record for a run still executing,
// kept independently of the Run Ledger so status is visible even when the
// ledger is unavailable.
type ActiveRun struct {
	RunID     string    `json:"run_id"`
	RegionID  string    `json:"region_id"`
	Stage     string    `json:"stage"`
	StartedAt time.Time `json:"started_at"`
}

// Server serves GET /runs and GET /runs/{id} over the Run Ledger plus
// in-process progress tracking.
type Server struct {
	ledger *runledger.Ledger

	mu     sync.RWMutex
	active map[string]*ActiveRun
}

// New creates a Server. ledger may be nil if the Run Ledger is
// unavailable; historical run lookups then report unavailability while
// in-process active runs still work.
func New(ledger *runledger.Ledger) *Server {
	return &Server{ledger: ledger, active: make(map[string]*ActiveRun)}
}

// TrackStart registers a run as actively executing.
func (s *Server) TrackStart(runID, regionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[runID] = &ActiveRun{RunID: runID, RegionID: regionID, Stage: "starting", StartedAt: time.Now()}
}

// TrackStage updates the stage of an active run.
func (s *Server) TrackStage(runID, stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.active[runID]; ok {
		r.Stage = stage
	}
}

// TrackDone removes a run from the active set; its history remains
// queryable through the Run Ledger.
func (s *Server) TrackDone(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, runID)
}

// Handler builds the server's http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/runs/", s.handleRunByID)
	mux.HandleFunc("/runs", s.handleListRuns)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ListenAndServe starts the server on addr, blocking until it stops.
func (s *Server) ListenAndServe(addr string) error {
	slog.Info("starting status API server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	activeRuns := make([]*ActiveRun, 0, len(s.active))
	for _, a := range s.active {
		activeRuns = append(activeRuns, a)
	}
	s.mu.RUnlock()

	var recent []*runledger.Run
	if s.ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		var err error
		recent, err = s.ledger.ListRecent(ctx, 50)
		if err != nil {
			slog.Warn("status API failed to list run ledger history", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active": activeRuns,
		"recent": recent,
	})
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := r.URL.Path[len("/runs/"):]
	if runID == "" {
		http.Error(w, "run id is required", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	active, isActive := s.active[runID]
	s.mu.RUnlock()
	if isActive {
		writeJSON(w, http.StatusOK, active)
		return
	}

	if s.ledger == nil {
		http.Error(w, "run not found and run ledger unavailable", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	run, err := s.ledger.Get(ctx, runID)
	if err != nil {
		http.Error(w, fmt.Sprintf("run not found: %v", err), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().Format(time.RFC3339)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("status API failed to encode response", "error", err)
	}
}
