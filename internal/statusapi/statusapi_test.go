package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleRunByID_ReturnsActiveRun(t *testing.T) {
	s := New(nil)
	s.TrackStart("run-1", "usa-tennessee")
	s.TrackStage("run-1", "clip")

	req := httptest.NewRequest(http.MethodGet, "/runs/run-1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got ActiveRun
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Stage != "clip" || got.RegionID != "usa-tennessee" {
		t.Fatalf("unexpected active run: %+v", got)
	}
}

func TestHandleRunByID_UnknownRunWithoutLedgerIs404(t *testing.T) {
	s := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/runs/nonexistent", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRunByID_MissingIDIsBadRequest(t *testing.T) {
	s := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/runs/", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTrackDone_RemovesFromActiveSet(t *testing.T) {
	s := New(nil)
	s.TrackStart("run-1", "usa-tennessee")
	s.TrackDone("run-1")

	req := httptest.NewRequest(http.MethodGet, "/runs/run-1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected run removed from active set to 404 without a ledger, got %d", rec.Code)
	}
}

func TestHandleListRuns_ReturnsActiveRuns(t *testing.T) {
	s := New(nil)
	s.TrackStart("run-1", "usa-tennessee")
	s.TrackStart("run-2", "usa-oregon")

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Active []ActiveRun `json:"active"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Active) != 2 {
		t.Fatalf("expected 2 active runs, got %d", len(body.Active))
	}
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	s := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleRunByID_RejectsNonGet(t *testing.T) {
	s := New(nil)
	req := httptest.NewRequest(http.MethodPost, "/runs/run-1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
