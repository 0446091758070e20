// ABOUTME: HTTP handlers for browsing and maintaining the call-history log.

package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lookbook-studio/lookbook/history"
	"github.com/lookbook-studio/lookbook/tryon"
)

// handleCallList returns the call history, optionally narrowed by ?q=
// substring search or by provider/status/action/run filters.
func (s *Server) handleCallList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if text := q.Get("q"); text != "" {
		writeJSON(w, http.StatusOK, s.calls.Search(text))
		return
	}

	filter := history.Filter{
		Provider: tryon.ProviderTag(q.Get("provider")),
		Action:   history.Action(q.Get("action")),
		Status:   history.CallStatus(q.Get("status")),
		RunID:    q.Get("run"),
	}
	writeJSON(w, http.StatusOK, s.calls.FilterCalls(filter))
}

func (s *Server) handleCallGet(w http.ResponseWriter, r *http.Request) {
	call, err := s.calls.GetCall(chi.URLParam(r, "callID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) handleRunCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.calls.CallsForRun(chi.URLParam(r, "runID")))
}

func (s *Server) handleCallsClear(w http.ResponseWriter, r *http.Request) {
	dropped, err := s.calls.Clear()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
}

func (s *Server) handleCallsPrune(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Days < 1 {
		http.Error(w, "days must be a positive integer", http.StatusBadRequest)
		return
	}

	cutoff := time.Now().Add(-time.Duration(req.Days) * 24 * time.Hour)
	dropped, err := s.calls.PruneOlderThan(cutoff)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
}
