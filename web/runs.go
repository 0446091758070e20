// ABOUTME: HTTP handlers for run CRUD, input selection, generation, and artifact serving.

package web

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lookbook-studio/lookbook/store"
	"github.com/lookbook-studio/lookbook/tryon"
)

// runSummary is the list-view shape of a run.
type runSummary struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Status    store.RunStatus `json:"status"`
	Results   int             `json:"results"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.summaries.Get(runListCacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	runs, err := s.runs.List()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, runSummary{
			ID:        run.ID,
			Name:      run.Name,
			Status:    run.Status,
			Results:   len(run.Results),
			UpdatedAt: run.UpdatedAt,
		})
	}
	s.summaries.SetDefault(runListCacheKey, out)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRunCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	run, err := s.runs.Create(strings.TrimSpace(req.Name))
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateSummaries()
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleRunGet(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSelectInput(w http.ResponseWriter, r *http.Request) {
	var img store.InputImage
	if err := json.NewDecoder(r.Body).Decode(&img); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	switch img.Kind {
	case store.InputModel, store.InputTop, store.InputBottom:
	default:
		http.Error(w, "type must be model, top, or bottom", http.StatusBadRequest)
		return
	}

	if err := s.runs.SelectInput(chi.URLParam(r, "runID"), img); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateSummaries()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider tryon.ProviderTag `json:"provider"`
		Params   tryon.Params      `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := s.runs.SetProviderSettings(chi.URLParam(r, "runID"), req.Provider, req.Params); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateSummaries()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunComplete(w http.ResponseWriter, r *http.Request) {
	if err := s.runs.Complete(chi.URLParam(r, "runID")); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateSummaries()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunArchive(w http.ResponseWriter, r *http.Request) {
	if err := s.runs.Archive(chi.URLParam(r, "runID")); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateSummaries()
	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	Provider     tryon.ProviderTag `json:"provider"`
	Params       tryon.Params      `json:"params"`
	PriorVersion int               `json:"prior_version,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	result, err := s.orch.Generate(r.Context(), chi.URLParam(r, "runID"), req.Provider, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateSummaries()
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	result, err := s.orch.Regenerate(r.Context(), chi.URLParam(r, "runID"), req.Provider, req.Params, req.PriorVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateSummaries()
	writeJSON(w, http.StatusCreated, result)
}

// handleGenerateAll fans out to every configured provider and reports each
// outcome independently; partial failure is a 200 with per-provider errors.
func (s *Server) handleGenerateAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Settings map[tryon.ProviderTag]tryon.Params `json:"settings"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
	}

	outcomes := s.orch.GenerateAll(r.Context(), chi.URLParam(r, "runID"), req.Settings)
	s.invalidateSummaries()

	type outcomeBody struct {
		Result *store.Result `json:"result,omitempty"`
		Error  string        `json:"error,omitempty"`
	}
	out := make(map[tryon.ProviderTag]outcomeBody, len(outcomes))
	for tag, o := range outcomes {
		body := outcomeBody{Result: o.Result}
		if o.Err != nil {
			body.Error = o.Err.Error()
		}
		out[tag] = body
	}
	writeJSON(w, http.StatusOK, out)
}

// handleResultFile serves a downloaded artifact from the run's results
// directory. The file name is flattened to its base to keep requests inside
// the directory.
func (s *Server) handleResultFile(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.runs.Get(runID); err != nil {
		writeError(w, err)
		return
	}
	name := filepath.Base(chi.URLParam(r, "file"))
	http.ServeFile(w, r, filepath.Join(s.runs.ResultsDir(runID), name))
}
