// ABOUTME: HTTP-level tests for the lookbook server: route behavior, status-code mapping, and auth.

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/lookbook-studio/lookbook/history"
	"github.com/lookbook-studio/lookbook/orchestrator"
	"github.com/lookbook-studio/lookbook/store"
	"github.com/lookbook-studio/lookbook/tryon"
)

type scriptedProvider struct {
	tag         tryon.ProviderTag
	validateErr error
	runErr      error
	outputURL   string
}

func (p *scriptedProvider) Tag() tryon.ProviderTag          { return p.tag }
func (p *scriptedProvider) Validate(params tryon.Params) error { return p.validateErr }
func (p *scriptedProvider) Run(ctx context.Context, params tryon.Params) (string, error) {
	if p.runErr != nil {
		return "", p.runErr
	}
	return p.outputURL, nil
}

type testServer struct {
	srv      *Server
	provider *scriptedProvider
	runs     *store.FSRunStore
	calls    *history.CallLog
}

func newTestServer(t *testing.T, cfg ServerConfig) *testServer {
	t.Helper()

	artifactSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("image-bytes"))
	}))
	t.Cleanup(artifactSrv.Close)

	runs, err := store.NewFSRunStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	artifacts := store.NewArtifactStore(runs)
	artifacts.SetHTTPClient(artifactSrv.Client())

	calls, err := history.OpenCallLog(filepath.Join(t.TempDir(), "calls.jsonl"), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = calls.Close() })

	provider := &scriptedProvider{tag: tryon.ProviderHuhu, outputURL: artifactSrv.URL + "/out.png"}
	orch := orchestrator.New(runs, artifacts, calls,
		map[tryon.ProviderTag]tryon.Provider{provider.tag: provider}, nil)

	return &testServer{
		srv:      NewServer(cfg, runs, orch, calls),
		provider: provider,
		runs:     runs,
		calls:    calls,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createRun(t *testing.T) string {
	t.Helper()
	run, err := ts.runs.Create("test run")
	if err != nil {
		t.Fatal(err)
	}
	for kind, path := range map[store.InputKind]string{
		store.InputModel:  "https://cdn/m.png",
		store.InputTop:    "https://cdn/t.jpg",
		store.InputBottom: "https://cdn/b.jpg",
	} {
		if err := ts.runs.SelectInput(run.ID, store.InputImage{Kind: kind, Path: path, Filename: filepath.Base(path)}); err != nil {
			t.Fatal(err)
		}
	}
	return run.ID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	rec := ts.do(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRunLifecycleRoutes(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	rec := ts.do(t, "POST", "/api/runs", map[string]string{"name": "lookbook shoot"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var created store.Run
	json.NewDecoder(rec.Body).Decode(&created)

	rec = ts.do(t, "POST", "/api/runs/"+created.ID+"/inputs",
		store.InputImage{Kind: store.InputModel, Path: "https://cdn/m.png", Filename: "m.png"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("input status = %d: %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, "GET", "/api/runs/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got store.Run
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Inputs[store.InputModel].Path != "https://cdn/m.png" {
		t.Errorf("inputs = %+v", got.Inputs)
	}

	rec = ts.do(t, "GET", "/api/runs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []runSummary
	json.NewDecoder(rec.Body).Decode(&list)
	if len(list) != 1 || list[0].Name != "lookbook shoot" {
		t.Errorf("list = %+v", list)
	}

	rec = ts.do(t, "GET", "/api/runs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d", rec.Code)
	}
}

func TestGenerateRouteAndArtifactServing(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	runID := ts.createRun(t)

	rec := ts.do(t, "POST", "/api/runs/"+runID+"/generate",
		generateRequest{Provider: tryon.ProviderHuhu})
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate status = %d: %s", rec.Code, rec.Body)
	}
	var result store.Result
	json.NewDecoder(rec.Body).Decode(&result)
	if result.Version != 1 {
		t.Errorf("version = %d", result.Version)
	}

	rec = ts.do(t, "GET", fmt.Sprintf("/api/runs/%s/results/%s", runID, filepath.Base(result.Path)), nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "image-bytes" {
		t.Errorf("artifact serve status=%d body=%q", rec.Code, rec.Body)
	}

	rec = ts.do(t, "GET", "/api/runs/"+runID+"/calls", nil)
	var calls []history.Call
	json.NewDecoder(rec.Body).Decode(&calls)
	if len(calls) != 1 || calls[0].Status != history.CallSuccess {
		t.Errorf("calls = %+v", calls)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	runID := ts.createRun(t)

	ts.provider.validateErr = &tryon.ValidationError{Field: "model_image", Reason: "required"}
	rec := ts.do(t, "POST", "/api/runs/"+runID+"/generate", generateRequest{Provider: tryon.ProviderHuhu})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("validation status = %d", rec.Code)
	}
	var body errorBody
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Field != "model_image" {
		t.Errorf("error body = %+v", body)
	}
	ts.provider.validateErr = nil

	ts.provider.runErr = tryon.NewServiceError(tryon.ProviderHuhu, tryon.FailureRateLimit, "throttled", nil)
	rec = ts.do(t, "POST", "/api/runs/"+runID+"/generate", generateRequest{Provider: tryon.ProviderHuhu})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("rate limit status = %d", rec.Code)
	}

	ts.provider.runErr = tryon.NewServiceError(tryon.ProviderHuhu, tryon.FailureTimeout, "no terminal state", nil)
	rec = ts.do(t, "POST", "/api/runs/"+runID+"/generate", generateRequest{Provider: tryon.ProviderHuhu})
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("timeout status = %d", rec.Code)
	}

	ts.provider.runErr = tryon.NewServiceError(tryon.ProviderHuhu, tryon.FailureJob, "job failed", nil)
	rec = ts.do(t, "POST", "/api/runs/"+runID+"/generate", generateRequest{Provider: tryon.ProviderHuhu})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("provider failure status = %d", rec.Code)
	}
	ts.provider.runErr = nil

	// Version conflicts map to 409.
	if _, err := ts.runs.Get(runID); err != nil {
		t.Fatal(err)
	}
	rec = ts.do(t, "POST", "/api/runs/"+runID+"/regenerate",
		generateRequest{Provider: tryon.ProviderHuhu, PriorVersion: 7})
	if rec.Code != http.StatusConflict {
		t.Errorf("version conflict status = %d: %s", rec.Code, rec.Body)
	}
}

func TestCallMaintenanceRoutes(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	runID := ts.createRun(t)

	ts.do(t, "POST", "/api/runs/"+runID+"/generate", generateRequest{Provider: tryon.ProviderHuhu})

	rec := ts.do(t, "GET", "/api/calls?status=success", nil)
	var calls []history.Call
	json.NewDecoder(rec.Body).Decode(&calls)
	if len(calls) != 1 {
		t.Fatalf("filtered calls = %+v", calls)
	}

	rec = ts.do(t, "POST", "/api/calls/prune", map[string]int{"days": 30})
	if rec.Code != http.StatusOK {
		t.Errorf("prune status = %d", rec.Code)
	}

	rec = ts.do(t, "POST", "/api/calls/clear", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("clear status = %d", rec.Code)
	}
	if ts.calls.Len() != 0 {
		t.Errorf("calls remaining after clear = %d", ts.calls.Len())
	}
}

func TestAuthToken(t *testing.T) {
	ts := newTestServer(t, ServerConfig{AuthToken: "secret"})

	rec := ts.do(t, "GET", "/api/runs", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	auth := httptest.NewRecorder()
	ts.srv.ServeHTTP(auth, req)
	if auth.Code != http.StatusOK {
		t.Errorf("authenticated status = %d", auth.Code)
	}

	// Health stays open for probes.
	if rec := ts.do(t, "GET", "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}
