// ABOUTME: FASHN provider adapter implementing the sequential two-step try-on workflow.
// ABOUTME: Dresses the top garment first, then feeds that intermediate image into a second call for the bottom garment.

package tryon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// fashnRules is the FASHN parameter contract: hosted URLs only, with the
// mode/category/seed/num_samples options the service documents.
var fashnRules = Rules{
	RequireHostedURLs: true,
	Modes:             []string{"performance", "balanced", "quality"},
	Categories:        []string{"auto", "tops", "bottoms", "one-pieces"},
	MaxSeed:           4294967295,
	MaxSamples:        4,
}

// FASHNAdapter implements Provider for the FASHN try-on API. FASHN composes
// one garment per call, so a full outfit requires two sequential dependent
// submissions: the step-1 result becomes the step-2 model image. The two-step
// operation is atomic from the caller's perspective; an intermediate image is
// never surfaced as a usable result.
type FASHNAdapter struct {
	base   *BaseAdapter
	poller Poller
}

// FASHNOption is a functional option for configuring a FASHNAdapter.
type FASHNOption func(*FASHNAdapter)

// WithFASHNBaseURL sets the base URL for the FASHN API.
// Default is "https://api.fashn.ai".
func WithFASHNBaseURL(url string) FASHNOption {
	return func(a *FASHNAdapter) {
		a.base.BaseURL = url
	}
}

// WithFASHNPoller overrides the polling configuration.
func WithFASHNPoller(p Poller) FASHNOption {
	return func(a *FASHNAdapter) {
		a.poller = p
	}
}

// WithFASHNLimiter sets the client-side request rate limiter.
func WithFASHNLimiter(l *rate.Limiter) FASHNOption {
	return func(a *FASHNAdapter) {
		a.base.Limiter = l
	}
}

// WithFASHNTimeout sets the per-request HTTP timeout.
func WithFASHNTimeout(d time.Duration) FASHNOption {
	return func(a *FASHNAdapter) {
		a.base.HTTPClient = &http.Client{Timeout: d}
	}
}

// NewFASHNAdapter creates a FASHNAdapter with the given API key and options.
func NewFASHNAdapter(apiKey string, opts ...FASHNOption) *FASHNAdapter {
	a := &FASHNAdapter{
		base:   NewBaseAdapter(apiKey, "https://api.fashn.ai", 30*time.Second),
		poller: DefaultPoller(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tag returns the provider tag "fashn".
func (a *FASHNAdapter) Tag() ProviderTag {
	return ProviderFASHN
}

// Validate checks p against the FASHN parameter contract.
func (a *FASHNAdapter) Validate(p Params) error {
	return ValidateParams(p, fashnRules)
}

// Run executes the two-step workflow. Step 1 dresses the top garment onto the
// model image; step 2 dresses the bottom garment onto step 1's output. If
// step 1 fails, step 2 is never attempted.
func (a *FASHNAdapter) Run(ctx context.Context, p Params) (string, error) {
	midURL, err := a.runStep(ctx, p.ModelImage, p.TopGarment, "tops", p)
	if err != nil {
		return "", err
	}
	log.Printf("component=tryon.fashn action=step1_complete output=%s", midURL)

	finalURL, err := a.runStep(ctx, midURL, p.BottomGarment, "bottoms", p)
	if err != nil {
		return "", err
	}
	log.Printf("component=tryon.fashn action=step2_complete output=%s", finalURL)

	return finalURL, nil
}

// runStep submits one model+garment pair and awaits its completion.
func (a *FASHNAdapter) runStep(ctx context.Context, modelImage, garment, category string, p Params) (string, error) {
	jobID, err := a.submit(ctx, modelImage, garment, category, p)
	if err != nil {
		return "", err
	}
	return a.poller.Await(ctx, ProviderFASHN, jobID, a.checkStatus)
}

// fashnRunRequest is the wire format of a FASHN job submission.
type fashnRunRequest struct {
	ModelImage   string `json:"model_image"`
	GarmentImage string `json:"garment_image"`
	Category     string `json:"category"`
	Mode         string `json:"mode,omitempty"`
	Seed         int64  `json:"seed,omitempty"`
	NumSamples   int    `json:"num_samples,omitempty"`
}

// fashnRunResponse is the wire format of a submission acknowledgement.
type fashnRunResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// fashnStatusResponse is the wire format of a status query result.
type fashnStatusResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// submit posts a job and returns the opaque job id.
func (a *FASHNAdapter) submit(ctx context.Context, modelImage, garment, category string, p Params) (string, error) {
	body := fashnRunRequest{
		ModelImage:   modelImage,
		GarmentImage: garment,
		Category:     category,
		Mode:         p.Mode,
		Seed:         p.Seed,
		NumSamples:   p.NumSamples,
	}

	resp, err := a.base.DoRequest(ctx, http.MethodPost, "/v1/run", body, nil)
	if err != nil {
		return "", NewServiceError(ProviderFASHN, FailureSubmission, "submitting job", err)
	}
	data, err := ReadBody(resp)
	if err != nil {
		return "", NewServiceError(ProviderFASHN, FailureSubmission, "reading submission response", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := ClassifyResponse(resp.StatusCode, string(data))
		se := NewServiceError(ProviderFASHN, kind, fmt.Sprintf("submission rejected: status %d", resp.StatusCode), nil)
		se.RetryAfter = retryAfterSeconds(resp)
		return "", se
	}

	var parsed fashnRunResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", NewServiceError(ProviderFASHN, FailureSubmission, "decoding submission response", err)
	}
	if parsed.ID == "" {
		return "", NewServiceError(ProviderFASHN, FailureSubmission, "submission response missing job id", nil)
	}
	log.Printf("component=tryon.fashn action=submit job_id=%s category=%s", parsed.ID, category)
	return parsed.ID, nil
}

// checkStatus performs one status query and maps the FASHN lifecycle
// (starting, in_queue, processing, completed, failed) to the unified states.
func (a *FASHNAdapter) checkStatus(ctx context.Context, jobID string) (JobStatus, error) {
	resp, err := a.base.DoRequest(ctx, http.MethodGet, "/v1/status/"+jobID, nil, nil)
	if err != nil {
		return JobStatus{}, err
	}
	data, err := ReadBody(resp)
	if err != nil {
		return JobStatus{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return JobStatus{}, fmt.Errorf("status query returned %d", resp.StatusCode)
	}

	var parsed fashnStatusResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return JobStatus{}, fmt.Errorf("decoding status response: %w", err)
	}

	switch parsed.Status {
	case "completed":
		return JobStatus{State: JobCompleted, Output: parsed.Output}, nil
	case "failed":
		return JobStatus{State: JobFailed, Error: parsed.Error}, nil
	case "starting", "in_queue":
		return JobStatus{State: JobQueued}, nil
	default:
		return JobStatus{State: JobProcessing}, nil
	}
}

// retryAfterSeconds parses a Retry-After header if present, else 0.
func retryAfterSeconds(resp *http.Response) int {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0
	}
	return n
}
