// ABOUTME: Huhu provider adapter implementing the single combined-submission try-on workflow over hosted URLs.
// ABOUTME: One JSON call references all three images by URL; a single poll loop awaits the combined result.

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

// huhuRules is the Huhu parameter contract: hosted URLs only, with a quality
// mode knob. Huhu picks garment categories itself, so none is accepted.
var huhuRules = Rules{
	RequireHostedURLs: true,
	Modes:             []string{"standard", "high"},
	MaxSeed:           2147483647,
}

// HuhuAdapter implements Provider for the Huhu try-on API.
type HuhuAdapter struct {
	base   *BaseAdapter
	poller Poller
}

// HuhuOption is a functional option for configuring a HuhuAdapter.
type HuhuOption func(*HuhuAdapter)

// WithHuhuBaseURL sets the base URL for the Huhu API.
// Default is "https://api.huhu.ai".
func WithHuhuBaseURL(url string) HuhuOption {
	return func(a *HuhuAdapter) {
		a.base.BaseURL = url
	}
}

// WithHuhuPoller overrides the polling configuration.
func WithHuhuPoller(p Poller) HuhuOption {
	return func(a *HuhuAdapter) {
		a.poller = p
	}
}

// WithHuhuLimiter sets the client-side request rate limiter.
func WithHuhuLimiter(l *rate.Limiter) HuhuOption {
	return func(a *HuhuAdapter) {
		a.base.Limiter = l
	}
}

// WithHuhuTimeout sets the per-request HTTP timeout.
func WithHuhuTimeout(d time.Duration) HuhuOption {
	return func(a *HuhuAdapter) {
		a.base.HTTPClient = &http.Client{Timeout: d}
	}
}

// NewHuhuAdapter creates a HuhuAdapter with the given API key and options.
func NewHuhuAdapter(apiKey string, opts ...HuhuOption) *HuhuAdapter {
	a := &HuhuAdapter{
		base:   NewBaseAdapter(apiKey, "https://api.huhu.ai", 30*time.Second),
		poller: DefaultPoller(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tag returns the provider tag "huhu".
func (a *HuhuAdapter) Tag() ProviderTag {
	return ProviderHuhu
}

// Validate checks p against the Huhu parameter contract.
func (a *HuhuAdapter) Validate(p Params) error {
	return ValidateParams(p, huhuRules)
}

// Run submits the combined try-on job and awaits its completion.
func (a *HuhuAdapter) Run(ctx context.Context, p Params) (string, error) {
	jobID, err := a.submit(ctx, p)
	if err != nil {
		return "", err
	}
	return a.poller.Await(ctx, ProviderHuhu, jobID, a.checkStatus)
}

// huhuSubmitRequest is the wire format of a Huhu job submission.
type huhuSubmitRequest struct {
	ModelURL  string `json:"model_url"`
	TopURL    string `json:"top_url"`
	BottomURL string `json:"bottom_url"`
	Quality   string `json:"quality,omitempty"`
	Seed      int64  `json:"seed,omitempty"`
}

// huhuJobResponse is the wire format of a submission acknowledgement or status query.
type huhuJobResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status,omitempty"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// submit posts the job and returns the opaque job id.
func (a *HuhuAdapter) submit(ctx context.Context, p Params) (string, error) {
	body := huhuSubmitRequest{
		ModelURL:  p.ModelImage,
		TopURL:    p.TopGarment,
		BottomURL: p.BottomGarment,
		Quality:   p.Mode,
		Seed:      p.Seed,
	}

	resp, err := a.base.DoRequest(ctx, http.MethodPost, "/api/v1/tryon", body, nil)
	if err != nil {
		return "", NewServiceError(ProviderHuhu, FailureSubmission, "submitting job", err)
	}
	data, err := ReadBody(resp)
	if err != nil {
		return "", NewServiceError(ProviderHuhu, FailureSubmission, "reading submission response", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		kind := ClassifyResponse(resp.StatusCode, string(data))
		se := NewServiceError(ProviderHuhu, kind, fmt.Sprintf("submission rejected: status %d", resp.StatusCode), nil)
		se.RetryAfter = retryAfterSeconds(resp)
		return "", se
	}

	var parsed huhuJobResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", NewServiceError(ProviderHuhu, FailureSubmission, "decoding submission response", err)
	}
	if parsed.JobID == "" {
		return "", NewServiceError(ProviderHuhu, FailureSubmission, "submission response missing job id", nil)
	}
	log.Printf("component=tryon.huhu action=submit job_id=%s", parsed.JobID)
	return parsed.JobID, nil
}

// checkStatus performs one status query and maps the Huhu lifecycle
// (pending, processing, completed, failed) to the unified states.
func (a *HuhuAdapter) checkStatus(ctx context.Context, jobID string) (JobStatus, error) {
	resp, err := a.base.DoRequest(ctx, http.MethodGet, "/api/v1/tryon/"+jobID, nil, nil)
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

	var parsed huhuJobResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return JobStatus{}, fmt.Errorf("decoding status response: %w", err)
	}

	switch parsed.Status {
	case "completed":
		var urls []string
		if parsed.ResultURL != "" {
			urls = []string{parsed.ResultURL}
		}
		return JobStatus{State: JobCompleted, Output: urls}, nil
	case "failed":
		return JobStatus{State: JobFailed, Error: parsed.Error}, nil
	case "pending":
		return JobStatus{State: JobQueued}, nil
	default:
		return JobStatus{State: JobProcessing}, nil
	}
}
