// ABOUTME: Kling provider adapter implementing the single combined-submission try-on workflow.
// ABOUTME: Uploads model and both garments as raw files in one multipart call, then polls the task to completion.

package tryon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// klingRules accepts local file paths (the service wants raw bytes) or hosted
// URLs, which the adapter fetches before upload. Kling has no mode knob.
var klingRules = Rules{
	RequireHostedURLs: false,
	MaxSeed:           999999999,
}

// KlingAdapter implements Provider for the Kling virtual try-on API. One call
// uploads {model, top, bottom} together as a multipart payload and a single
// poll loop awaits the combined result.
type KlingAdapter struct {
	base   *BaseAdapter
	poller Poller
}

// KlingOption is a functional option for configuring a KlingAdapter.
type KlingOption func(*KlingAdapter)

// WithKlingBaseURL sets the base URL for the Kling API.
// Default is "https://api.klingai.com".
func WithKlingBaseURL(url string) KlingOption {
	return func(a *KlingAdapter) {
		a.base.BaseURL = url
	}
}

// WithKlingPoller overrides the polling configuration.
func WithKlingPoller(p Poller) KlingOption {
	return func(a *KlingAdapter) {
		a.poller = p
	}
}

// WithKlingLimiter sets the client-side request rate limiter.
func WithKlingLimiter(l *rate.Limiter) KlingOption {
	return func(a *KlingAdapter) {
		a.base.Limiter = l
	}
}

// WithKlingTimeout sets the per-request HTTP timeout. Uploads carry image
// bytes, so the default is generous.
func WithKlingTimeout(d time.Duration) KlingOption {
	return func(a *KlingAdapter) {
		a.base.HTTPClient = &http.Client{Timeout: d}
	}
}

// NewKlingAdapter creates a KlingAdapter with the given API key and options.
func NewKlingAdapter(apiKey string, opts ...KlingOption) *KlingAdapter {
	a := &KlingAdapter{
		base:   NewBaseAdapter(apiKey, "https://api.klingai.com", 120*time.Second),
		poller: DefaultPoller(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tag returns the provider tag "kling".
func (a *KlingAdapter) Tag() ProviderTag {
	return ProviderKling
}

// Validate checks p against the Kling parameter contract.
func (a *KlingAdapter) Validate(p Params) error {
	return ValidateParams(p, klingRules)
}

// Run submits the combined try-on task and awaits its completion.
func (a *KlingAdapter) Run(ctx context.Context, p Params) (string, error) {
	taskID, err := a.submit(ctx, p)
	if err != nil {
		return "", err
	}
	return a.poller.Await(ctx, ProviderKling, taskID, a.checkStatus)
}

// klingEnvelope is the common wrapper around every Kling response.
type klingEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// klingTask is the payload of a submission acknowledgement or status query.
type klingTask struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	TaskStatusMsg string `json:"task_status_msg,omitempty"`
	TaskResult    *struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"task_result,omitempty"`
}

// submit uploads the model and garment images in one multipart call.
func (a *KlingAdapter) submit(ctx context.Context, p Params) (string, error) {
	fields := map[string]string{}
	if p.Seed != 0 {
		fields["seed"] = strconv.FormatInt(p.Seed, 10)
	}
	files := []FilePart{
		{Field: "human_image", Ref: p.ModelImage},
		{Field: "top_garment", Ref: p.TopGarment},
		{Field: "bottom_garment", Ref: p.BottomGarment},
	}

	resp, err := a.base.DoMultipart(ctx, "/v1/images/try-on", fields, files)
	if err != nil {
		return "", NewServiceError(ProviderKling, FailureSubmission, "submitting task", err)
	}
	data, err := ReadBody(resp)
	if err != nil {
		return "", NewServiceError(ProviderKling, FailureSubmission, "reading submission response", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := ClassifyResponse(resp.StatusCode, string(data))
		se := NewServiceError(ProviderKling, kind, fmt.Sprintf("submission rejected: status %d", resp.StatusCode), nil)
		se.RetryAfter = retryAfterSeconds(resp)
		return "", se
	}

	task, err := parseKlingTask(data)
	if err != nil {
		return "", NewServiceError(ProviderKling, FailureSubmission, "decoding submission response", err)
	}
	if task.TaskID == "" {
		return "", NewServiceError(ProviderKling, FailureSubmission, "submission response missing task id", nil)
	}
	log.Printf("component=tryon.kling action=submit task_id=%s", task.TaskID)
	return task.TaskID, nil
}

// checkStatus performs one status query and maps the Kling task lifecycle
// (submitted, processing, succeed, failed) to the unified states.
func (a *KlingAdapter) checkStatus(ctx context.Context, taskID string) (JobStatus, error) {
	resp, err := a.base.DoRequest(ctx, http.MethodGet, "/v1/images/try-on/"+taskID, nil, nil)
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

	task, err := parseKlingTask(data)
	if err != nil {
		return JobStatus{}, fmt.Errorf("decoding status response: %w", err)
	}

	switch task.TaskStatus {
	case "succeed":
		var urls []string
		if task.TaskResult != nil {
			for _, img := range task.TaskResult.Images {
				urls = append(urls, img.URL)
			}
		}
		return JobStatus{State: JobCompleted, Output: urls}, nil
	case "failed":
		return JobStatus{State: JobFailed, Error: task.TaskStatusMsg}, nil
	case "submitted":
		return JobStatus{State: JobQueued}, nil
	default:
		return JobStatus{State: JobProcessing}, nil
	}
}

// parseKlingTask unwraps the response envelope and decodes the task payload.
func parseKlingTask(data []byte) (*klingTask, error) {
	var env klingEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("provider code %d: %s", env.Code, env.Message)
	}
	var task klingTask
	if err := json.Unmarshal(env.Data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}
