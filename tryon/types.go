// ABOUTME: Core types for the try-on provider SDK: provider tags, generation parameters, and job status.
// ABOUTME: Providers translate these unified types to and from their own wire formats.

package tryon

import "context"

// ProviderTag identifies one of the external try-on services.
type ProviderTag string

const (
	ProviderFASHN ProviderTag = "fashn"
	ProviderKling ProviderTag = "kling"
	ProviderHuhu  ProviderTag = "huhu"
)

// AllProviders lists every known provider tag in a stable order.
func AllProviders() []ProviderTag {
	return []ProviderTag{ProviderFASHN, ProviderKling, ProviderHuhu}
}

// Params holds the caller-supplied parameters for one generation attempt.
// Image references are either hosted http(s) URLs or local file paths,
// depending on what the target provider accepts (see each provider's rules).
type Params struct {
	ModelImage    string `json:"model_image"`
	TopGarment    string `json:"top_garment"`
	BottomGarment string `json:"bottom_garment"`
	Mode          string `json:"mode,omitempty"`
	Category      string `json:"category,omitempty"`
	Seed          int64  `json:"seed,omitempty"`
	NumSamples    int    `json:"num_samples,omitempty"`
}

// JobState is the unified lifecycle state of a remote provider job.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobStatus is one observation of a remote job, as returned by a status check.
type JobStatus struct {
	State  JobState
	Output []string // result URLs, populated on completion
	Error  string   // provider-reported reason, populated on failure
}

// Provider executes one complete try-on workflow against an external service.
// Run blocks until the workflow reaches a terminal outcome and returns the
// remote URL of the final composite image. The returned error is either a
// *ValidationError (from Validate, no network I/O performed) or a
// *ServiceError carrying the provider tag.
type Provider interface {
	Tag() ProviderTag
	Validate(p Params) error
	Run(ctx context.Context, p Params) (outputURL string, err error)
}
