// ABOUTME: Error taxonomy for the try-on provider SDK.
// ABOUTME: Defines ValidationError for caller mistakes and ServiceError (with failure kinds) for provider-side failures.

package tryon

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a malformed or missing caller-supplied parameter.
// It is raised before any network I/O and before any Call record exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Field, e.Reason)
}

// FailureKind classifies the stage or cause of a provider-side failure.
type FailureKind string

const (
	// FailureSubmission means the provider rejected or failed the job submission.
	FailureSubmission FailureKind = "submission"
	// FailureJob means the provider reported the job itself as failed.
	FailureJob FailureKind = "job_failed"
	// FailureTimeout means the polling budget was exhausted without a terminal state.
	FailureTimeout FailureKind = "timeout"
	// FailureNoOutput means the job completed but the status payload carried no result reference.
	FailureNoOutput FailureKind = "no_output"
	// FailureDownload means fetching the result artifact failed.
	FailureDownload FailureKind = "download"
	// FailureStorage means persisting the artifact or run metadata failed locally.
	FailureStorage FailureKind = "storage"
	// FailureRateLimit means the provider throttled the request (HTTP 429).
	FailureRateLimit FailureKind = "rate_limit"
	// FailureCapacity means the provider reported a capacity/memory problem.
	FailureCapacity FailureKind = "capacity"
)

// ServiceError represents any provider-side failure: a rejected submission,
// a failed job, a polling timeout, a malformed completion payload, or a
// download/storage failure. It always carries the provider tag.
type ServiceError struct {
	Provider   ProviderTag
	Kind       FailureKind
	Message    string
	Cause      error
	RetryAfter int // seconds, only meaningful for FailureRateLimit
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the failure was a polling-budget exhaustion.
func (e *ServiceError) Timeout() bool {
	return e.Kind == FailureTimeout
}

// UserMessage returns a human-readable message for the operator, derived from
// the failure kind. Classification of provider responses into kinds is
// best-effort (see ClassifyResponse).
func (e *ServiceError) UserMessage() string {
	switch e.Kind {
	case FailureRateLimit:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfter)
		}
		return "rate limit exceeded, retry shortly"
	case FailureCapacity:
		return "insufficient memory, reduce resolution"
	case FailureTimeout:
		return fmt.Sprintf("generation timed out waiting for %s", e.Provider)
	case FailureNoOutput:
		return fmt.Sprintf("%s reported success but returned no image", e.Provider)
	case FailureDownload:
		return "result image could not be downloaded"
	case FailureStorage:
		return "result image could not be saved"
	default:
		return fmt.Sprintf("%s generation failed: %s", e.Provider, e.Message)
	}
}

// NewServiceError constructs a ServiceError for the given provider and kind.
func NewServiceError(provider ProviderTag, kind FailureKind, message string, cause error) *ServiceError {
	return &ServiceError{Provider: provider, Kind: kind, Message: message, Cause: cause}
}

// ClassifyResponse maps an HTTP status code and response body from a provider
// into a failure kind. Substring matching on the body is best-effort: unknown
// responses fall back to FailureSubmission.
func ClassifyResponse(statusCode int, body string) FailureKind {
	switch {
	case statusCode == 429:
		return FailureRateLimit
	case statusCode == 507:
		return FailureCapacity
	}
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return FailureRateLimit
	case strings.Contains(lower, "out of memory") || strings.Contains(lower, "insufficient memory") || strings.Contains(lower, "oom"):
		return FailureCapacity
	default:
		return FailureSubmission
	}
}

// AsValidation extracts a *ValidationError from an error chain, or nil.
func AsValidation(err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}

// AsService extracts a *ServiceError from an error chain, or nil.
func AsService(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}
