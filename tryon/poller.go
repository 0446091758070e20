// ABOUTME: Generic bounded polling primitive that converts an asynchronous provider job into a synchronous result.
// ABOUTME: Fixed-interval status checks with a per-check timeout, an overall attempt budget, and terminal-state handling.

package tryon

import (
	"context"
	"fmt"
	"log"
	"time"
)

// StatusFunc performs one status query for the given job ID.
type StatusFunc func(ctx context.Context, jobID string) (JobStatus, error)

// Poller repeatedly queries a job's status until it observes a terminal state
// or exhausts its attempt budget. Each status query carries its own short
// timeout (StatusTimeout), distinct from the overall polling budget, so a
// single slow check cannot block indefinitely.
type Poller struct {
	Interval      time.Duration // sleep between status checks
	MaxAttempts   int           // total number of status checks before giving up
	StatusTimeout time.Duration // per-check timeout
}

// DefaultPoller returns the polling configuration used when a provider's
// config does not override it: 2s interval, 60 attempts, 10s per check.
func DefaultPoller() Poller {
	return Poller{
		Interval:      2 * time.Second,
		MaxAttempts:   60,
		StatusTimeout: 10 * time.Second,
	}
}

// Await polls the job until completion. On JobCompleted it returns the first
// output reference from the status payload; a completed job with no output is
// a failure. On JobFailed it returns immediately with the provider's reported
// reason. On budget exhaustion it returns a timeout-classified ServiceError.
func (p Poller) Await(ctx context.Context, provider ProviderTag, jobID string, check StatusFunc) (string, error) {
	if p.MaxAttempts <= 0 {
		return "", NewServiceError(provider, FailureTimeout, "polling budget is zero", nil)
	}

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Interval):
			case <-ctx.Done():
				return "", NewServiceError(provider, FailureTimeout, "polling cancelled", ctx.Err())
			}
		}

		status, err := p.checkOnce(ctx, jobID, check)
		if err != nil {
			// A single failed status query is not terminal; the job may still
			// be running. Keep polling within the budget.
			log.Printf("component=tryon.poller action=status_check_failed provider=%s job_id=%s attempt=%d err=%v",
				provider, jobID, attempt, err)
			continue
		}

		switch status.State {
		case JobCompleted:
			if len(status.Output) == 0 || status.Output[0] == "" {
				return "", NewServiceError(provider, FailureNoOutput, "completed but no output", nil)
			}
			return status.Output[0], nil
		case JobFailed:
			reason := status.Error
			if reason == "" {
				reason = "job failed"
			}
			return "", NewServiceError(provider, FailureJob, reason, nil)
		}
	}

	return "", NewServiceError(provider, FailureTimeout,
		fmt.Sprintf("no terminal state after %d attempts", p.MaxAttempts), nil)
}

// checkOnce runs a single status query under the per-check timeout.
func (p Poller) checkOnce(ctx context.Context, jobID string, check StatusFunc) (JobStatus, error) {
	if p.StatusTimeout <= 0 {
		return check(ctx, jobID)
	}
	checkCtx, cancel := context.WithTimeout(ctx, p.StatusTimeout)
	defer cancel()
	return check(checkCtx, jobID)
}
