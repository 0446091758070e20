// ABOUTME: Tests for the bounded polling primitive.
// ABOUTME: Validates terminal-state handling, failure short-circuit, and exact attempt budgets.

package tryon

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedStatus returns a StatusFunc that replays the given sequence,
// repeating the final entry if polled past the end, and counts calls.
func scriptedStatus(sequence []JobStatus, calls *int) StatusFunc {
	return func(ctx context.Context, jobID string) (JobStatus, error) {
		i := *calls
		*calls++
		if i >= len(sequence) {
			i = len(sequence) - 1
		}
		return sequence[i], nil
	}
}

func fastPoller(maxAttempts int) Poller {
	return Poller{
		Interval:      time.Millisecond,
		MaxAttempts:   maxAttempts,
		StatusTimeout: time.Second,
	}
}

func TestAwaitCompleted(t *testing.T) {
	calls := 0
	check := scriptedStatus([]JobStatus{
		{State: JobQueued},
		{State: JobProcessing},
		{State: JobCompleted, Output: []string{"https://x/out.png"}},
	}, &calls)

	out, err := fastPoller(10).Await(context.Background(), ProviderFASHN, "job_123", check)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "https://x/out.png" {
		t.Errorf("output = %q, want https://x/out.png", out)
	}
	if calls != 3 {
		t.Errorf("status queries = %d, want 3", calls)
	}
}

func TestAwaitFailedStopsPolling(t *testing.T) {
	calls := 0
	check := scriptedStatus([]JobStatus{
		{State: JobProcessing},
		{State: JobFailed, Error: "person not detected"},
	}, &calls)

	_, err := fastPoller(10).Await(context.Background(), ProviderFASHN, "job_123", check)
	se := AsService(err)
	if se == nil {
		t.Fatalf("want ServiceError, got %v", err)
	}
	if se.Kind != FailureJob {
		t.Errorf("Kind = %q, want %q", se.Kind, FailureJob)
	}
	if se.Message != "person not detected" {
		t.Errorf("Message = %q, want provider's reason", se.Message)
	}
	if calls != 2 {
		t.Errorf("status queries = %d, want 2 (no polling after a terminal failure)", calls)
	}
}

func TestAwaitExhaustsBudget(t *testing.T) {
	calls := 0
	check := scriptedStatus([]JobStatus{{State: JobProcessing}}, &calls)

	_, err := fastPoller(5).Await(context.Background(), ProviderKling, "task_9", check)
	se := AsService(err)
	if se == nil {
		t.Fatalf("want ServiceError, got %v", err)
	}
	if !se.Timeout() {
		t.Errorf("Kind = %q, want timeout classification", se.Kind)
	}
	if calls != 5 {
		t.Errorf("status queries = %d, want exactly the configured 5", calls)
	}
}

func TestAwaitCompletedWithoutOutput(t *testing.T) {
	calls := 0
	check := scriptedStatus([]JobStatus{{State: JobCompleted}}, &calls)

	_, err := fastPoller(3).Await(context.Background(), ProviderHuhu, "j", check)
	se := AsService(err)
	if se == nil || se.Kind != FailureNoOutput {
		t.Fatalf("want no_output ServiceError, got %v", err)
	}
	if se.Message != "completed but no output" {
		t.Errorf("Message = %q", se.Message)
	}
}

func TestAwaitTransientCheckErrorsConsumeBudget(t *testing.T) {
	calls := 0
	check := func(ctx context.Context, jobID string) (JobStatus, error) {
		calls++
		return JobStatus{}, errors.New("connection reset")
	}

	_, err := fastPoller(3).Await(context.Background(), ProviderFASHN, "j", check)
	se := AsService(err)
	if se == nil || !se.Timeout() {
		t.Fatalf("want timeout ServiceError, got %v", err)
	}
	if calls != 3 {
		t.Errorf("status queries = %d, want 3", calls)
	}
}

func TestAwaitContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	check := func(ctx context.Context, jobID string) (JobStatus, error) {
		cancel()
		return JobStatus{State: JobProcessing}, nil
	}

	p := Poller{Interval: time.Minute, MaxAttempts: 10, StatusTimeout: time.Second}
	_, err := p.Await(ctx, ProviderFASHN, "j", check)
	se := AsService(err)
	if se == nil || !se.Timeout() {
		t.Fatalf("want timeout-classified ServiceError on cancellation, got %v", err)
	}
}
