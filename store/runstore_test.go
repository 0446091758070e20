// ABOUTME: Tests for the filesystem run store: lifecycle transitions, input rules, and concurrent result appends.
// ABOUTME: Uses t.TempDir so every test gets an isolated store root.

package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lookbook-studio/lookbook/tryon"
)

func newTestStore(t *testing.T) *FSRunStore {
	t.Helper()
	s, err := NewFSRunStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	run, err := s.Create("spring lookbook")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunDraft {
		t.Errorf("new run status = %q, want draft", run.Status)
	}

	got, err := s.Get(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "spring lookbook" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.Results == nil || len(got.Results) != 0 {
		t.Errorf("Results = %v, want empty slice", got.Results)
	}
}

func TestGetMissingRun(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	var nf *ErrRunNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("want ErrRunNotFound, got %v", err)
	}
}

func TestSelectInputOnlyWhileDraft(t *testing.T) {
	s := newTestStore(t)
	run, _ := s.Create("r")

	img := InputImage{Kind: InputModel, Path: "/uploads/m.png", Filename: "m.png"}
	if err := s.SelectInput(run.ID, img); err != nil {
		t.Fatalf("select on draft: %v", err)
	}

	if err := s.EnsureLocked(run.ID); err != nil {
		t.Fatal(err)
	}

	err := s.SelectInput(run.ID, InputImage{Kind: InputTop, Path: "/uploads/t.jpg", Filename: "t.jpg"})
	var conflict *ErrRunConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("want ErrRunConflict after lock, got %v", err)
	}
}

func TestEnsureLockedIsIrreversibleAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	run, _ := s.Create("r")

	if err := s.EnsureLocked(run.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(run.ID)
	if got.Status != RunLocked || got.LockedAt == nil {
		t.Fatalf("after lock: status=%q locked_at=%v", got.Status, got.LockedAt)
	}
	first := *got.LockedAt

	// Second call is a no-op, not an error, and does not move the timestamp.
	if err := s.EnsureLocked(run.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(run.ID)
	if !got.LockedAt.Equal(first) {
		t.Error("LockedAt changed on repeated EnsureLocked")
	}
}

func TestCompleteRequiresLocked(t *testing.T) {
	s := newTestStore(t)
	run, _ := s.Create("r")

	var conflict *ErrRunConflict
	if err := s.Complete(run.ID); !errors.As(err, &conflict) {
		t.Fatalf("completing a draft should conflict, got %v", err)
	}

	s.EnsureLocked(run.ID)
	if err := s.Complete(run.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(run.ID)
	if got.Status != RunCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestAppendResultUpdatesLedger(t *testing.T) {
	s := newTestStore(t)
	run, _ := s.Create("r")

	for v := 1; v <= 3; v++ {
		res := Result{
			ID:        fmt.Sprintf("res-%d", v),
			Provider:  tryon.ProviderFASHN,
			Version:   v,
			Path:      fmt.Sprintf("/x/fashn_v%d.png", v),
			Status:    "success",
			CreatedAt: time.Now(),
		}
		if err := s.AppendResult(run.ID, res); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := s.Get(run.ID)
	if len(got.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(got.Results))
	}
	if got.MaxVersion(tryon.ProviderFASHN) != 3 {
		t.Errorf("MaxVersion = %d, want 3", got.MaxVersion(tryon.ProviderFASHN))
	}
	if got.MaxVersion(tryon.ProviderKling) != 0 {
		t.Errorf("MaxVersion for untouched provider = %d, want 0", got.MaxVersion(tryon.ProviderKling))
	}
}

func TestConcurrentAppendsDoNotClobber(t *testing.T) {
	s := newTestStore(t)
	run, _ := s.Create("r")

	providers := []tryon.ProviderTag{tryon.ProviderFASHN, tryon.ProviderKling, tryon.ProviderHuhu}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := Result{
				ID:        fmt.Sprintf("res-%d", i),
				Provider:  providers[i%3],
				Version:   i/3 + 1,
				Status:    "success",
				CreatedAt: time.Now(),
			}
			if err := s.AppendResult(run.ID, res); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.Get(run.ID)
	if len(got.Results) != 30 {
		t.Errorf("results = %d, want all 30 appends preserved", len(got.Results))
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.Create("first")
	time.Sleep(2 * time.Millisecond)
	b, _ := s.Create("second")

	runs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].ID != b.ID || runs[1].ID != a.ID {
		t.Errorf("order = [%s %s], want newest first", runs[0].Name, runs[1].Name)
	}
}
