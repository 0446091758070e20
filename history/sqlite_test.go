// ABOUTME: Tests for the SQLite call index: upsert, search, and rebuild from the log.

package history

import (
	"path/filepath"
	"testing"

	"github.com/lookbook-studio/lookbook/tryon"
)

func newTestIndex(t *testing.T) *CallIndex {
	t.Helper()
	idx, err := OpenCallIndex(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndexTracksLogMutations(t *testing.T) {
	l, _ := newTestLog(t, 0)
	idx := newTestIndex(t)
	l.SetIndex(idx)

	id, err := l.LogCall(pendingCall(tryon.ProviderFASHN, "run-1"))
	if err != nil {
		t.Fatal(err)
	}
	rows, err := idx.CallsForRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Status != "pending" {
		t.Fatalf("rows = %v", rows)
	}

	l.MarkSuccess(id, "/art.png", 1500)
	rows, _ = idx.CallsForRun("run-1")
	if rows[0].Status != "success" || rows[0].ResultPath != "/art.png" {
		t.Errorf("row after success = %+v", rows[0])
	}
	if rows[0].DurationMS == nil || *rows[0].DurationMS != 1500 {
		t.Errorf("duration = %v", rows[0].DurationMS)
	}
}

func TestIndexSearch(t *testing.T) {
	l, _ := newTestLog(t, 0)
	idx := newTestIndex(t)
	l.SetIndex(idx)

	a, _ := l.LogCall(pendingCall(tryon.ProviderKling, "run-x"))
	l.MarkError(a, "upstream timeout waiting for job", 9000)
	b, _ := l.LogCall(pendingCall(tryon.ProviderHuhu, "run-y"))
	l.MarkSuccess(b, "/p", 100)

	rows, err := idx.SearchCalls("timeout")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != a {
		t.Errorf("SearchCalls(timeout) = %v", rows)
	}

	rows, _ = idx.SearchCalls("huhu")
	if len(rows) != 1 || rows[0].ID != b {
		t.Errorf("SearchCalls(huhu) = %v", rows)
	}
}

func TestRebuildFromLog(t *testing.T) {
	l, _ := newTestLog(t, 0)
	id, _ := l.LogCall(pendingCall(tryon.ProviderFASHN, "run-z"))
	l.MarkSuccess(id, "/p", 50)

	// Index attached after the fact starts empty and catches up via rebuild.
	idx := newTestIndex(t)
	if err := idx.RebuildFromLog(l); err != nil {
		t.Fatal(err)
	}
	rows, err := idx.CallsForRun("run-z")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Status != "success" {
		t.Errorf("rows = %v", rows)
	}
}
