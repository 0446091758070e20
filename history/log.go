// ABOUTME: Durable append-only call-history log backed by a JSONL file.
// ABOUTME: Every mutation appends a full call snapshot and fsyncs before returning; replay keeps the latest snapshot per id.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the in-memory and on-disk call history.
const DefaultMaxEntries = 500

// ErrCallNotFound is returned when a call id is unknown to the log.
type ErrCallNotFound struct {
	ID string
}

func (e *ErrCallNotFound) Error() string {
	return fmt.Sprintf("call not found: %s", e.ID)
}

// ErrCallSettled is returned when a terminal transition is attempted on a
// call that already left the pending state.
type ErrCallSettled struct {
	ID     string
	Status CallStatus
}

func (e *ErrCallSettled) Error() string {
	return fmt.Sprintf("call %s already settled as %s", e.ID, e.Status)
}

// CallLog is the durable record of generation attempts. The backing file is
// append-only JSONL where each line is a complete snapshot of one call; the
// latest line for an id wins on replay. A single mutex serializes all
// mutations, which is acceptable at this log's volume.
type CallLog struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	calls      map[string]*Call
	order      []string
	maxEntries int
	index      *CallIndex
}

// OpenCallLog opens (or creates) the call log at path and replays any
// existing entries. Parent directories are created as needed.
func OpenCallLog(path string, maxEntries int) (*CallLog, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dirs: %w", err)
	}

	l := &CallLog{
		path:       path,
		calls:      make(map[string]*Call),
		maxEntries: maxEntries,
	}
	if err := l.replay(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}
	l.file = file
	return l, nil
}

// SetIndex attaches a SQLite query index. The index is a rebuildable cache;
// index write failures are logged and never fail the mutation itself.
func (l *CallLog) SetIndex(idx *CallIndex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index = idx
}

// Close closes the backing file.
func (l *CallLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// replay loads the JSONL file into memory, keeping the newest snapshot for
// each call id. Unparseable lines are skipped so a torn trailing write does
// not brick the log.
func (l *CallLog) replay() error {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open call log for replay: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var c Call
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			log.Printf("component=history.log action=skip_bad_line path=%s err=%v", l.path, err)
			continue
		}
		if _, seen := l.calls[c.ID]; !seen {
			l.order = append(l.order, c.ID)
		}
		snapshot := c
		l.calls[c.ID] = &snapshot
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan call log: %w", err)
	}
	return nil
}

// appendLine persists one snapshot line and fsyncs.
func (l *CallLog) appendLine(c *Call) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal call: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write call line: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("fsync call log: %w", err)
	}
	return nil
}

func (l *CallLog) updateIndex(c *Call) {
	if l.index == nil {
		return
	}
	if err := l.index.UpsertCall(c); err != nil {
		log.Printf("component=history.log action=index_upsert_failed call=%s err=%v", c.ID, err)
	}
}

// LogCall records a new pending call and returns its id. The snapshot is
// durable before the method returns.
func (l *CallLog) LogCall(c Call) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c.ID == "" {
		c.ID = NewCallID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Status = CallPending

	if err := l.appendLine(&c); err != nil {
		return "", err
	}
	l.calls[c.ID] = &c
	l.order = append(l.order, c.ID)
	l.updateIndex(&c)

	if err := l.evictOverflowLocked(); err != nil {
		return "", err
	}
	return c.ID, nil
}

// MarkSuccess transitions a pending call to success with its artifact path
// and duration.
func (l *CallLog) MarkSuccess(id, artifactPath string, durationMS int64) error {
	return l.settle(id, func(c *Call) {
		c.Status = CallSuccess
		c.ResultPath = artifactPath
		c.DurationMS = &durationMS
	})
}

// MarkError transitions a pending call to error with the failure text and
// duration.
func (l *CallLog) MarkError(id, errText string, durationMS int64) error {
	return l.settle(id, func(c *Call) {
		c.Status = CallError
		c.Error = errText
		c.DurationMS = &durationMS
	})
}

func (l *CallLog) settle(id string, apply func(*Call)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.calls[id]
	if !ok {
		return &ErrCallNotFound{ID: id}
	}
	if c.Status != CallPending {
		return &ErrCallSettled{ID: id, Status: c.Status}
	}

	updated := *c
	apply(&updated)
	if err := l.appendLine(&updated); err != nil {
		return err
	}
	*c = updated
	l.updateIndex(c)
	return nil
}

// GetCall returns a copy of the call with the given id.
func (l *CallLog) GetCall(id string) (*Call, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.calls[id]
	if !ok {
		return nil, &ErrCallNotFound{ID: id}
	}
	cp := *c
	return &cp, nil
}

// AllCalls returns every call, newest first.
func (l *CallLog) AllCalls() []Call {
	return l.collect(func(*Call) bool { return true })
}

// CallsForRun returns calls for one run, newest first.
func (l *CallLog) CallsForRun(runID string) []Call {
	return l.collect(func(c *Call) bool { return c.RunID == runID })
}

// CallsForProvider returns calls for one provider, newest first.
func (l *CallLog) CallsForProvider(tag string) []Call {
	return l.collect(func(c *Call) bool { return string(c.Provider) == tag })
}

// Search returns calls matching text as a substring across provider, action,
// status, run id, error text, and parameter fields.
func (l *CallLog) Search(text string) []Call {
	return l.collect(func(c *Call) bool { return c.Matches(text) })
}

// FilterCalls returns calls satisfying every set criterion in f.
func (l *CallLog) FilterCalls(f Filter) []Call {
	return l.collect(func(c *Call) bool { return f.Accepts(c) })
}

func (l *CallLog) collect(keep func(*Call) bool) []Call {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Call, 0, len(l.order))
	for _, id := range l.order {
		c := l.calls[id]
		if keep(c) {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of retained calls.
func (l *CallLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// PruneOlderThan drops settled calls created before the cutoff. Pending
// calls are always retained regardless of age. Returns the number dropped.
func (l *CallLog) PruneOlderThan(cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropLocked(func(c *Call) bool {
		return c.Status != CallPending && c.CreatedAt.Before(cutoff)
	})
}

// Clear drops every settled call, keeping only pending ones. Returns the
// number dropped.
func (l *CallLog) Clear() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropLocked(func(c *Call) bool {
		return c.Status != CallPending
	})
}

// evictOverflowLocked enforces the entry cap by dropping the oldest settled
// calls first. Pending calls are never evicted even when the log is over
// budget.
func (l *CallLog) evictOverflowLocked() error {
	if len(l.order) <= l.maxEntries {
		return nil
	}
	excess := len(l.order) - l.maxEntries
	dropped, err := l.dropLocked(func(c *Call) bool {
		if excess <= 0 || c.Status == CallPending {
			return false
		}
		excess--
		return true
	})
	if err != nil {
		return err
	}
	if dropped > 0 {
		log.Printf("component=history.log action=evict_overflow dropped=%d max=%d", dropped, l.maxEntries)
	}
	return nil
}

// dropLocked removes calls selected by the predicate (evaluated oldest
// first) and compacts the backing file so the removal is durable.
func (l *CallLog) dropLocked(drop func(*Call) bool) (int, error) {
	kept := l.order[:0]
	dropped := 0
	for _, id := range l.order {
		c := l.calls[id]
		if drop(c) {
			delete(l.calls, id)
			if l.index != nil {
				if err := l.index.DeleteCall(id); err != nil {
					log.Printf("component=history.log action=index_delete_failed call=%s err=%v", id, err)
				}
			}
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
	if dropped == 0 {
		return 0, nil
	}
	if err := l.compactLocked(); err != nil {
		return dropped, err
	}
	return dropped, nil
}

// compactLocked rewrites the backing file with one snapshot per retained
// call, using temp-file + fsync + rename so a crash mid-compaction cannot
// lose the log.
func (l *CallLog) compactLocked() error {
	tmpPath := l.path + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create compaction temp: %w", err)
	}

	for _, id := range l.order {
		data, err := json.Marshal(l.calls[id])
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("marshal call during compaction: %w", err)
		}
		if _, err := tmp.Write(append(data, '\n')); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("write compacted line: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsync compaction temp: %w", err)
	}
	_ = tmp.Close()

	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("rename compacted log: %w", err)
	}

	// Reopen the append handle against the new inode.
	_ = l.file.Close()
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen call log after compaction: %w", err)
	}
	l.file = file
	return nil
}
