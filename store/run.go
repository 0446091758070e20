// ABOUTME: Defines the Run data model: statuses, input images, versioned results, and the per-provider version ledger.
// ABOUTME: Run IDs are time-derived ULIDs so directory listings sort chronologically.

package store

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lookbook-studio/lookbook/tryon"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunDraft     RunStatus = "draft"
	RunLocked    RunStatus = "locked"
	RunCompleted RunStatus = "completed"
	RunArchived  RunStatus = "archived"
)

// InputKind identifies one of the three input image slots.
type InputKind string

const (
	InputModel  InputKind = "model"
	InputTop    InputKind = "top"
	InputBottom InputKind = "bottom"
)

// InputImage is one selected input image.
type InputImage struct {
	Kind     InputKind `json:"type"`
	Path     string    `json:"path"`
	Filename string    `json:"filename"`
}

// Result is an immutable record of one successfully generated artifact for a
// (run, provider) pair. Results are never mutated after creation; a failed
// attempt produces no Result, only a Call record.
type Result struct {
	ID         string           `json:"id"`
	Provider   tryon.ProviderTag `json:"provider"`
	Version    int              `json:"version"`
	Path       string           `json:"path"`
	Params     tryon.Params     `json:"params"`
	Status     string           `json:"status"` // always "success"; failed attempts never produce a Result
	CreatedAt  time.Time        `json:"created_at"`
	DurationMS int64            `json:"duration_ms,omitempty"`
}

// VersionEntry is one line of the per-provider version ledger.
type VersionEntry struct {
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	Params    tryon.Params `json:"params"`
}

// Run groups one set of input images and all generated results across
// providers. Inputs may only change while the run is a draft; results may be
// attached in any status.
type Run struct {
	ID        string                              `json:"id"`
	Name      string                              `json:"name"`
	Status    RunStatus                           `json:"status"`
	Inputs    map[InputKind]InputImage            `json:"inputs"`
	Settings  map[tryon.ProviderTag]tryon.Params  `json:"settings,omitempty"`
	LockedAt  *time.Time                          `json:"locked_at,omitempty"`
	Results   []Result                            `json:"results"`
	Versions  map[tryon.ProviderTag][]VersionEntry `json:"versions,omitempty"`
	UpdatedAt time.Time                           `json:"updated_at"`
}

// MaxVersion returns the highest recorded version for the provider, or 0.
func (r *Run) MaxVersion(tag tryon.ProviderTag) int {
	max := 0
	for _, e := range r.Versions[tag] {
		if e.Version > max {
			max = e.Version
		}
	}
	return max
}

// InputRef returns the path of the selected input for the given slot, or "".
func (r *Run) InputRef(kind InputKind) string {
	img, ok := r.Inputs[kind]
	if !ok {
		return ""
	}
	return img.Path
}

// NewRunID generates a time-derived, lexically sortable run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
