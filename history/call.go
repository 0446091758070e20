// ABOUTME: Call record types for the generation audit trail.
// ABOUTME: A Call tracks one generate/regenerate attempt from pending to its terminal outcome.
package history

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lookbook-studio/lookbook/tryon"
)

// Action distinguishes a first generation from a versioned redo.
type Action string

const (
	ActionGenerate   Action = "generate"
	ActionRegenerate Action = "regenerate"
)

// CallStatus is the lifecycle state of a call record.
type CallStatus string

const (
	CallPending CallStatus = "pending"
	CallSuccess CallStatus = "success"
	CallError   CallStatus = "error"
)

// Call is one generation attempt against a provider. It is created pending
// the moment an attempt begins and transitions exactly once to success or
// error. Calls are decoupled from run metadata so an attempt stays auditable
// even if the run's own write later fails.
type Call struct {
	ID         string            `json:"id"`
	Provider   tryon.ProviderTag `json:"provider"`
	Action     Action            `json:"action"`
	RunID      string            `json:"run_id"`
	Params     tryon.Params      `json:"params"`
	Status     CallStatus        `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	DurationMS *int64            `json:"duration_ms,omitempty"`
	ResultPath string            `json:"result_path,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// NewCallID returns a fresh identifier for a call record.
func NewCallID() string {
	return uuid.NewString()
}

// Matches reports whether the call contains text as a case-insensitive
// substring in any of its searchable fields.
func (c *Call) Matches(text string) bool {
	needle := strings.ToLower(text)
	haystacks := []string{
		string(c.Provider),
		string(c.Action),
		string(c.Status),
		c.RunID,
		c.Error,
		c.Params.ModelImage,
		c.Params.TopGarment,
		c.Params.BottomGarment,
		c.Params.Mode,
		c.Params.Category,
	}
	for _, h := range haystacks {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

// Filter selects calls by exact-match criteria. Zero-valued fields are
// ignored.
type Filter struct {
	Provider tryon.ProviderTag
	Action   Action
	Status   CallStatus
	RunID    string
}

// Accepts reports whether the call satisfies every set criterion.
func (f Filter) Accepts(c *Call) bool {
	if f.Provider != "" && c.Provider != f.Provider {
		return false
	}
	if f.Action != "" && c.Action != f.Action {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.RunID != "" && c.RunID != f.RunID {
		return false
	}
	return true
}
