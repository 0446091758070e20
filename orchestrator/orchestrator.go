// ABOUTME: Generation orchestrator: validates parameters, drives provider workflows, and records outcomes.
// ABOUTME: Serializes work per (run, provider) pair and fans out across providers for generate-all.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lookbook-studio/lookbook/history"
	"github.com/lookbook-studio/lookbook/store"
	"github.com/lookbook-studio/lookbook/tryon"
)

// ErrVersionConflict is returned when a generate/regenerate request does not
// match the run's current version ledger for that provider.
type ErrVersionConflict struct {
	RunID    string
	Provider tryon.ProviderTag
	Want     int
	Have     int
}

func (e *ErrVersionConflict) Error() string {
	return fmt.Sprintf("version conflict for run %s provider %s: requested base %d, current max %d",
		e.RunID, e.Provider, e.Want, e.Have)
}

// Orchestrator wires validators, provider drivers, the artifact store, and
// the call history log into the generate/regenerate operations the route
// layer exposes.
type Orchestrator struct {
	runs      *store.FSRunStore
	artifacts *store.ArtifactStore
	calls     *history.CallLog
	providers map[tryon.ProviderTag]tryon.Provider
	metrics   *Metrics

	mu        sync.Mutex
	pairLocks map[string]*sync.Mutex
}

// New constructs an orchestrator. metrics may be nil.
func New(runs *store.FSRunStore, artifacts *store.ArtifactStore, calls *history.CallLog,
	providers map[tryon.ProviderTag]tryon.Provider, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		runs:      runs,
		artifacts: artifacts,
		calls:     calls,
		providers: providers,
		metrics:   metrics,
		pairLocks: make(map[string]*sync.Mutex),
	}
}

// lockPair serializes work for one (run, provider) pair. Two concurrent
// regenerates for the same pair would otherwise race on the version ledger.
func (o *Orchestrator) lockPair(runID string, tag tryon.ProviderTag) func() {
	key := runID + "/" + string(tag)
	o.mu.Lock()
	m, ok := o.pairLocks[key]
	if !ok {
		m = &sync.Mutex{}
		o.pairLocks[key] = m
	}
	o.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Generate runs a first generation for the pair. The pair must have no prior
// versions; use Regenerate to produce a follow-up.
func (o *Orchestrator) Generate(ctx context.Context, runID string, tag tryon.ProviderTag, params tryon.Params) (*store.Result, error) {
	unlock := o.lockPair(runID, tag)
	defer unlock()

	provider, run, err := o.prepare(runID, tag, &params)
	if err != nil {
		return nil, err
	}
	if have := run.MaxVersion(tag); have != 0 {
		return nil, &ErrVersionConflict{RunID: runID, Provider: tag, Want: 0, Have: have}
	}
	return o.execute(ctx, provider, run, params, history.ActionGenerate, 1)
}

// Regenerate produces the next version for the pair. priorVersion must equal
// the pair's current maximum so two racing callers cannot both build on a
// stale base.
func (o *Orchestrator) Regenerate(ctx context.Context, runID string, tag tryon.ProviderTag, params tryon.Params, priorVersion int) (*store.Result, error) {
	unlock := o.lockPair(runID, tag)
	defer unlock()

	provider, run, err := o.prepare(runID, tag, &params)
	if err != nil {
		return nil, err
	}
	if have := run.MaxVersion(tag); have != priorVersion || priorVersion < 1 {
		return nil, &ErrVersionConflict{RunID: runID, Provider: tag, Want: priorVersion, Have: have}
	}
	return o.execute(ctx, provider, run, params, history.ActionRegenerate, priorVersion+1)
}

// prepare resolves the provider, loads the run, fills empty image references
// from the run's selected inputs, and validates. Validation failures return
// before any Call record exists.
func (o *Orchestrator) prepare(runID string, tag tryon.ProviderTag, params *tryon.Params) (tryon.Provider, *store.Run, error) {
	provider, ok := o.providers[tag]
	if !ok {
		return nil, nil, fmt.Errorf("unknown provider: %s", tag)
	}
	run, err := o.runs.Get(runID)
	if err != nil {
		return nil, nil, err
	}

	if params.ModelImage == "" {
		params.ModelImage = run.InputRef(store.InputModel)
	}
	if params.TopGarment == "" {
		params.TopGarment = run.InputRef(store.InputTop)
	}
	if params.BottomGarment == "" {
		params.BottomGarment = run.InputRef(store.InputBottom)
	}

	if err := provider.Validate(*params); err != nil {
		return nil, nil, err
	}
	return provider, run, nil
}

// execute performs the logged workflow: pending Call, lock the run, drive
// the provider, download the artifact, attach the Result, settle the Call.
func (o *Orchestrator) execute(ctx context.Context, provider tryon.Provider, run *store.Run,
	params tryon.Params, action history.Action, version int) (*store.Result, error) {

	tag := provider.Tag()
	callID, err := o.calls.LogCall(history.Call{
		Provider: tag,
		Action:   action,
		RunID:    run.ID,
		Params:   params,
	})
	if err != nil {
		return nil, fmt.Errorf("log call: %w", err)
	}

	start := time.Now()
	fail := func(cause error) (*store.Result, error) {
		elapsed := time.Since(start)
		if markErr := o.calls.MarkError(callID, cause.Error(), elapsed.Milliseconds()); markErr != nil {
			log.Printf("component=orchestrator action=mark_error_failed call=%s err=%v", callID, markErr)
		}
		o.metrics.observe(tag, "error", elapsed)
		return nil, cause
	}

	if err := o.runs.EnsureLocked(run.ID); err != nil {
		return fail(fmt.Errorf("lock run: %w", err))
	}

	log.Printf("component=orchestrator action=%s run=%s provider=%s version=%d", action, run.ID, tag, version)

	outputURL, err := provider.Run(ctx, params)
	if err != nil {
		return fail(err)
	}

	artifactPath, err := o.artifacts.Download(ctx, outputURL, run.ID, tag, version)
	if err != nil {
		return fail(err)
	}

	elapsed := time.Since(start)
	result := store.Result{
		ID:         history.NewCallID(),
		Provider:   tag,
		Version:    version,
		Path:       artifactPath,
		Params:     params,
		Status:     "success",
		CreatedAt:  time.Now().UTC(),
		DurationMS: elapsed.Milliseconds(),
	}
	if err := o.runs.AppendResult(run.ID, result); err != nil {
		return fail(tryon.NewServiceError(tag, tryon.FailureStorage, "attach result", err))
	}

	if err := o.calls.MarkSuccess(callID, artifactPath, elapsed.Milliseconds()); err != nil {
		log.Printf("component=orchestrator action=mark_success_failed call=%s err=%v", callID, err)
	}
	o.metrics.observe(tag, "success", elapsed)
	return &result, nil
}

// Outcome is one provider's result from a generate-all fan-out.
type Outcome struct {
	Result *store.Result
	Err    error
}

// GenerateAll fans a first generation out to every configured provider and
// waits for all of them. Outcomes are isolated: one provider's failure never
// cancels or rolls back another's success.
func (o *Orchestrator) GenerateAll(ctx context.Context, runID string, settings map[tryon.ProviderTag]tryon.Params) map[tryon.ProviderTag]Outcome {
	outcomes := make(map[tryon.ProviderTag]Outcome, len(o.providers))

	var mu sync.Mutex
	var g errgroup.Group
	for tag := range o.providers {
		tag := tag
		g.Go(func() error {
			res, err := o.Generate(ctx, runID, tag, settings[tag])
			mu.Lock()
			outcomes[tag] = Outcome{Result: res, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
