// Package stage runs the host façade's request lifecycle (registry
// resolve, stream spawn, sniff, sandbox launch, rpc init, ...) as a
// sequence of named stages with hook and retry support, the same shape the
// teacher used to run pixel-transform steps over an image.
package stage

import (
	"context"
	"time"

	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/glycinerr"
)

// Runner executes a sequence of core.RequestStage values against one
// core.RequestState.
type Runner struct {
	stages     []core.RequestStage
	hooks      []core.Hook
	maxRetries int
	retryDelay time.Duration
}

// New returns an empty Runner.
func New() *Runner { return &Runner{} }

// Use appends stages to the runner. Returns the same Runner for chaining.
func (r *Runner) Use(s ...core.RequestStage) *Runner {
	r.stages = append(r.stages, s...)
	return r
}

// AddHook registers an observer.
func (r *Runner) AddHook(h core.Hook) *Runner {
	r.hooks = append(r.hooks, h)
	return r
}

// WithRetry sets the maximum retry count and delay applied to stages whose
// failure is tagged glycinerr.Transport (the only retryable condition in
// this protocol — sandbox launch can race with transient resource limits;
// everything else is either deterministic or protocol-fatal).
func (r *Runner) WithRetry(maxRetries int, delay time.Duration) *Runner {
	r.maxRetries = maxRetries
	r.retryDelay = delay
	return r
}

// Run executes every stage in order against state, returning the per-stage
// timings observed. It stops at the first stage that returns a non-nil
// error (after exhausting retries, for Transport-tagged errors).
func (r *Runner) Run(ctx context.Context, state *core.RequestState) (map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(r.stages))

	for _, s := range r.stages {
		if err := ctx.Err(); err != nil {
			return timings, glycinerr.Wrap(glycinerr.Transport, s.Name(), err)
		}

		elapsed, err := r.runStage(ctx, s, state)
		timings[s.Name()] = elapsed
		if err != nil {
			return timings, err
		}
	}
	return timings, nil
}

func (r *Runner) runStage(ctx context.Context, s core.RequestStage, state *core.RequestState) (time.Duration, error) {
	r.callBefore(ctx, s.Name(), state)
	elapsed, err := r.attempt(ctx, s, state)
	r.callAfter(ctx, s.Name(), state, elapsed, err)
	return elapsed, err
}

// attempt runs s.Execute, retrying only a glycinerr.Transport-tagged
// failure up to maxRetries more times with retryDelay between tries.
func (r *Runner) attempt(ctx context.Context, s core.RequestStage, state *core.RequestState) (time.Duration, error) {
	remaining := r.maxRetries
	for {
		start := time.Now()
		err := s.Execute(ctx, state)
		elapsed := time.Since(start)

		if err == nil || !glycinerr.Is(err, glycinerr.Transport) || remaining == 0 {
			return elapsed, err
		}
		remaining--

		timer := time.NewTimer(r.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return elapsed, glycinerr.Wrap(glycinerr.Transport, s.Name(), ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *Runner) callBefore(ctx context.Context, name string, state *core.RequestState) {
	for _, h := range r.hooks {
		h.BeforeStage(ctx, name, state)
	}
}

func (r *Runner) callAfter(ctx context.Context, name string, state *core.RequestState, d time.Duration, err error) {
	for _, h := range r.hooks {
		h.AfterStage(ctx, name, state, d, err)
	}
}
