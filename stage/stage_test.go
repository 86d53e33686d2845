package stage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/glycinerr"
	"github.com/Skryldev/glycin/stage"
)

type fnStage struct {
	name string
	fn   func(ctx context.Context, state *core.RequestState) error
}

func (f *fnStage) Name() string { return f.name }
func (f *fnStage) Execute(ctx context.Context, state *core.RequestState) error {
	return f.fn(ctx, state)
}

type recordingHook struct {
	before []string
	after  []string
}

func (h *recordingHook) BeforeStage(_ context.Context, name string, _ *core.RequestState) {
	h.before = append(h.before, name)
}

func (h *recordingHook) AfterStage(_ context.Context, name string, _ *core.RequestState, _ time.Duration, _ error) {
	h.after = append(h.after, name)
}

func TestRunnerOrderAndTimings(t *testing.T) {
	var order []string
	s1 := &fnStage{name: "one", fn: func(ctx context.Context, state *core.RequestState) error {
		order = append(order, "one")
		return nil
	}}
	s2 := &fnStage{name: "two", fn: func(ctx context.Context, state *core.RequestState) error {
		order = append(order, "two")
		return nil
	}}

	hook := &recordingHook{}
	r := stage.New().Use(s1, s2).AddHook(hook)

	state := core.NewRequestState()
	timings, err := r.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := []string{order[0], order[1]}; got[0] != "one" || got[1] != "two" {
		t.Errorf("stage order = %v, want [one two]", got)
	}
	if _, ok := timings["one"]; !ok {
		t.Error("missing timing for stage one")
	}
	if _, ok := timings["two"]; !ok {
		t.Error("missing timing for stage two")
	}
	if got := hook.before; len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("hook.before = %v", got)
	}
	if got := hook.after; len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("hook.after = %v", got)
	}
}

func TestRunnerStopsOnFirstError(t *testing.T) {
	ran := 0
	failing := &fnStage{name: "fails", fn: func(ctx context.Context, state *core.RequestState) error {
		ran++
		return glycinerr.New(glycinerr.DecodingError, "fails", errors.New("boom"))
	}}
	never := &fnStage{name: "never", fn: func(ctx context.Context, state *core.RequestState) error {
		ran++
		return nil
	}}

	r := stage.New().Use(failing, never)
	_, err := r.Run(context.Background(), core.NewRequestState())
	if err == nil {
		t.Fatal("expected error")
	}
	if ran != 1 {
		t.Errorf("ran %d stages, want 1", ran)
	}
	if !glycinerr.Is(err, glycinerr.DecodingError) {
		t.Errorf("error tag = %v, want DecodingError", err)
	}
}

func TestRunnerRetriesTransportErrors(t *testing.T) {
	attempts := 0
	flaky := &fnStage{name: "flaky", fn: func(ctx context.Context, state *core.RequestState) error {
		attempts++
		if attempts < 3 {
			return glycinerr.New(glycinerr.Transport, "flaky", errors.New("not yet"))
		}
		return nil
	}}

	r := stage.New().Use(flaky).WithRetry(5, time.Millisecond)
	_, err := r.Run(context.Background(), core.NewRequestState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
