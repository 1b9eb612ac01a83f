package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

func newState(id, message string) *GraphState {
	return NewGraphState("run-1", contractx.Lead{ID: id, Message: message})
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		id, msg string
		wantErr bool
	}{
		{name: "ok", id: " L1 ", msg: " hello "},
		{name: "missing id", id: "  ", msg: "hello", wantErr: true},
		{name: "missing message", id: "L1", msg: "\n", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := ValidateRequest(context.Background(), newState(tc.id, tc.msg))
			if err != nil {
				t.Fatalf("ValidateRequest() error = %v", err)
			}
			if s.Failed() != tc.wantErr {
				t.Fatalf("Failed() = %v, want %v (%v)", s.Failed(), tc.wantErr, s.Err)
			}
			if tc.wantErr && !errors.Is(s.Err, contractx.ErrValidation) {
				t.Fatalf("expected validation error, got %v", s.Err)
			}
			if !tc.wantErr && (s.Lead.ID != "L1" || s.Lead.Message != "hello") {
				t.Fatalf("lead not trimmed: %#v", s.Lead)
			}
		})
	}
}

func TestLoadContextSnapshotsStore(t *testing.T) {
	t.Parallel()

	store := mapStore{"L1": {"qualifier": "ok"}}
	s, err := LoadContext(context.Background(), newState("L1", "hi"), store)
	if err != nil {
		t.Fatalf("LoadContext() error = %v", err)
	}
	if s.Context["qualifier"] != "ok" {
		t.Fatalf("Context = %#v", s.Context)
	}
}

func TestFailKeepsFirstErrorUnlessTimeout(t *testing.T) {
	t.Parallel()

	s := newState("L1", "hi")
	first := fmt.Errorf("%w: bad plan", contractx.ErrPlanning)
	s.Fail(context.Background(), first)
	s.Fail(context.Background(), errors.New("later"))
	if !errors.Is(s.Err, contractx.ErrPlanning) {
		t.Fatalf("first error must win, got %v", s.Err)
	}

	s.Fail(context.Background(), fmt.Errorf("%w: deadline", contractx.ErrRunTimeout))
	if !errors.Is(s.Err, contractx.ErrRunTimeout) {
		t.Fatalf("timeout must override, got %v", s.Err)
	}
	if s.Phase != PhaseFailed {
		t.Fatalf("Phase = %s", s.Phase)
	}
}

func TestFailWrapsDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	s := newState("L1", "hi")
	s.Fail(ctx, errors.New("model call aborted"))
	if contractx.FailureKindOf(s.Err) != contractx.FailureTimeout {
		t.Fatalf("FailureKindOf() = %s", contractx.FailureKindOf(s.Err))
	}
}

func TestExpiredDistinguishesCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newState("L1", "hi")
	if !expired(ctx, s, PhaseDelegating) {
		t.Fatal("expected expired")
	}
	if contractx.FailureKindOf(s.Err) != contractx.FailureInternal {
		t.Fatalf("cancel must not read as timeout: %v", s.Err)
	}
}

func TestNextRoutesFailedStates(t *testing.T) {
	t.Parallel()

	next := Next(NodePlan)
	s := newState("L1", "hi")
	if got, _ := next(context.Background(), s); got != NodePlan {
		t.Fatalf("Next() = %s", got)
	}
	s.Fail(context.Background(), errors.New("x"))
	if got, _ := next(context.Background(), s); got != NodeFinalize {
		t.Fatalf("Next() = %s", got)
	}
	if _, err := next(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil state")
	}
}

func TestFinalize(t *testing.T) {
	t.Parallel()

	t.Run("completed", func(t *testing.T) {
		s := newState("L1", "hi")
		s.appendTrace(contractx.TraceEntry{Kind: contractx.TraceKindPlan})
		s.FinalMessage = "done"
		s.Phase = PhaseCompleted
		res := Finalize(s)
		if res.Status != contractx.RunCompleted || res.FinalMessage != "done" || res.Trace[0].Step != 1 {
			t.Fatalf("unexpected result: %#v", res)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		s := newState("L1", "hi")
		s.Fail(context.Background(), fmt.Errorf("%w: run deadline reached", contractx.ErrRunTimeout))
		res := Finalize(s)
		if res.Status != contractx.RunFailed || res.FailureReason != "timeout" || res.FailureKind != contractx.FailureTimeout {
			t.Fatalf("unexpected result: %#v", res)
		}
		if res.Trace == nil {
			t.Fatal("trace must not be nil")
		}
	})

	t.Run("stalled", func(t *testing.T) {
		s := newState("L1", "hi")
		s.Phase = PhaseDelegating
		res := Finalize(s)
		if res.Status != contractx.RunFailed || res.FailureKind != contractx.FailureInternal {
			t.Fatalf("unexpected result: %#v", res)
		}
	})

	t.Run("nil", func(t *testing.T) {
		if res := Finalize(nil); res.Status != contractx.RunFailed {
			t.Fatalf("unexpected result: %#v", res)
		}
	})
}

type mapStore map[string]map[string]any

func (m mapStore) Get(_ context.Context, leadID string) map[string]any {
	out := map[string]any{}
	for k, v := range m[leadID] {
		out[k] = v
	}
	return out
}

func (m mapStore) Set(_ context.Context, leadID string, partial map[string]any) {
	if m[leadID] == nil {
		m[leadID] = map[string]any{}
	}
	for k, v := range partial {
		m[leadID][k] = v
	}
}

func (m mapStore) Clear(_ context.Context, leadID string) {
	delete(m, leadID)
}
