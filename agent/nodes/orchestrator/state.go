package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	specialistx "github.com/tanpawarit/legal-lead-agents/agent/agents/specialist"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

var errNilState = fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)

// Team is the agent side of a run.
type Team interface {
	Plan(ctx context.Context, req specialistx.PlanRequest) (specialistx.PlanOutcome, error)
	Delegate(ctx context.Context, req specialistx.DelegateRequest) (specialistx.DelegateOutcome, error)
	Aggregate(ctx context.Context, req specialistx.AggregateRequest) (specialistx.AggregateOutcome, error)
}

// Phase is the run state machine position.
type Phase string

const (
	PhasePlanning    Phase = "PLANNING"
	PhaseDelegating  Phase = "DELEGATING"
	PhaseAggregating Phase = "AGGREGATING"
	PhaseCompleted   Phase = "COMPLETED"
	PhaseFailed      Phase = "FAILED"
)

// GraphState is owned by a single run and mutated by each node in turn. It is
// created by the caller so a partial trace survives an aborted graph.
type GraphState struct {
	RunID string
	Lead  contractx.Lead

	Phase        Phase
	Context      map[string]any
	Plan         []contractx.PlanStep
	Trace        []contractx.TraceEntry
	FinalMessage string
	Err          error
}

func NewGraphState(runID string, lead contractx.Lead) *GraphState {
	return &GraphState{
		RunID: runID,
		Lead:  lead,
		Phase: PhasePlanning,
	}
}

func (s *GraphState) Failed() bool {
	return s.Err != nil
}

// Fail records the first terminal error; a run deadline always wins.
func (s *GraphState) Fail(ctx context.Context, err error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, contractx.ErrRunTimeout) {
		err = fmt.Errorf("%w: %w", contractx.ErrRunTimeout, err)
	}
	if s.Err == nil || (errors.Is(err, contractx.ErrRunTimeout) && !errors.Is(s.Err, contractx.ErrRunTimeout)) {
		s.Err = err
	}
	s.Phase = PhaseFailed
}

func (s *GraphState) appendTrace(e contractx.TraceEntry) {
	e.Step = len(s.Trace) + 1
	s.Trace = append(s.Trace, e)
}

// expired fails the state when the run context has ended.
func expired(ctx context.Context, s *GraphState, phase Phase) bool {
	switch err := ctx.Err(); {
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded):
		s.Fail(ctx, fmt.Errorf("%w: run deadline reached during %s", contractx.ErrRunTimeout, phase))
	default:
		s.Fail(ctx, fmt.Errorf("run canceled during %s: %w", phase, err))
	}
	return true
}

func ValidateRequest(ctx context.Context, in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, errNilState
	}
	in.Lead.ID = strings.TrimSpace(in.Lead.ID)
	in.Lead.Message = strings.TrimSpace(in.Lead.Message)

	switch {
	case in.Lead.ID == "":
		in.Fail(ctx, fmt.Errorf("%w: lead id is required", contractx.ErrValidation))
	case in.Lead.Message == "":
		in.Fail(ctx, fmt.Errorf("%w: lead message is required", contractx.ErrValidation))
	}
	return in, nil
}

func LoadContext(ctx context.Context, in *GraphState, store contractx.ContextStore) (*GraphState, error) {
	if in == nil {
		return nil, errNilState
	}
	if in.Failed() || expired(ctx, in, PhasePlanning) {
		return in, nil
	}
	in.Context = store.Get(ctx, in.Lead.ID)
	return in, nil
}
