package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

const (
	NodeValidateRequest = "validate_request"
	NodeLoadContext     = "load_context"
	NodePlan            = "plan"
	NodeDelegate        = "delegate"
	NodeAggregate       = "aggregate"
	NodeFinalize        = "finalize"
)

// Next returns a branch condition that routes failed states to finalize.
func Next(node string) func(context.Context, *GraphState) (string, error) {
	return func(_ context.Context, in *GraphState) (string, error) {
		if in == nil {
			return "", errNilState
		}
		if in.Failed() {
			return NodeFinalize, nil
		}
		return node, nil
	}
}

// Finalize converts the run state into its terminal result.
func Finalize(in *GraphState) contractx.PipelineResult {
	if in == nil {
		return contractx.PipelineResult{
			Status:        contractx.RunFailed,
			FailureReason: errNilState.Error(),
			FailureKind:   contractx.FailureInternal,
		}
	}

	res := contractx.PipelineResult{
		RunID:  in.RunID,
		LeadID: in.Lead.ID,
		Trace:  append([]contractx.TraceEntry(nil), in.Trace...),
	}
	if res.Trace == nil {
		res.Trace = []contractx.TraceEntry{}
	}

	if in.Err == nil && in.Phase != PhaseCompleted {
		in.Err = fmt.Errorf("run stopped in phase %s", in.Phase)
	}
	if in.Err != nil {
		in.Phase = PhaseFailed
		res.Status = contractx.RunFailed
		res.FailureKind = contractx.FailureKindOf(in.Err)
		res.FailureReason = in.Err.Error()
		if errors.Is(in.Err, contractx.ErrRunTimeout) {
			res.FailureReason = contractx.ErrRunTimeout.Error()
		}
		return res
	}

	res.Status = contractx.RunCompleted
	res.FinalMessage = in.FinalMessage
	return res
}
