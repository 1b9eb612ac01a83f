package orchestratornode

import (
	"context"

	specialistx "github.com/tanpawarit/legal-lead-agents/agent/agents/specialist"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

// FinalMessageKey holds the last client-facing message in the shared context.
const FinalMessageKey = "final_message"

func Aggregate(
	ctx context.Context,
	in *GraphState,
	team Team,
	communicatorID string,
	store contractx.ContextStore,
) (*GraphState, error) {
	if in == nil {
		return nil, errNilState
	}
	if in.Failed() || expired(ctx, in, PhaseAggregating) {
		return in, nil
	}

	out, err := team.Aggregate(ctx, specialistx.AggregateRequest{
		RunID:   in.RunID,
		Lead:    in.Lead,
		Context: store.Get(ctx, in.Lead.ID),
		Trace:   in.Trace,
	})

	entry := contractx.TraceEntry{
		Kind:       contractx.TraceKindAggregate,
		AgentID:    communicatorID,
		Text:       out.Result.Text,
		Success:    err == nil,
		ErrorKind:  contractx.KindOf(err),
		LatencyMs:  out.LatencyMs,
		TokensUsed: out.TokensUsed,
	}
	if err != nil {
		entry.Text = ""
		entry.Error = err.Error()
	}
	in.appendTrace(entry)

	if err != nil {
		in.Fail(ctx, err)
		return in, nil
	}

	in.FinalMessage = out.Result.Text
	store.Set(ctx, in.Lead.ID, map[string]any{FinalMessageKey: in.FinalMessage})
	in.Phase = PhaseCompleted
	return in, nil
}
