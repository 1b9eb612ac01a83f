package orchestratornode

import (
	"context"
	"strings"

	specialistx "github.com/tanpawarit/legal-lead-agents/agent/agents/specialist"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
)

func Plan(ctx context.Context, in *GraphState, team Team, coordinatorID string) (*GraphState, error) {
	if in == nil {
		return nil, errNilState
	}
	if in.Failed() || expired(ctx, in, PhasePlanning) {
		return in, nil
	}

	out, err := team.Plan(ctx, specialistx.PlanRequest{
		RunID:   in.RunID,
		Lead:    in.Lead,
		Context: in.Context,
	})

	entry := contractx.TraceEntry{
		Kind:       contractx.TraceKindPlan,
		AgentID:    coordinatorID,
		Text:       planSummary(out.Steps),
		Success:    err == nil,
		ErrorKind:  contractx.KindOf(err),
		LatencyMs:  out.LatencyMs,
		TokensUsed: out.TokensUsed,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	in.appendTrace(entry)

	if err != nil {
		in.Fail(ctx, err)
		return in, nil
	}

	in.Plan = out.Steps
	in.Phase = PhaseDelegating
	logx.FromContext(ctx).Info().
		Str("plan", entry.Text).
		Strs("rejected", out.Rejected).
		Int("coordinator_invocations", out.Invocations).
		Msg("execution plan ready")
	return in, nil
}

func planSummary(steps []contractx.PlanStep) string {
	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.AgentID)
	}
	return strings.Join(ids, " -> ")
}
