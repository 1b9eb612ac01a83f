package orchestratornode

import (
	"context"
	"encoding/json"
	"fmt"

	specialistx "github.com/tanpawarit/legal-lead-agents/agent/agents/specialist"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
)

// Delegate runs the planned specialists in order. A failed non-critical agent
// leaves a degraded trace entry; a failed critical one ends the run.
func Delegate(
	ctx context.Context,
	in *GraphState,
	team Team,
	personas contractx.PersonaCatalog,
	store contractx.ContextStore,
) (*GraphState, error) {
	if in == nil {
		return nil, errNilState
	}
	if in.Failed() {
		return in, nil
	}
	log := logx.FromContext(ctx)

	for i, step := range in.Plan {
		if expired(ctx, in, PhaseDelegating) {
			return in, nil
		}
		persona, ok := personas.Get(step.AgentID)
		if !ok {
			log.Warn().Str("agent_id", step.AgentID).Msg("planned agent vanished from catalog")
			continue
		}

		out, err := team.Delegate(ctx, specialistx.DelegateRequest{
			RunID:     in.RunID,
			Lead:      in.Lead,
			Persona:   persona,
			Rationale: step.Rationale,
			Context:   store.Get(ctx, in.Lead.ID),
			Prior:     in.Trace,
		})
		if err != nil {
			in.appendTrace(contractx.TraceEntry{
				Kind:       contractx.TraceKindAgent,
				AgentID:    persona.ID,
				Degraded:   !persona.Critical,
				ErrorKind:  contractx.KindOf(err),
				Error:      err.Error(),
				LatencyMs:  out.Result.LatencyMs,
				TokensUsed: out.Result.TokensUsed,
			})
			if ctx.Err() != nil {
				in.Fail(ctx, err)
				return in, nil
			}
			if persona.Critical {
				in.Fail(ctx, fmt.Errorf("%w: agent=%s: %w", contractx.ErrCriticalStep, persona.ID, err))
				log.Warn().Str("agent_id", persona.ID).Int("skipped", len(in.Plan)-i-1).Err(err).Msg("critical agent failed")
				return in, nil
			}
			log.Warn().Str("agent_id", persona.ID).Err(err).Msg("agent degraded")
			continue
		}

		store.Set(ctx, in.Lead.ID, map[string]any{persona.ID: out.Text})
		in.appendTrace(contractx.TraceEntry{
			Kind:       contractx.TraceKindAgent,
			AgentID:    persona.ID,
			Text:       out.Text,
			Success:    true,
			LatencyMs:  out.Result.LatencyMs,
			TokensUsed: out.Result.TokensUsed,
		})
		for _, t := range out.Tools {
			in.appendTrace(toolEntry(persona.ID, t))
		}
	}

	in.Phase = PhaseAggregating
	return in, nil
}

func toolEntry(agentID string, t specialistx.ToolOutcome) contractx.TraceEntry {
	e := contractx.TraceEntry{
		Kind:    contractx.TraceKindTool,
		AgentID: agentID,
		Tool:    t.Request.Tool,
		Success: t.Result.Success,
		Error:   t.Result.Error,
	}
	if t.Result.Data != nil {
		if raw, err := json.Marshal(t.Result.Data); err == nil {
			e.Text = string(raw)
		}
	}
	return e
}
