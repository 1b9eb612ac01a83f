package specialist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	promptx "github.com/tanpawarit/legal-lead-agents/agent/prompt"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
)

type PlanRequest struct {
	RunID   string
	Lead    contractx.Lead
	Context map[string]any
}

type PlanOutcome struct {
	Steps    []contractx.PlanStep
	Rejected []string
	// Invocations counts coordinator calls, including the stricter retry.
	Invocations int
	LatencyMs   int64
	TokensUsed  int
	Text        string
}

// Resolver splits agent ids into known specialists and rejected ids.
type Resolver interface {
	Resolve(ids []string) (known, rejected []string)
}

type Planner struct {
	coordinator contractx.Persona
	roster      []map[string]any
	resolver    Resolver
	strict      string
	runner      compose.Runnable[*planCall, planOutput]
}

func newPlanner(ctx context.Context, invoker contractx.Invoker, catalog contractx.PersonaCatalog, resolver Resolver) (*Planner, error) {
	runner, err := compilePlanGraph(ctx, invoker)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrPlanning, err)
	}
	strict, err := promptx.Load(promptx.StrictPlanning)
	if err != nil {
		return nil, err
	}

	specialists := catalog.Specialists()
	roster := make([]map[string]any, 0, len(specialists))
	for _, p := range specialists {
		roster = append(roster, map[string]any{
			"agent_id":       p.ID,
			"name":           p.Name,
			"specialization": p.Specialization,
			"critical":       p.Critical,
		})
	}

	return &Planner{
		coordinator: catalog.Coordinator(),
		roster:      roster,
		resolver:    resolver,
		strict:      strict,
		runner:      runner,
	}, nil
}

// Plan asks the coordinator for an execution plan. An unusable plan is retried
// once with a stricter instruction; a failed invocation is not.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (PlanOutcome, error) {
	if strings.TrimSpace(req.Lead.Message) == "" {
		return PlanOutcome{}, fmt.Errorf("%w: lead message is required", contractx.ErrValidation)
	}

	userPrompt, err := p.prompt(ctx, req)
	if err != nil {
		return PlanOutcome{}, err
	}

	var out PlanOutcome
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		systemPrompt := p.coordinator.SystemPrompt
		if attempt > 1 {
			systemPrompt += "\n\n" + p.strict
		}
		call := &planCall{req: contractx.InvokeRequest{
			RunID:        req.RunID,
			LeadID:       req.Lead.ID,
			Persona:      p.coordinator,
			SystemPrompt: systemPrompt,
			Prompt:       userPrompt,
		}}

		parsed, runErr := p.runner.Invoke(ctx, call)
		out.Invocations++
		out.LatencyMs += call.result.LatencyMs
		out.TokensUsed += call.result.TokensUsed
		out.Text = call.result.Text

		if call.err != nil {
			return out, fmt.Errorf("%w: coordinator invocation failed: %w", contractx.ErrPlanning, call.err)
		}
		if runErr != nil {
			lastErr = fmt.Errorf("%w: unparsable plan: %v", contractx.ErrSchemaViolation, runErr)
		} else {
			known, rejected := p.resolver.Resolve(agentIDs(parsed.Plan))
			out.Rejected = append(out.Rejected, rejected...)
			if len(rejected) > 0 {
				logx.FromContext(ctx).Warn().Strs("rejected", rejected).Int("attempt", attempt).Msg("plan referenced unknown agents")
			}
			if len(known) > 0 {
				out.Steps = keepKnown(parsed.Plan, known)
				return out, nil
			}
			lastErr = fmt.Errorf("%w: plan has no known specialists", contractx.ErrSchemaViolation)
		}
		if ctx.Err() != nil {
			break
		}
		logx.FromContext(ctx).Debug().Err(lastErr).Int("attempt", attempt).Msg("coordinator plan unusable")
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		lastErr = errors.Join(lastErr, ctxErr)
	}
	return out, fmt.Errorf("%w: %w", contractx.ErrPlanning, lastErr)
}

func (p *Planner) prompt(ctx context.Context, req PlanRequest) (string, error) {
	contextJSON, err := json.Marshal(nonNil(req.Context))
	if err != nil {
		return "", fmt.Errorf("%w: marshal context: %v", contractx.ErrValidation, err)
	}
	rosterJSON, err := json.Marshal(p.roster)
	if err != nil {
		return "", fmt.Errorf("%w: marshal roster: %v", contractx.ErrValidation, err)
	}
	return renderUser(ctx, planTemplate, map[string]any{
		"lead_id":   req.Lead.ID,
		"lead_name": leadName(req.Lead),
		"source":    leadSource(req.Lead),
		"message":   req.Lead.Message,
		"context":   string(contextJSON),
		"roster":    string(rosterJSON),
	})
}

func agentIDs(steps []contractx.PlanStep) []string {
	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.AgentID)
	}
	return ids
}

// keepKnown returns the steps whose trimmed id is in known, in plan order.
func keepKnown(steps []contractx.PlanStep, known []string) []contractx.PlanStep {
	allowed := make(map[string]struct{}, len(known))
	for _, id := range known {
		allowed[id] = struct{}{}
	}
	out := make([]contractx.PlanStep, 0, len(known))
	for _, s := range steps {
		id := strings.TrimSpace(s.AgentID)
		if _, ok := allowed[id]; !ok {
			continue
		}
		out = append(out, contractx.PlanStep{AgentID: id, Rationale: strings.TrimSpace(s.Rationale)})
	}
	return out
}
