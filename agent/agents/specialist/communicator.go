package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
)

type AggregateRequest struct {
	RunID   string
	Lead    contractx.Lead
	Context map[string]any
	Trace   []contractx.TraceEntry
}

type AggregateOutcome struct {
	Result     contractx.InvocationResult
	LatencyMs  int64
	TokensUsed int
}

type Communicator struct {
	persona       contractx.Persona
	invoker       contractx.Invoker
	extraAttempts int
}

func newCommunicator(persona contractx.Persona, invoker contractx.Invoker, extraAttempts int) *Communicator {
	if extraAttempts < 0 {
		extraAttempts = 0
	}
	return &Communicator{persona: persona, invoker: invoker, extraAttempts: extraAttempts}
}

// Aggregate turns the run trace into the client-facing message in a single
// invocation whose attempt budget is extended by extraAttempts.
func (c *Communicator) Aggregate(ctx context.Context, req AggregateRequest) (AggregateOutcome, error) {
	userPrompt, err := c.prompt(ctx, req)
	if err != nil {
		return AggregateOutcome{}, fmt.Errorf("%w: %w", contractx.ErrAggregation, err)
	}

	res, err := c.invoker.Invoke(ctx, contractx.InvokeRequest{
		RunID:   req.RunID,
		LeadID:  req.Lead.ID,
		Persona: c.persona,
		Prompt:  userPrompt,
		Options: contractx.InvokeOptions{ExtraAttempts: c.extraAttempts},
	})
	out := AggregateOutcome{Result: res, LatencyMs: res.LatencyMs, TokensUsed: res.TokensUsed}
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = fmt.Errorf("%w: empty final message", contractx.ErrSchemaViolation)
	}
	if err != nil {
		logx.FromContext(ctx).Warn().Err(err).Int("attempts", res.Attempts).Msg("communicator invocation failed")
		return out, fmt.Errorf("%w: %w", contractx.ErrAggregation, err)
	}
	return out, nil
}

func (c *Communicator) prompt(ctx context.Context, req AggregateRequest) (string, error) {
	traceJSON, err := json.Marshal(summarizeTrace(req.Trace))
	if err != nil {
		return "", fmt.Errorf("%w: marshal trace: %v", contractx.ErrValidation, err)
	}
	contextJSON, err := json.Marshal(nonNil(req.Context))
	if err != nil {
		return "", fmt.Errorf("%w: marshal context: %v", contractx.ErrValidation, err)
	}
	return renderUser(ctx, aggregationTemplate, map[string]any{
		"lead_id":   req.Lead.ID,
		"lead_name": leadName(req.Lead),
		"source":    leadSource(req.Lead),
		"message":   req.Lead.Message,
		"trace":     string(traceJSON),
		"context":   string(contextJSON),
	})
}
