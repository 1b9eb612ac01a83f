package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	toolx "github.com/tanpawarit/legal-lead-agents/agent/tool"
)

type DelegateRequest struct {
	RunID     string
	Lead      contractx.Lead
	Persona   contractx.Persona
	Rationale string
	Context   map[string]any
	Prior     []contractx.TraceEntry
}

// ToolOutcome pairs a tool request made by an agent with its dispatch result.
type ToolOutcome struct {
	Request contractx.ToolRequest
	Result  contractx.ToolResult
}

type DelegateOutcome struct {
	Result contractx.InvocationResult
	// Text is the agent output with any tool request block removed.
	Text  string
	Tools []ToolOutcome
}

type Delegator struct {
	invoker    contractx.Invoker
	dispatcher contractx.ToolDispatcher
}

func newDelegator(invoker contractx.Invoker, dispatcher contractx.ToolDispatcher) *Delegator {
	return &Delegator{invoker: invoker, dispatcher: dispatcher}
}

// Delegate invokes one specialist and dispatches the tool requests it is permitted to make.
// The returned error is the invocation error; tool failures are reported in Tools.
func (d *Delegator) Delegate(ctx context.Context, req DelegateRequest) (DelegateOutcome, error) {
	if req.Persona.Role != contractx.RoleSpecialist {
		return DelegateOutcome{}, fmt.Errorf("%w: %s is not a specialist", contractx.ErrUnknownPersona, req.Persona.ID)
	}

	userPrompt, err := d.prompt(ctx, req)
	if err != nil {
		return DelegateOutcome{}, err
	}

	res, err := d.invoker.Invoke(ctx, contractx.InvokeRequest{
		RunID:        req.RunID,
		LeadID:       req.Lead.ID,
		Persona:      req.Persona,
		SystemPrompt: systemPromptWithTools(req.Persona),
		Prompt:       userPrompt,
	})
	out := DelegateOutcome{Result: res}
	if err != nil {
		return out, err
	}

	requests, text := toolx.ExtractRequests(res.Text)
	out.Text = text
	if out.Text == "" {
		out.Text = res.Text
	}
	for _, tr := range requests {
		out.Tools = append(out.Tools, d.dispatch(ctx, req, tr))
	}
	return out, nil
}

func (d *Delegator) dispatch(ctx context.Context, req DelegateRequest, tr contractx.ToolRequest) ToolOutcome {
	if !req.Persona.AllowsTool(tr.Tool) {
		return ToolOutcome{Request: tr, Result: contractx.ToolResult{
			Tool:  tr.Tool,
			Error: fmt.Sprintf("tool=%s is not allowed for agent=%s", tr.Tool, req.Persona.ID),
		}}
	}
	if d.dispatcher == nil {
		return ToolOutcome{Request: tr, Result: toolx.Unavailable(tr.Tool, req.Persona.ID)}
	}
	return ToolOutcome{Request: tr, Result: d.dispatcher.Dispatch(ctx, contractx.ToolCall{
		LeadID:  req.Lead.ID,
		RunID:   req.RunID,
		AgentID: req.Persona.ID,
		Tool:    tr.Tool,
		Args:    tr.Args,
	})}
}

func (d *Delegator) prompt(ctx context.Context, req DelegateRequest) (string, error) {
	contextJSON, err := json.Marshal(nonNil(req.Context))
	if err != nil {
		return "", fmt.Errorf("%w: marshal context: %v", contractx.ErrValidation, err)
	}
	priorJSON, err := json.Marshal(summarizeTrace(req.Prior))
	if err != nil {
		return "", fmt.Errorf("%w: marshal prior steps: %v", contractx.ErrValidation, err)
	}

	rationale := strings.TrimSpace(req.Rationale)
	if rationale == "" {
		rationale = req.Persona.Specialization
	}
	tools := ""
	if len(req.Persona.Tools) > 0 {
		tools = "\n\nTo request a tool, append " + `{"tool_requests":[{"tool":"<id>","args":{}}]}` + " to your answer."
	}

	return renderUser(ctx, delegationTemplate, map[string]any{
		"lead_id":   req.Lead.ID,
		"lead_name": leadName(req.Lead),
		"source":    leadSource(req.Lead),
		"message":   req.Lead.Message,
		"rationale": rationale,
		"context":   string(contextJSON),
		"prior":     string(priorJSON),
		"tools":     tools,
	})
}

func systemPromptWithTools(p contractx.Persona) string {
	described := toolx.Describe(toolx.InfosFor(p.Tools))
	if described == "" {
		return p.SystemPrompt
	}
	return p.SystemPrompt + "\n\nAvailable tools:\n" + described
}

// summarizeTrace keeps what later agents need from earlier steps.
func summarizeTrace(trace []contractx.TraceEntry) []map[string]any {
	out := make([]map[string]any, 0, len(trace))
	for _, e := range trace {
		switch e.Kind {
		case contractx.TraceKindAgent:
			item := map[string]any{"agent_id": e.AgentID, "success": e.Success}
			if e.Success {
				item["output"] = e.Text
			} else {
				item["degraded"] = e.Degraded
			}
			out = append(out, item)
		case contractx.TraceKindTool:
			item := map[string]any{"agent_id": e.AgentID, "tool": e.Tool, "success": e.Success}
			if e.Success {
				item["output"] = e.Text
			}
			out = append(out, item)
		}
	}
	return out
}

func leadName(l contractx.Lead) string {
	if name := strings.TrimSpace(l.Name); name != "" {
		return name
	}
	return "unknown name"
}

func leadSource(l contractx.Lead) string {
	if src := strings.TrimSpace(l.Source); src != "" {
		return src
	}
	return "unknown channel"
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
