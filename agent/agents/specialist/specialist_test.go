package specialist

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	personax "github.com/tanpawarit/legal-lead-agents/agent/persona"
	toolx "github.com/tanpawarit/legal-lead-agents/agent/tool"
)

type invokeReply struct {
	text string
	err  error
}

type fakeInvoker struct {
	mu      sync.Mutex
	replies map[string][]invokeReply
	calls   []contractx.InvokeRequest
}

func (f *fakeInvoker) Invoke(_ context.Context, req contractx.InvokeRequest) (contractx.InvocationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	queue := f.replies[req.Persona.ID]
	if len(queue) == 0 {
		return contractx.InvocationResult{AgentID: req.Persona.ID}, errors.New("no scripted reply")
	}
	reply := queue[0]
	f.replies[req.Persona.ID] = queue[1:]

	res := contractx.InvocationResult{AgentID: req.Persona.ID, Attempts: 1, LatencyMs: 5, TokensUsed: 10}
	if reply.err != nil {
		res.ErrorKind = contractx.KindOf(reply.err)
		return res, reply.err
	}
	res.Text = reply.text
	res.Success = true
	return res, nil
}

func (f *fakeInvoker) callsFor(id string) []contractx.InvokeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []contractx.InvokeRequest
	for _, c := range f.calls {
		if c.Persona.ID == id {
			out = append(out, c)
		}
	}
	return out
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []contractx.ToolCall
}

func (r *recordingDispatcher) Dispatch(_ context.Context, call contractx.ToolCall) contractx.ToolResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return contractx.ToolResult{Tool: call.Tool, Success: true, Data: "ok"}
}

func newTestTeam(t *testing.T, inv contractx.Invoker, disp contractx.ToolDispatcher) *Team {
	t.Helper()
	catalog, err := personax.Default()
	if err != nil {
		t.Fatalf("persona.Default() error = %v", err)
	}
	team, err := NewTeam(context.Background(), catalog, inv, disp, TeamConfig{AggregationExtraAttempts: 1})
	if err != nil {
		t.Fatalf("NewTeam() error = %v", err)
	}
	return team
}

var testLead = contractx.Lead{ID: "L1", Name: "Maria", Message: "Fui demitido sem justa causa", Source: "whatsapp"}

func exhausted(agent string) error {
	return &contractx.InvocationError{Kind: contractx.KindModelError, AgentID: agent, Attempts: 3, Err: errors.New("503")}
}

func TestPlanParsesFencedJSONAndDropsUnknownAgents(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{replies: map[string][]invokeReply{
		"coordinator": {{text: "Plano:\n```json\n" +
			`{"plan":[{"agent_id":"qualifier","rationale":"triage"},{"agent_id":"ghost"},{"agent_id":"communicator"},{"agent_id":"legal_analyst","rationale":"analysis"}]}` +
			"\n```"}},
	}}
	team := newTestTeam(t, inv, nil)

	out, err := team.Plan(context.Background(), PlanRequest{RunID: "r1", Lead: testLead, Context: map[string]any{"seen": true}})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(out.Steps) != 2 || out.Steps[0].AgentID != "qualifier" || out.Steps[1].AgentID != "legal_analyst" {
		t.Fatalf("unexpected steps: %#v", out.Steps)
	}
	if out.Steps[0].Rationale != "triage" {
		t.Fatalf("rationale lost: %#v", out.Steps[0])
	}
	if len(out.Rejected) != 2 {
		t.Fatalf("expected ghost and communicator rejected, got %#v", out.Rejected)
	}
	if out.Invocations != 1 {
		t.Fatalf("expected a single invocation, got %d", out.Invocations)
	}

	call := inv.callsFor("coordinator")[0]
	if !strings.Contains(call.Prompt, "Fui demitido sem justa causa") || !strings.Contains(call.Prompt, `"legal_analyst"`) {
		t.Fatalf("prompt misses lead message or roster: %s", call.Prompt)
	}
	if !strings.Contains(call.Prompt, `"seen":true`) {
		t.Fatalf("prompt misses shared context: %s", call.Prompt)
	}
}

func TestPlanRetriesOnceWithStricterInstruction(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{replies: map[string][]invokeReply{
		"coordinator": {
			{text: "I would start with qualification."},
			{text: `{"plan":[{"agent_id":"qualifier"}]}`},
		},
	}}
	team := newTestTeam(t, inv, nil)

	out, err := team.Plan(context.Background(), PlanRequest{Lead: testLead})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if out.Invocations != 2 || len(out.Steps) != 1 {
		t.Fatalf("unexpected outcome: %#v", out)
	}
	calls := inv.callsFor("coordinator")
	if strings.Contains(calls[0].SystemPrompt, "could not be used") {
		t.Fatal("first attempt must use the normal prompt")
	}
	if !strings.Contains(calls[1].SystemPrompt, "could not be used") {
		t.Fatalf("second attempt must be stricter: %s", calls[1].SystemPrompt)
	}
}

func TestPlanFailsAfterSecondUnusablePlan(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{replies: map[string][]invokeReply{
		"coordinator": {
			{text: `{"plan":[]}`},
			{text: `{"plan":[{"agent_id":"nobody"}]}`},
		},
	}}
	team := newTestTeam(t, inv, nil)

	_, err := team.Plan(context.Background(), PlanRequest{Lead: testLead})
	if !errors.Is(err, contractx.ErrPlanning) {
		t.Fatalf("expected ErrPlanning, got %v", err)
	}
	if len(inv.callsFor("coordinator")) != 2 {
		t.Fatalf("expected exactly two coordinator calls")
	}
}

func TestPlanInvocationFailureIsPlanningError(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{replies: map[string][]invokeReply{
		"coordinator": {{err: exhausted("coordinator")}, {text: `{"plan":[{"agent_id":"qualifier"}]}`}},
	}}
	team := newTestTeam(t, inv, nil)

	_, err := team.Plan(context.Background(), PlanRequest{Lead: testLead})
	if !errors.Is(err, contractx.ErrPlanning) || !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrPlanning wrapping the invocation error, got %v", err)
	}
	if len(inv.callsFor("coordinator")) != 1 {
		t.Fatal("an exhausted invocation must not be retried by the planner")
	}
}

func TestDelegateDispatchesPermittedTools(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{replies: map[string][]invokeReply{
		"qualifier": {{text: "Lead trabalhista, urgente. " +
			`{"tool_requests":[{"tool":"lead.save_fields","args":{"urgency":"high"}},{"tool":"payment.create_link","args":{"amount":10}}]}`}},
	}}
	disp := &recordingDispatcher{}
	team := newTestTeam(t, inv, disp)
	qualifier, _ := team.Catalog().Get("qualifier")

	prior := []contractx.TraceEntry{{Step: 1, Kind: contractx.TraceKindPlan, AgentID: "coordinator", Success: true}}
	out, err := team.Delegate(context.Background(), DelegateRequest{
		RunID: "r1", Lead: testLead, Persona: qualifier, Rationale: "triage", Prior: prior,
	})
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	if out.Text != "Lead trabalhista, urgente." {
		t.Fatalf("unexpected text: %q", out.Text)
	}
	if len(out.Tools) != 2 {
		t.Fatalf("expected 2 tool outcomes, got %#v", out.Tools)
	}
	if !out.Tools[0].Result.Success {
		t.Fatalf("permitted tool must be dispatched: %#v", out.Tools[0])
	}
	if out.Tools[1].Result.Success || !strings.Contains(out.Tools[1].Result.Error, "not allowed") {
		t.Fatalf("unpermitted tool must be rejected: %#v", out.Tools[1])
	}
	if len(disp.calls) != 1 || disp.calls[0].LeadID != "L1" || disp.calls[0].AgentID != "qualifier" {
		t.Fatalf("unexpected dispatches: %#v", disp.calls)
	}

	call := inv.callsFor("qualifier")[0]
	if !strings.Contains(call.SystemPrompt, toolx.ToolLeadSaveFields) {
		t.Fatalf("system prompt must list permitted tools: %s", call.SystemPrompt)
	}
	if !strings.Contains(call.Prompt, "triage") {
		t.Fatalf("prompt must carry the plan rationale: %s", call.Prompt)
	}
}

func TestDelegateReturnsInvocationError(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{replies: map[string][]invokeReply{"legal_analyst": {{err: exhausted("legal_analyst")}}}}
	team := newTestTeam(t, inv, nil)
	legal, _ := team.Catalog().Get("legal_analyst")

	out, err := team.Delegate(context.Background(), DelegateRequest{Lead: testLead, Persona: legal})
	if contractx.KindOf(err) != contractx.KindModelError {
		t.Fatalf("expected ModelError, got %v", err)
	}
	if out.Result.Success {
		t.Fatal("result must not be successful")
	}
}

func TestDelegateRejectsNonSpecialist(t *testing.T) {
	t.Parallel()

	team := newTestTeam(t, &fakeInvoker{}, nil)
	_, err := team.Delegate(context.Background(), DelegateRequest{Lead: testLead, Persona: team.Catalog().Communicator()})
	if !errors.Is(err, contractx.ErrUnknownPersona) {
		t.Fatalf("expected ErrUnknownPersona, got %v", err)
	}
}

func TestAggregateExtendsAttemptBudget(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{replies: map[string][]invokeReply{
		"communicator": {{text: "Olá Maria, recebemos seu caso."}},
	}}
	team := newTestTeam(t, inv, nil)

	trace := []contractx.TraceEntry{
		{Step: 2, Kind: contractx.TraceKindAgent, AgentID: "qualifier", Text: "qualificado", Success: true},
		{Step: 3, Kind: contractx.TraceKindAgent, AgentID: "researcher", Degraded: true},
	}
	out, err := team.Aggregate(context.Background(), AggregateRequest{Lead: testLead, Trace: trace})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if out.Result.Text != "Olá Maria, recebemos seu caso." || out.TokensUsed != 10 {
		t.Fatalf("unexpected outcome: %#v", out)
	}

	calls := inv.callsFor("communicator")
	if len(calls) != 1 {
		t.Fatalf("expected a single invocation, got %d", len(calls))
	}
	if calls[0].Options.ExtraAttempts != 1 {
		t.Fatalf("ExtraAttempts = %d, want 1", calls[0].Options.ExtraAttempts)
	}
	if !strings.Contains(calls[0].Prompt, "qualificado") || !strings.Contains(calls[0].Prompt, `"degraded":true`) {
		t.Fatalf("aggregation prompt misses trace: %s", calls[0].Prompt)
	}
}

func TestAggregateFailsWhenInvocationFails(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{replies: map[string][]invokeReply{
		"communicator": {{err: exhausted("communicator")}, {text: "never"}},
	}}
	team := newTestTeam(t, inv, nil)

	_, err := team.Aggregate(context.Background(), AggregateRequest{Lead: testLead})
	if !errors.Is(err, contractx.ErrAggregation) || !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrAggregation wrapping the invocation error, got %v", err)
	}
	if n := len(inv.callsFor("communicator")); n != 1 {
		t.Fatalf("expected 1 invocation, got %d", n)
	}
}

func TestJSONObject(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"```json\n{\"plan\":[]}\n```": `{"plan":[]}`,
		"sure! {\"plan\":[]} done":    `{"plan":[]}`,
		"no json here":                "no json here",
	}
	for in, want := range cases {
		if got := jsonObject(in); got != want {
			t.Fatalf("jsonObject(%q) = %q, want %q", in, got, want)
		}
	}
}
