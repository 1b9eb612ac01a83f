package tool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

type mapStore struct {
	mu   sync.Mutex
	data map[string]map[string]any
}

func (m *mapStore) Get(_ context.Context, leadID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]any{}
	for k, v := range m.data[leadID] {
		out[k] = v
	}
	return out
}

func (m *mapStore) Set(_ context.Context, leadID string, partial map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]map[string]any{}
	}
	if m.data[leadID] == nil {
		m.data[leadID] = map[string]any{}
	}
	for k, v := range partial {
		m.data[leadID][k] = v
	}
}

func (m *mapStore) Clear(_ context.Context, leadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, leadID)
}

func newBuiltinDispatcher(t *testing.T, store contractx.ContextStore) *Dispatcher {
	t.Helper()
	d := NewDispatcher(nil)
	if err := RegisterBuiltins(d, store); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	return d
}

func TestDispatchUnknownToolIsUnavailable(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	out := d.Dispatch(context.Background(), contractx.ToolCall{AgentID: "researcher", Tool: ToolJurisprudenceSearch})
	if out.Success {
		t.Fatal("expected unsuccessful result")
	}
	if out.Tool != ToolJurisprudenceSearch {
		t.Fatalf("unexpected tool: %s", out.Tool)
	}
	if !strings.Contains(out.Error, "unavailable") || !strings.Contains(out.Error, "researcher") {
		t.Fatalf("unexpected error message: %q", out.Error)
	}
}

func TestDispatchCapturesErrorsAndPanics(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	if err := d.Register("boom.error", func(context.Context, contractx.ToolCall) (any, error) {
		return nil, errors.New("provider down")
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.Register("boom.panic", func(context.Context, contractx.ToolCall) (any, error) {
		panic("nil map")
	}); err != nil {
		t.Fatal(err)
	}

	out := d.Dispatch(context.Background(), contractx.ToolCall{Tool: "boom.error"})
	if out.Success || out.Error != "provider down" {
		t.Fatalf("unexpected result: %#v", out)
	}

	out = d.Dispatch(context.Background(), contractx.ToolCall{Tool: "boom.panic"})
	if out.Success || !strings.Contains(out.Error, "panicked") {
		t.Fatalf("unexpected result: %#v", out)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	if err := d.Register(" ", CalculateProposal); err == nil {
		t.Fatal("expected error for empty id")
	}
	if err := d.Register("x", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
	if err := RegisterBuiltins(d, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestSaveFieldsMergesIntoContext(t *testing.T) {
	t.Parallel()

	store := &mapStore{}
	d := newBuiltinDispatcher(t, store)

	out := d.Dispatch(context.Background(), contractx.ToolCall{
		LeadID:  "L1",
		AgentID: "qualifier",
		Tool:    ToolLeadSaveFields,
		Args:    map[string]any{"fields": map[string]any{"practice_area": "trabalhista", "urgency": "high"}},
	})
	if !out.Success {
		t.Fatalf("unexpected failure: %#v", out)
	}
	saved, ok := out.Data.(SaveFieldsOutput)
	if !ok || len(saved.Saved) != 2 || saved.Saved[0] != "practice_area" {
		t.Fatalf("unexpected data: %#v", out.Data)
	}

	got := store.Get(context.Background(), "L1")
	if got["lead.practice_area"] != "trabalhista" || got["lead.urgency"] != "high" {
		t.Fatalf("context not updated: %#v", got)
	}
}

func TestSaveFieldsRequiresLeadAndFields(t *testing.T) {
	t.Parallel()

	d := newBuiltinDispatcher(t, &mapStore{})
	if out := d.Dispatch(context.Background(), contractx.ToolCall{Tool: ToolLeadSaveFields, Args: map[string]any{"a": 1}}); out.Success {
		t.Fatal("expected failure without lead id")
	}
	if out := d.Dispatch(context.Background(), contractx.ToolCall{LeadID: "L1", Tool: ToolLeadSaveFields}); out.Success {
		t.Fatal("expected failure without fields")
	}
}

func TestCalculateProposal(t *testing.T) {
	t.Parallel()

	d := newBuiltinDispatcher(t, &mapStore{})
	out := d.Dispatch(context.Background(), contractx.ToolCall{
		Tool: ToolProposalCalculate,
		Args: map[string]any{"expression": "1500 + 0.2 * (30000 - 5000)", "installments": float64(3)},
	})
	if !out.Success {
		t.Fatalf("unexpected failure: %#v", out)
	}
	got, ok := out.Data.(ProposalOutput)
	if !ok {
		t.Fatalf("unexpected data type: %T", out.Data)
	}
	if got.Total != 6500 || got.Installments != 3 || got.InstallmentValue != 2166.67 {
		t.Fatalf("unexpected proposal: %#v", got)
	}
}

func TestCalculateProposalRejectsBadInput(t *testing.T) {
	t.Parallel()

	d := newBuiltinDispatcher(t, &mapStore{})
	cases := []map[string]any{
		{},
		{"expression": 12},
		{"expression": "2 + abc"},
		{"expression": "10 / 0"},
		{"expression": "(1 + 2"},
		{"expression": "1.2.3"},
		{"expression": "100", "installments": float64(0)},
		{"expression": "100", "installments": 2.5},
		{"expression": "100", "installments": "two"},
	}
	for _, args := range cases {
		out := d.Dispatch(context.Background(), contractx.ToolCall{Tool: ToolProposalCalculate, Args: args})
		if out.Success || out.Error == "" {
			t.Fatalf("expected failure for %#v, got %#v", args, out)
		}
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	cases := map[string]float64{
		"2 + 3 * (4 - 1)": 11,
		"2 ^ 3 ^ 2":       512,
		"-4 + 10 % 3":     -3,
		"(.5 + .5) * 8":   8,
	}
	for expr, want := range cases {
		got, err := Evaluate(expr)
		if err != nil {
			t.Fatalf("Evaluate(%q) error = %v", expr, err)
		}
		if got != want {
			t.Fatalf("Evaluate(%q) = %v, want %v", expr, got, want)
		}
	}
}

func TestExtractRequests(t *testing.T) {
	t.Parallel()

	text := "Lead qualificado como trabalhista.\n```json\n" +
		`{"tool_requests":[{"tool":"lead.save_fields","args":{"urgency":"high","note":"contains } brace"}},{"tool":""},{"tool":"meeting.schedule"}]}` +
		"\n```"

	reqs, remaining := ExtractRequests(text)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %#v", reqs)
	}
	if reqs[0].Tool != ToolLeadSaveFields || reqs[0].Args["urgency"] != "high" {
		t.Fatalf("unexpected first request: %#v", reqs[0])
	}
	if reqs[1].Tool != ToolMeetingSchedule || reqs[1].Args != nil {
		t.Fatalf("unexpected second request: %#v", reqs[1])
	}
	if remaining != "Lead qualificado como trabalhista." {
		t.Fatalf("unexpected remaining text: %q", remaining)
	}
}

func TestExtractRequestsIgnoresOtherJSON(t *testing.T) {
	t.Parallel()

	text := `Resumo {"score": 7} sem ferramentas {broken`
	reqs, remaining := ExtractRequests(text)
	if reqs != nil {
		t.Fatalf("expected no requests, got %#v", reqs)
	}
	if remaining != text {
		t.Fatalf("text must be returned untouched, got %q", remaining)
	}
}

func TestInfosAndDescribe(t *testing.T) {
	t.Parallel()

	infos := InfosFor([]string{ToolProposalCalculate, "unknown.tool", ToolPaymentCreateLink})
	if len(infos) != 2 {
		t.Fatalf("expected 2 infos, got %d", len(infos))
	}
	if infos[0].Name != ToolProposalCalculate || infos[0].ParamsOneOf == nil {
		t.Fatalf("unexpected info: %#v", infos[0])
	}

	text := Describe(InfosFor([]string{ToolProposalCalculate}))
	if !strings.HasPrefix(text, "- proposal.calculate:") {
		t.Fatalf("unexpected description: %q", text)
	}
	if !strings.Contains(text, "expression string required") || !strings.Contains(text, "installments integer") {
		t.Fatalf("arguments not rendered: %q", text)
	}
	if Describe(InfosFor([]string{"unknown.tool"})) != "" {
		t.Fatal("expected empty description for no tools")
	}
}
