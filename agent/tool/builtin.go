package tool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

// LeadFieldPrefix namespaces fields saved by lead.save_fields in the shared context.
const LeadFieldPrefix = "lead."

const maxInstallments = 48

// RegisterBuiltins installs the handlers that run in-process.
func RegisterBuiltins(d *Dispatcher, store contractx.ContextStore) error {
	if store == nil {
		return errors.New("context store is required for builtin tools")
	}
	if err := d.Register(ToolLeadSaveFields, SaveFields(store)); err != nil {
		return err
	}
	return d.Register(ToolProposalCalculate, CalculateProposal)
}

type SaveFieldsOutput struct {
	Saved []string `json:"saved"`
}

// SaveFields merges the call arguments into the lead's shared context.
func SaveFields(store contractx.ContextStore) Handler {
	return func(ctx context.Context, call contractx.ToolCall) (any, error) {
		if strings.TrimSpace(call.LeadID) == "" {
			return nil, errors.New("lead id is required")
		}
		fields := call.Args
		if nested, ok := call.Args["fields"].(map[string]any); ok {
			fields = nested
		}
		if len(fields) == 0 {
			return nil, errors.New("fields are required")
		}

		partial := make(map[string]any, len(fields))
		saved := make([]string, 0, len(fields))
		for k, v := range fields {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			partial[LeadFieldPrefix+k] = v
			saved = append(saved, k)
		}
		if len(partial) == 0 {
			return nil, errors.New("fields are required")
		}
		sort.Strings(saved)
		store.Set(ctx, call.LeadID, partial)
		return SaveFieldsOutput{Saved: saved}, nil
	}
}

type ProposalOutput struct {
	Expression       string  `json:"expression"`
	Total            float64 `json:"total"`
	Installments     int     `json:"installments,omitempty"`
	InstallmentValue float64 `json:"installment_value,omitempty"`
}

// CalculateProposal evaluates a fee expression and optionally splits the total.
func CalculateProposal(_ context.Context, call contractx.ToolCall) (any, error) {
	expression, ok := call.Args["expression"].(string)
	if !ok {
		return nil, errors.New("expression must be a string")
	}
	expression = strings.TrimSpace(expression)

	total, err := Evaluate(expression)
	if err != nil {
		return nil, err
	}
	out := ProposalOutput{Expression: expression, Total: roundCents(total)}

	if raw, present := call.Args["installments"]; present {
		n, err := asCount(raw)
		if err != nil {
			return nil, err
		}
		if n < 1 || n > maxInstallments {
			return nil, fmt.Errorf("installments must be between 1 and %d", maxInstallments)
		}
		out.Installments = n
		out.InstallmentValue = roundCents(total / float64(n))
	}
	return out, nil
}

func asCount(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.New("installments must be a whole number")
		}
		return int(v), nil
	default:
		return 0, errors.New("installments must be a number")
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
