package tool

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	ToolLeadSaveFields      = "lead.save_fields"
	ToolProposalCalculate   = "proposal.calculate"
	ToolMeetingSchedule     = "meeting.schedule"
	ToolJurisprudenceSearch = "jurisprudence.search"
	ToolPaymentCreateLink   = "payment.create_link"
	ToolPaymentCheckStatus  = "payment.check_status"
)

type toolSpec struct {
	desc   string
	params map[string]*schema.ParameterInfo
}

var knownTools = map[string]toolSpec{
	ToolLeadSaveFields: {
		desc: "Save structured facts about the lead (practice area, urgency, employer, dates).",
		params: map[string]*schema.ParameterInfo{
			"fields": {Type: schema.Object, Desc: "Flat object of field name to value", Required: true},
		},
	},
	ToolProposalCalculate: {
		desc: "Evaluate a fee expression and optionally split the total into installments.",
		params: map[string]*schema.ParameterInfo{
			"expression":   {Type: schema.String, Desc: "Arithmetic expression, e.g. 1500 + 0.2 * 30000", Required: true},
			"installments": {Type: schema.Integer, Desc: "Number of equal installments"},
		},
	},
	ToolMeetingSchedule: {
		desc: "Book a consultation slot with the lead.",
		params: map[string]*schema.ParameterInfo{
			"slot":    {Type: schema.String, Desc: "RFC3339 start time", Required: true},
			"channel": {Type: schema.String, Desc: "video, phone or office"},
		},
	},
	ToolJurisprudenceSearch: {
		desc: "Search case law and return citation snippets.",
		params: map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "Natural language query", Required: true},
			"court": {Type: schema.String, Desc: "Optional court filter, e.g. TST"},
		},
	},
	ToolPaymentCreateLink: {
		desc: "Create a payment link for the proposal.",
		params: map[string]*schema.ParameterInfo{
			"amount":      {Type: schema.Number, Desc: "Amount in BRL", Required: true},
			"description": {Type: schema.String, Desc: "Charge description"},
		},
	},
	ToolPaymentCheckStatus: {
		desc: "Check whether a payment link was paid.",
		params: map[string]*schema.ParameterInfo{
			"payment_id": {Type: schema.String, Desc: "Payment identifier", Required: true},
		},
	},
}

// Info returns the descriptor of a known tool.
func Info(toolID string) (*schema.ToolInfo, bool) {
	spec, ok := knownTools[toolID]
	if !ok {
		return nil, false
	}
	return &schema.ToolInfo{
		Name:        toolID,
		Desc:        spec.desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(spec.params),
	}, true
}

// InfosFor returns descriptors for the given tool ids, skipping unknown ones.
func InfosFor(toolIDs []string) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(toolIDs))
	for _, id := range toolIDs {
		if info, ok := Info(id); ok {
			out = append(out, info)
		}
	}
	return out
}

// Describe renders tool descriptors as prompt text.
func Describe(infos []*schema.ToolInfo) string {
	var b strings.Builder
	for _, info := range infos {
		fmt.Fprintf(&b, "- %s: %s", info.Name, info.Desc)
		if args := describeArgs(info); args != "" {
			fmt.Fprintf(&b, " (args: %s)", args)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func describeArgs(info *schema.ToolInfo) string {
	sc, err := info.ParamsOneOf.ToOpenAPIV3()
	if err != nil || sc == nil || len(sc.Properties) == 0 {
		return ""
	}
	required := make(map[string]bool, len(sc.Required))
	for _, name := range sc.Required {
		required[name] = true
	}

	names := make([]string, 0, len(sc.Properties))
	for name := range sc.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]string, 0, len(names))
	for _, name := range names {
		arg := name
		if ref := sc.Properties[name]; ref != nil && ref.Value != nil {
			arg += " " + ref.Value.Type
		}
		if required[name] {
			arg += " required"
		}
		args = append(args, arg)
	}
	return strings.Join(args, ", ")
}
