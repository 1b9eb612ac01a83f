package specialist

import (
	"context"
	"fmt"
	"strings"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

var (
	planTemplate = einoprompt.FromMessages(
		schema.FString,
		schema.UserMessage("Lead {lead_id} ({lead_name}, via {source}) wrote:\n{message}\n\n"+
			"Shared context (JSON):\n{context}\n\n"+
			"specialists (JSON):\n{roster}"),
	)

	delegationTemplate = einoprompt.FromMessages(
		schema.FString,
		schema.UserMessage("Lead {lead_id} ({lead_name}, via {source}) wrote:\n{message}\n\n"+
			"Your task in this run: {rationale}\n\n"+
			"Shared context (JSON):\n{context}\n\n"+
			"Previous steps (JSON):\n{prior}{tools}"),
	)

	aggregationTemplate = einoprompt.FromMessages(
		schema.FString,
		schema.UserMessage("Lead {lead_id} ({lead_name}, via {source}) wrote:\n{message}\n\n"+
			"Specialist work for this lead (JSON):\n{trace}\n\n"+
			"Shared context (JSON):\n{context}\n\n"+
			"Write the reply to the lead now."),
	)
)

// renderUser formats a single-message template and returns its content.
func renderUser(ctx context.Context, tmpl einoprompt.ChatTemplate, vars map[string]any) (string, error) {
	msgs, err := tmpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%w: render prompt: %v", contractx.ErrValidation, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%w: render prompt: no message", contractx.ErrValidation)
	}
	return msgs[0].Content, nil
}

type planCall struct {
	req    contractx.InvokeRequest
	result contractx.InvocationResult
	err    error
}

type planOutput struct {
	Plan []contractx.PlanStep `json:"plan"`
}

// compilePlanGraph wires invoke_coordinator -> parse_plan.
func compilePlanGraph(ctx context.Context, invoker contractx.Invoker) (compose.Runnable[*planCall, planOutput], error) {
	parser := schema.NewMessageJSONParser[planOutput](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[*planCall, planOutput]()
	if err := graph.AddLambdaNode("invoke_coordinator",
		compose.InvokableLambda(func(ctx context.Context, call *planCall) (*schema.Message, error) {
			res, err := invoker.Invoke(ctx, call.req)
			call.result = res
			if err != nil {
				call.err = err
				return nil, err
			}
			return schema.AssistantMessage(jsonObject(res.Text), nil), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add plan invoke node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_plan", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add plan parser node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "invoke_coordinator"); err != nil {
		return nil, fmt.Errorf("add plan edge start->invoke: %w", err)
	}
	if err := graph.AddEdge("invoke_coordinator", "parse_plan"); err != nil {
		return nil, fmt.Errorf("add plan edge invoke->parse: %w", err)
	}
	if err := graph.AddEdge("parse_plan", compose.END); err != nil {
		return nil, fmt.Errorf("add plan edge parse->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("specialist.plan_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile plan graph: %w", err)
	}
	return runner, nil
}

// jsonObject strips markdown fences and surrounding prose from a model answer.
func jsonObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
