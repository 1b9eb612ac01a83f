package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	nodex "github.com/tanpawarit/legal-lead-agents/agent/nodes/orchestrator"
)

func (o *Orchestrator) compileLeadGraph(
	ctx context.Context,
) (compose.Runnable[*nodex.GraphState, contractx.PipelineResult], error) {
	graph := compose.NewGraph[*nodex.GraphState, contractx.PipelineResult]()

	if err := graph.AddLambdaNode(nodex.NodeValidateRequest,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeValidateRequest, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeLoadContext,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadContext(ctx, in, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeLoadContext, err)
	}

	if err := graph.AddLambdaNode(nodex.NodePlan,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Plan(ctx, in, o.team, o.personas.Coordinator().ID)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodePlan, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeDelegate,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Delegate(ctx, in, o.team, o.personas, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeDelegate, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeAggregate,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Aggregate(ctx, in, o.team, o.personas.Communicator().ID, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeAggregate, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeFinalize,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (contractx.PipelineResult, error) {
			return nodex.Finalize(in), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeFinalize, err)
	}

	branches := []struct {
		from string
		next string
	}{
		{nodex.NodeValidateRequest, nodex.NodeLoadContext},
		{nodex.NodePlan, nodex.NodeDelegate},
		{nodex.NodeDelegate, nodex.NodeAggregate},
	}
	for _, b := range branches {
		branch := compose.NewGraphBranch(nodex.Next(b.next), map[string]bool{
			b.next:             true,
			nodex.NodeFinalize: true,
		})
		if err := graph.AddBranch(b.from, branch); err != nil {
			return nil, fmt.Errorf("add branch %s: %w", b.from, err)
		}
	}

	edges := [][2]string{
		{compose.START, nodex.NodeValidateRequest},
		{nodex.NodeLoadContext, nodex.NodePlan},
		{nodex.NodeAggregate, nodex.NodeFinalize},
		{nodex.NodeFinalize, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.process_lead"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
