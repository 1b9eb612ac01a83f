package specialist

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

// Catalog is the persona lookup the team needs.
type Catalog interface {
	contractx.PersonaCatalog
	Resolver
}

// Team bundles the coordinator, specialist and communicator roles of a run.
type Team struct {
	catalog      Catalog
	planner      *Planner
	delegator    *Delegator
	communicator *Communicator
}

type TeamConfig struct {
	// AggregationExtraAttempts is added to the invoker's attempt budget for the communicator.
	AggregationExtraAttempts int
}

func NewTeam(
	ctx context.Context,
	catalog Catalog,
	invoker contractx.Invoker,
	dispatcher contractx.ToolDispatcher,
	cfg TeamConfig,
) (*Team, error) {
	if catalog == nil {
		return nil, errors.New("persona catalog is required")
	}
	if invoker == nil {
		return nil, errors.New("invoker is required")
	}

	planner, err := newPlanner(ctx, invoker, catalog, catalog)
	if err != nil {
		return nil, fmt.Errorf("build planner: %w", err)
	}

	return &Team{
		catalog:      catalog,
		planner:      planner,
		delegator:    newDelegator(invoker, dispatcher),
		communicator: newCommunicator(catalog.Communicator(), invoker, cfg.AggregationExtraAttempts),
	}, nil
}

func (t *Team) Catalog() Catalog {
	return t.catalog
}

func (t *Team) Plan(ctx context.Context, req PlanRequest) (PlanOutcome, error) {
	return t.planner.Plan(ctx, req)
}

func (t *Team) Delegate(ctx context.Context, req DelegateRequest) (DelegateOutcome, error) {
	return t.delegator.Delegate(ctx, req)
}

func (t *Team) Aggregate(ctx context.Context, req AggregateRequest) (AggregateOutcome, error) {
	return t.communicator.Aggregate(ctx, req)
}
