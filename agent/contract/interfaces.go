package contract

import "context"

// ModelClient performs one completion call against the model provider.
type ModelClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (InvocationResult, error)
}

// ContextStore is the per-lead shared context accumulator.
type ContextStore interface {
	Get(ctx context.Context, leadID string) map[string]any
	Set(ctx context.Context, leadID string, partial map[string]any)
	Clear(ctx context.Context, leadID string)
}

// ExecutionLogger must never block or fail the caller.
type ExecutionLogger interface {
	Log(entry ExecutionLogEntry)
}

type ToolDispatcher interface {
	Dispatch(ctx context.Context, call ToolCall) ToolResult
}

type PersonaCatalog interface {
	Get(id string) (Persona, bool)
	Coordinator() Persona
	Communicator() Persona
	Specialists() []Persona
}
