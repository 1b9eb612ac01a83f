package contract

import "time"

type PersonaRole string

const (
	RoleCoordinator  PersonaRole = "coordinator"
	RoleSpecialist   PersonaRole = "specialist"
	RoleCommunicator PersonaRole = "communicator"
)

type Lead struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

type Persona struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Specialization string      `json:"specialization"`
	SystemPrompt   string      `json:"system_prompt"`
	Tools          []string    `json:"tools,omitempty"`
	Critical       bool        `json:"critical"`
	Role           PersonaRole `json:"role"`

	// Optional per-persona model routing; zero values fall back to the client defaults.
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

// AllowsTool reports whether the persona may request toolID.
func (p Persona) AllowsTool(toolID string) bool {
	for _, t := range p.Tools {
		if t == toolID {
			return true
		}
	}
	return false
}

type PlanStep struct {
	AgentID   string `json:"agent_id"`
	Rationale string `json:"rationale,omitempty"`
}

type InvokeOptions struct {
	Temperature *float32
	MaxTokens   int
	Timeout     time.Duration
	// ExtraAttempts extends the invoker's configured attempt budget for this call.
	ExtraAttempts int
}

type InvokeRequest struct {
	RunID        string
	LeadID       string
	Persona      Persona
	SystemPrompt string // overrides Persona.SystemPrompt when set
	Prompt       string
	Options      InvokeOptions
}

type InvocationResult struct {
	AgentID    string    `json:"agent_id"`
	Text       string    `json:"text"`
	Success    bool      `json:"success"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	Attempts   int       `json:"attempts"`
}

type CompletionRequest struct {
	AgentID      string
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  *float32
	MaxTokens    int
}

type CompletionResponse struct {
	Text       string
	TokensUsed int
}

type TraceKind string

const (
	TraceKindPlan      TraceKind = "plan"
	TraceKindAgent     TraceKind = "agent"
	TraceKindTool      TraceKind = "tool"
	TraceKindAggregate TraceKind = "aggregate"
)

type TraceEntry struct {
	Step       int       `json:"step"`
	Kind       TraceKind `json:"kind"`
	AgentID    string    `json:"agent_id"`
	Tool       string    `json:"tool,omitempty"`
	Text       string    `json:"text,omitempty"`
	Success    bool      `json:"success"`
	Degraded   bool      `json:"degraded,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	LatencyMs  int64     `json:"latency_ms,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty"`
}

type RunStatus string

const (
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

type PipelineResult struct {
	RunID         string       `json:"run_id"`
	LeadID        string       `json:"lead_id"`
	Status        RunStatus    `json:"status"`
	FinalMessage  string       `json:"final_message,omitempty"`
	Trace         []TraceEntry `json:"trace"`
	FailureReason string       `json:"failure_reason,omitempty"`
	FailureKind   FailureKind  `json:"failure_kind,omitempty"`
}

type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "success"
	AttemptRetrying  AttemptStatus = "retry"
	AttemptFailed    AttemptStatus = "failed"
)

type ExecutionLogEntry struct {
	LeadID        string        `json:"lead_id"`
	RunID         string        `json:"run_id"`
	AgentID       string        `json:"agent_id"`
	Attempt       int           `json:"attempt"`
	Status        AttemptStatus `json:"status"`
	ErrorKind     ErrorKind     `json:"error_kind,omitempty"`
	InputDigest   string        `json:"input_digest"`
	OutputPreview string        `json:"output_preview,omitempty"`
	LatencyMs     int64         `json:"latency_ms"`
	TokensUsed    int           `json:"tokens_used"`
	Timestamp     time.Time     `json:"timestamp"`
}

type ToolRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolCall struct {
	LeadID  string
	RunID   string
	AgentID string
	Tool    string
	Args    map[string]any
}

type ToolResult struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
