package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
	metricsx "github.com/tanpawarit/legal-lead-agents/pkg/metrics"
)

// Handler executes one tool call. Returned data becomes ToolResult.Data.
type Handler func(ctx context.Context, call contractx.ToolCall) (any, error)

// Dispatcher routes tool calls to registered handlers. Failures never escape Dispatch.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	metrics  *metricsx.Recorder
}

var _ contractx.ToolDispatcher = (*Dispatcher)(nil)

func NewDispatcher(rec *metricsx.Recorder) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		metrics:  rec,
	}
}

func (d *Dispatcher) Register(toolID string, h Handler) error {
	toolID = strings.TrimSpace(toolID)
	if toolID == "" {
		return errors.New("tool id is required")
	}
	if h == nil {
		return fmt.Errorf("tool=%s: handler is nil", toolID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[toolID] = h
	return nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, call contractx.ToolCall) (result contractx.ToolResult) {
	d.mu.RLock()
	h, ok := d.handlers[call.Tool]
	d.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			logx.FromContext(ctx).Error().Str("tool", call.Tool).Interface("panic", r).Msg("tool handler panicked")
			result = contractx.ToolResult{Tool: call.Tool, Error: fmt.Sprintf("tool=%s panicked: %v", call.Tool, r)}
		}
		d.metrics.ToolDispatched(call.Tool, result.Success)
	}()

	if !ok {
		return Unavailable(call.Tool, call.AgentID)
	}

	data, err := h(ctx, call)
	if err != nil {
		return contractx.ToolResult{Tool: call.Tool, Error: err.Error()}
	}
	return contractx.ToolResult{Tool: call.Tool, Success: true, Data: data}
}

// Unavailable is the result for tools without a handler.
func Unavailable(toolID, agentID string) contractx.ToolResult {
	return contractx.ToolResult{
		Tool:  toolID,
		Error: fmt.Sprintf("tool=%s is unavailable for agent=%s", toolID, agentID),
	}
}
