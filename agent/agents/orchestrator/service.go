package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	nodex "github.com/tanpawarit/legal-lead-agents/agent/nodes/orchestrator"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
	metricsx "github.com/tanpawarit/legal-lead-agents/pkg/metrics"
)

type Config struct {
	RunTimeout               time.Duration `split_words:"true" default:"60s"`
	AggregationExtraAttempts int           `split_words:"true" default:"1"`
}

func (c Config) Validate() error {
	if c.RunTimeout <= 0 {
		return errors.New("pipeline run timeout must be > 0")
	}
	if c.AggregationExtraAttempts < 0 || c.AggregationExtraAttempts > 3 {
		return errors.New("pipeline aggregation extra attempts must be in [0,3]")
	}
	return nil
}

// Orchestrator drives one lead through planning, delegation and aggregation.
type Orchestrator struct {
	team     nodex.Team
	personas contractx.PersonaCatalog
	store    contractx.ContextStore
	metrics  *metricsx.Recorder
	cfg      Config

	graphRunner compose.Runnable[*nodex.GraphState, contractx.PipelineResult]

	now      func() time.Time
	newRunID func() string
}

type Option func(*Orchestrator)

func WithMetrics(rec *metricsx.Recorder) Option {
	return func(o *Orchestrator) {
		o.metrics = rec
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func New(
	team nodex.Team,
	personas contractx.PersonaCatalog,
	store contractx.ContextStore,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if team == nil {
		return nil, errors.New("agent team is required")
	}
	if personas == nil {
		return nil, errors.New("persona catalog is required")
	}
	if store == nil {
		return nil, errors.New("context store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		team:     team,
		personas: personas,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	graphRunner, err := o.compileLeadGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner
	return o, nil
}

type runIDKey struct{}

// WithRunID makes ProcessLead use runID instead of generating one.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}

// ProcessLead runs the pipeline for one inbound message. It never returns an
// error: every failure is reported through the result status.
func (o *Orchestrator) ProcessLead(ctx context.Context, lead contractx.Lead, message string) (res contractx.PipelineResult) {
	runID := runIDFrom(ctx)
	if runID == "" {
		runID = o.newRunID()
	}
	if strings.TrimSpace(message) != "" {
		lead.Message = message
	}

	ctx = logx.WithRun(ctx, lead.ID, runID)
	log := logx.FromContext(ctx)
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	started := o.now()
	state := nodex.NewGraphState(runID, lead)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("lead run panicked")
			state.Fail(runCtx, fmt.Errorf("run panicked: %v", r))
			res = nodex.Finalize(state)
		}
		elapsed := o.now().Sub(started)
		o.metrics.RunFinished(string(res.Status), string(res.FailureKind), elapsed)

		ev := log.Info()
		if res.Status == contractx.RunFailed {
			ev = log.Warn().Str("failure_kind", string(res.FailureKind)).Str("failure_reason", res.FailureReason)
		}
		ev.Str("status", string(res.Status)).
			Int("trace_len", len(res.Trace)).
			Dur("elapsed", elapsed).
			Msg("lead run finished")
	}()

	out, err := o.graphRunner.Invoke(runCtx, state)
	if err != nil {
		if !state.Failed() {
			state.Fail(runCtx, fmt.Errorf("run graph: %w", err))
		}
		return nodex.Finalize(state)
	}
	return out
}
