package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
	metricsx "github.com/tanpawarit/legal-lead-agents/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull  = errors.New("worker queue is full")
	ErrPoolClosed = errors.New("worker pool is closed")
)

type Config struct {
	Concurrency int `default:"8"`
	QueueSize   int `split_words:"true" default:"256"`
}

func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: worker concurrency must be >= 1", contractx.ErrValidation)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: worker queue size must be >= 1", contractx.ErrValidation)
	}
	return nil
}

// Processor runs one lead through the pipeline.
type Processor interface {
	ProcessLead(ctx context.Context, lead contractx.Lead, message string) contractx.PipelineResult
}

type Job struct {
	RunID   string
	Lead    contractx.Lead
	Message string
}

// ResultFunc observes every finished job.
type ResultFunc func(Job, contractx.PipelineResult)

type Option func(*Pool)

func WithMetrics(rec *metricsx.Recorder) Option {
	return func(p *Pool) {
		p.metrics = rec
	}
}

func WithResultFunc(fn ResultFunc) Option {
	return func(p *Pool) {
		p.onResult = fn
	}
}

// WithRunContext tags each job context before it reaches the processor.
func WithRunContext(fn func(ctx context.Context, runID string) context.Context) Option {
	return func(p *Pool) {
		p.runContext = fn
	}
}

// Pool feeds queued jobs to a bounded number of concurrent pipeline runs.
type Pool struct {
	processor  Processor
	metrics    *metricsx.Recorder
	onResult   ResultFunc
	runContext func(ctx context.Context, runID string) context.Context

	mu     sync.RWMutex
	closed bool
	queue  chan Job

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
}

func New(processor Processor, cfg Config, opts ...Option) (*Pool, error) {
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		processor: processor,
		queue:     make(chan Job, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		group:     &errgroup.Group{},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.group.SetLimit(cfg.Concurrency)

	go p.run()
	return p, nil
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.WorkerRejected()
		return ErrPoolClosed
	}

	select {
	case p.queue <- job:
		p.metrics.QueueDepth(len(p.queue))
		return nil
	default:
		p.metrics.WorkerRejected()
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued and running jobs. When ctx ends
// first, running jobs are canceled and ctx.Err is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}

func (p *Pool) run() {
	defer close(p.done)
	for job := range p.queue {
		p.metrics.QueueDepth(len(p.queue))
		// Go blocks while all workers are busy, which keeps the queue bounded.
		p.group.Go(func() error {
			p.handle(job)
			return nil
		})
	}
	_ = p.group.Wait()
}

func (p *Pool) handle(job Job) {
	ctx := logx.WithRun(p.ctx, job.Lead.ID, job.RunID)
	if p.runContext != nil {
		ctx = p.runContext(ctx, job.RunID)
	}
	log := logx.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("worker job panicked")
		}
	}()

	res := p.processor.ProcessLead(ctx, job.Lead, job.Message)
	if p.onResult != nil {
		p.onResult(job, res)
	}
}
