package execlog

import (
	"context"
	"errors"
	"sync"
	"time"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
	metricsx "github.com/tanpawarit/legal-lead-agents/pkg/metrics"
)

const (
	DropBufferFull = "buffer_full"
	DropSinkError  = "sink_error"
	DropClosed     = "closed"
)

type Config struct {
	BufferSize    int           `split_words:"true" default:"1024"`
	BatchSize     int           `split_words:"true" default:"64"`
	FlushInterval time.Duration `split_words:"true" default:"1s"`
	WriteTimeout  time.Duration `split_words:"true" default:"5s"`
	DSN           string        `envconfig:"DSN"`
}

func (c Config) Validate() error {
	if c.BufferSize <= 0 {
		return errors.New("execlog buffer size must be > 0")
	}
	if c.BatchSize <= 0 {
		return errors.New("execlog batch size must be > 0")
	}
	if c.FlushInterval <= 0 {
		return errors.New("execlog flush interval must be > 0")
	}
	return nil
}

// Sink persists a batch of entries. Implementations need not be goroutine safe:
// a Logger calls Write from a single worker.
type Sink interface {
	Write(ctx context.Context, entries []contractx.ExecutionLogEntry) error
	Close() error
}

// Logger is a best-effort asynchronous execution logger. Log never blocks; entries
// that cannot be buffered or persisted are dropped and counted.
type Logger struct {
	cfg     Config
	sink    Sink
	metrics *metricsx.Recorder

	mu     sync.RWMutex
	closed bool
	queue  chan contractx.ExecutionLogEntry
	done   chan struct{}
}

var _ contractx.ExecutionLogger = (*Logger)(nil)

func New(cfg Config, sink Sink, rec *metricsx.Recorder) (*Logger, error) {
	if sink == nil {
		return nil, errors.New("execlog sink is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	l := &Logger{
		cfg:     cfg,
		sink:    sink,
		metrics: rec,
		queue:   make(chan contractx.ExecutionLogEntry, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func (l *Logger) Log(entry contractx.ExecutionLogEntry) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.metrics.ExecLogDropped(DropClosed, 1)
		return
	}
	select {
	case l.queue <- entry:
	default:
		l.metrics.ExecLogDropped(DropBufferFull, 1)
	}
}

// Close stops accepting entries and waits for buffered ones to be flushed or for ctx to end.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return l.sink.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]contractx.ExecutionLogEntry, 0, l.cfg.BatchSize)
	for {
		select {
		case entry, ok := <-l.queue:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= l.cfg.BatchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (l *Logger) flush(batch []contractx.ExecutionLogEntry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()

	if err := l.sink.Write(ctx, batch); err != nil {
		l.metrics.ExecLogDropped(DropSinkError, len(batch))
		logx.FromContext(ctx).Debug().Err(err).Int("entries", len(batch)).Msg("execution log write failed")
		return
	}
	l.metrics.ExecLogWritten(len(batch))
}
