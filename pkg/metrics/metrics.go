package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lead_pipeline"

// Recorder groups the collectors the pipeline reports to. A nil *Recorder is a no-op.
type Recorder struct {
	registry *prometheus.Registry

	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	attempts         *prometheus.CounterVec
	tokens           *prometheus.CounterVec
	execlogDropped   *prometheus.CounterVec
	execlogWritten   prometheus.Counter
	toolDispatches   *prometheus.CounterVec
	workerQueueDepth prometheus.Gauge
	workerRejected   prometheus.Counter
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal status.",
		}, []string{"status", "failure_kind"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_invocation_attempts_total",
			Help:      "Model invocation attempts by agent and outcome.",
		}, []string{"agent", "status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tokens_total",
			Help:      "Tokens reported by the model provider per agent.",
		}, []string{"agent"}),
		execlogDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execlog_dropped_total",
			Help:      "Execution log entries dropped without being persisted.",
		}, []string{"reason"}),
		execlogWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execlog_written_total",
			Help:      "Execution log entries persisted by the sink.",
		}),
		toolDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_dispatches_total",
			Help:      "Tool dispatches by tool id and outcome.",
		}, []string{"tool", "success"}),
		workerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Lead runs waiting for a worker slot.",
		}),
		workerRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_rejected_total",
			Help:      "Lead runs rejected because the queue was full or closed.",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.runs,
		r.runDuration,
		r.attempts,
		r.tokens,
		r.execlogDropped,
		r.execlogWritten,
		r.toolDispatches,
		r.workerQueueDepth,
		r.workerRejected,
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) RunFinished(status, failureKind string, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status, failureKind).Inc()
	r.runDuration.Observe(d.Seconds())
}

func (r *Recorder) Attempt(agent, status string, tokens int) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(agent, status).Inc()
	if tokens > 0 {
		r.tokens.WithLabelValues(agent).Add(float64(tokens))
	}
}

func (r *Recorder) ExecLogDropped(reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.execlogDropped.WithLabelValues(reason).Add(float64(n))
}

func (r *Recorder) ExecLogWritten(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.execlogWritten.Add(float64(n))
}

func (r *Recorder) ToolDispatched(tool string, success bool) {
	if r == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	r.toolDispatches.WithLabelValues(tool, label).Inc()
}

func (r *Recorder) QueueDepth(n int) {
	if r == nil {
		return
	}
	r.workerQueueDepth.Set(float64(n))
}

func (r *Recorder) WorkerRejected() {
	if r == nil {
		return
	}
	r.workerRejected.Inc()
}

// ExecLogDroppedCount exposes the drop counter for tests and diagnostics.
func (r *Recorder) ExecLogDroppedCount(reason string) prometheus.Counter {
	if r == nil {
		return detachedCounter()
	}
	return r.execlogDropped.WithLabelValues(reason)
}

// AttemptCount exposes the attempt counter for tests and diagnostics.
func (r *Recorder) AttemptCount(agent, status string) prometheus.Counter {
	if r == nil {
		return detachedCounter()
	}
	return r.attempts.WithLabelValues(agent, status)
}

// detachedCounter is registered nowhere; a nil Recorder hands it out so callers never see nil.
func detachedCounter() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: "detached_total"})
}
