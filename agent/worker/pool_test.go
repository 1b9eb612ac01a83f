package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

type blockingProcessor struct {
	release  chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{release: make(chan struct{})}
}

func (b *blockingProcessor) ProcessLead(ctx context.Context, lead contractx.Lead, message string) contractx.PipelineResult {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		seen := b.maxSeen.Load()
		if n <= seen || b.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	b.calls.Add(1)

	select {
	case <-b.release:
	case <-ctx.Done():
		return contractx.PipelineResult{LeadID: lead.ID, Status: contractx.RunFailed, FailureReason: ctx.Err().Error()}
	}
	return contractx.PipelineResult{LeadID: lead.ID, Status: contractx.RunCompleted, FinalMessage: message}
}

func job(id string) Job {
	return Job{RunID: "run-" + id, Lead: contractx.Lead{ID: id, Message: "hi"}}
}

func TestPoolProcessesAllJobsBeforeShutdown(t *testing.T) {
	t.Parallel()

	proc := newBlockingProcessor()
	close(proc.release)

	var mu sync.Mutex
	seen := map[string]contractx.RunStatus{}
	pool, err := New(proc, Config{Concurrency: 3, QueueSize: 16}, WithResultFunc(func(j Job, res contractx.PipelineResult) {
		mu.Lock()
		defer mu.Unlock()
		seen[j.Lead.ID] = res.Status
	}))
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, pool.Submit(job(id)))
	}
	require.NoError(t, pool.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 5)
	for id, status := range seen {
		assert.Equal(t, contractx.RunCompleted, status, id)
	}
}

func TestPoolRespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	proc := newBlockingProcessor()
	pool, err := New(proc, Config{Concurrency: 2, QueueSize: 16})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Submit(job(string(rune('a'+i)))))
	}
	require.Eventually(t, func() bool { return proc.inFlight.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 2, proc.inFlight.Load())

	close(proc.release)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.EqualValues(t, 2, proc.maxSeen.Load())
	assert.EqualValues(t, 6, proc.calls.Load())
}

func TestPoolRejectsWhenQueueIsFull(t *testing.T) {
	t.Parallel()

	proc := newBlockingProcessor()
	pool, err := New(proc, Config{Concurrency: 1, QueueSize: 1})
	require.NoError(t, err)
	defer func() {
		close(proc.release)
		_ = pool.Shutdown(context.Background())
	}()

	var rejected error
	for i := 0; i < 10 && rejected == nil; i++ {
		rejected = pool.Submit(job(string(rune('a' + i))))
		time.Sleep(5 * time.Millisecond)
	}
	require.ErrorIs(t, rejected, ErrQueueFull)
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	t.Parallel()

	pool, err := New(newBlockingProcessor(), Config{Concurrency: 1, QueueSize: 1})
	require.NoError(t, err)
	require.NoError(t, pool.Shutdown(context.Background()))

	require.ErrorIs(t, pool.Submit(job("late")), ErrPoolClosed)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPoolShutdownDeadlineCancelsRunningJobs(t *testing.T) {
	t.Parallel()

	proc := newBlockingProcessor()
	var canceled atomic.Bool
	pool, err := New(proc, Config{Concurrency: 1, QueueSize: 4}, WithResultFunc(func(_ Job, res contractx.PipelineResult) {
		if res.Status == contractx.RunFailed {
			canceled.Store(true)
		}
	}))
	require.NoError(t, err)
	require.NoError(t, pool.Submit(job("slow")))
	require.Eventually(t, func() bool { return proc.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, pool.Shutdown(ctx), context.DeadlineExceeded)
	assert.True(t, canceled.Load())
}

func TestPoolTagsRunContext(t *testing.T) {
	t.Parallel()

	type key struct{}
	got := make(chan string, 1)
	proc := processorFunc(func(ctx context.Context, lead contractx.Lead, _ string) contractx.PipelineResult {
		got <- ctx.Value(key{}).(string)
		return contractx.PipelineResult{LeadID: lead.ID}
	})

	pool, err := New(proc, Config{Concurrency: 1, QueueSize: 1}, WithRunContext(func(ctx context.Context, runID string) context.Context {
		return context.WithValue(ctx, key{}, runID)
	}))
	require.NoError(t, err)
	require.NoError(t, pool.Submit(job("x")))
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, "run-x", <-got)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	assert.Error(t, Config{Concurrency: 0, QueueSize: 1}.Validate())
	assert.Error(t, Config{Concurrency: 1, QueueSize: 0}.Validate())
	assert.NoError(t, Config{Concurrency: 8, QueueSize: 256}.Validate())
}

type processorFunc func(ctx context.Context, lead contractx.Lead, message string) contractx.PipelineResult

func (f processorFunc) ProcessLead(ctx context.Context, lead contractx.Lead, message string) contractx.PipelineResult {
	return f(ctx, lead, message)
}
