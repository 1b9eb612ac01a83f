package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sethvargo/go-retry"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	logx "github.com/tanpawarit/legal-lead-agents/pkg/logger"
	metricsx "github.com/tanpawarit/legal-lead-agents/pkg/metrics"
)

const outputPreviewRunes = 200

// Invoker performs one bounded, retried model call per agent invocation and
// reports every attempt to the execution logger.
type Invoker struct {
	client   contractx.ModelClient
	execLog  contractx.ExecutionLogger
	metrics  *metricsx.Recorder
	cfg      InvokerConfig
	defaults ModelDefaults

	now func() time.Time
}

var _ contractx.Invoker = (*Invoker)(nil)

type InvokerOption func(*Invoker)

func WithMetrics(rec *metricsx.Recorder) InvokerOption {
	return func(i *Invoker) {
		i.metrics = rec
	}
}

func WithModelDefaults(d ModelDefaults) InvokerOption {
	return func(i *Invoker) {
		i.defaults = d
	}
}

func WithClock(now func() time.Time) InvokerOption {
	return func(i *Invoker) {
		if now != nil {
			i.now = now
		}
	}
}

func NewInvoker(
	client contractx.ModelClient,
	execLog contractx.ExecutionLogger,
	cfg InvokerConfig,
	opts ...InvokerOption,
) (*Invoker, error) {
	if client == nil {
		return nil, errors.New("model client is required")
	}
	if execLog == nil {
		execLog = noopExecutionLogger{}
	}
	if err := cfg.normalized().Validate(); err != nil {
		return nil, err
	}

	inv := &Invoker{
		client:  client,
		execLog: execLog,
		cfg:     cfg.normalized(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	return inv, nil
}

func (i *Invoker) Invoke(ctx context.Context, req contractx.InvokeRequest) (contractx.InvocationResult, error) {
	persona := req.Persona
	agentID := strings.TrimSpace(persona.ID)
	if agentID == "" {
		return contractx.InvocationResult{}, fmt.Errorf("%w: persona id is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return contractx.InvocationResult{AgentID: agentID}, fmt.Errorf("%w: prompt is required", contractx.ErrValidation)
	}

	systemPrompt := req.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = persona.SystemPrompt
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return contractx.InvocationResult{AgentID: agentID}, fmt.Errorf("%w: persona=%s", contractx.ErrPromptMissing, agentID)
	}

	callTimeout := req.Options.Timeout
	if callTimeout <= 0 {
		callTimeout = i.cfg.CallTimeout
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = i.cfg.MaxTokens
	}
	modelName, temperature := i.defaults.resolve(persona, req.Options.Temperature)
	maxAttempts := i.cfg.MaxAttempts
	if req.Options.ExtraAttempts > 0 {
		maxAttempts += req.Options.ExtraAttempts
	}

	completionReq := contractx.CompletionRequest{
		AgentID:      agentID,
		Model:        modelName,
		SystemPrompt: systemPrompt,
		UserPrompt:   req.Prompt,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	}
	digest := inputDigest(systemPrompt, req.Prompt)
	log := logx.FromContext(ctx)

	var (
		attempt int
		resp    contractx.CompletionResponse
		lastErr *contractx.InvocationError
	)
	started := i.now()

	err := retry.Do(ctx, i.backoff(maxAttempts), func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		attemptStart := i.now()
		out, callErr := i.client.Complete(callCtx, completionReq)
		cancel()
		latency := i.now().Sub(attemptStart)

		if callErr == nil && strings.TrimSpace(out.Text) == "" {
			callErr = errEmptyCompletion
		}
		if callErr == nil {
			resp = out
			i.record(req, agentID, attempt, contractx.AttemptSucceeded, "", digest, out.Text, latency, out.TokensUsed)
			return nil
		}

		kind, retryable := classify(ctx, callErr)
		status := contractx.AttemptFailed
		if retryable && attempt < maxAttempts {
			status = contractx.AttemptRetrying
		}
		i.record(req, agentID, attempt, status, kind, digest, callErr.Error(), latency, 0)

		log.Debug().
			Str("agent_id", agentID).
			Int("attempt", attempt).
			Str("error_kind", string(kind)).
			Bool("retryable", retryable).
			Err(callErr).
			Msg("agent invocation attempt failed")

		lastErr = &contractx.InvocationError{
			Kind:      kind,
			AgentID:   agentID,
			Attempts:  attempt,
			Retryable: retryable,
			Err:       callErr,
		}
		if retryable {
			return retry.RetryableError(lastErr)
		}
		return lastErr
	})

	result := contractx.InvocationResult{
		AgentID:   agentID,
		LatencyMs: i.now().Sub(started).Milliseconds(),
		Attempts:  attempt,
	}
	if err == nil {
		result.Text = strings.TrimSpace(resp.Text)
		result.Success = true
		result.TokensUsed = resp.TokensUsed
		return result, nil
	}

	if lastErr == nil || (ctx.Err() != nil && !errors.Is(err, lastErr)) {
		// The invocation context ended before or between attempts.
		kind := contractx.KindModelError
		if errors.Is(err, context.DeadlineExceeded) {
			kind = contractx.KindTimeout
		}
		cause := err
		if lastErr != nil {
			cause = errors.Join(lastErr.Err, err)
		}
		lastErr = &contractx.InvocationError{Kind: kind, AgentID: agentID, Attempts: attempt, Err: cause}
	}
	result.ErrorKind = lastErr.Kind
	return result, lastErr
}

func (i *Invoker) backoff(maxAttempts int) retry.Backoff {
	b := retry.NewExponential(i.cfg.BaseDelay)
	if i.cfg.MaxDelay > 0 {
		b = retry.WithCappedDuration(i.cfg.MaxDelay, b)
	}
	if i.cfg.Jitter > 0 {
		b = retry.WithJitter(i.cfg.Jitter, b)
	}
	return retry.WithMaxRetries(uint64(maxAttempts-1), b) // #nosec G115 -- at least 1
}

func (i *Invoker) record(
	req contractx.InvokeRequest,
	agentID string,
	attempt int,
	status contractx.AttemptStatus,
	kind contractx.ErrorKind,
	digest string,
	output string,
	latency time.Duration,
	tokens int,
) {
	i.metrics.Attempt(agentID, string(status), tokens)
	i.execLog.Log(contractx.ExecutionLogEntry{
		LeadID:        req.LeadID,
		RunID:         req.RunID,
		AgentID:       agentID,
		Attempt:       attempt,
		Status:        status,
		ErrorKind:     kind,
		InputDigest:   digest,
		OutputPreview: preview(output),
		LatencyMs:     latency.Milliseconds(),
		TokensUsed:    tokens,
		Timestamp:     i.now().UTC(),
	})
}

func inputDigest(systemPrompt, prompt string) string {
	h := sha256.New()
	h.Write([]byte(systemPrompt))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= outputPreviewRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:outputPreviewRunes]) + "…"
}

type noopExecutionLogger struct{}

func (noopExecutionLogger) Log(contractx.ExecutionLogEntry) {}
