package execlog

import (
	"context"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

// LogSink writes entries as structured log lines. Used when no database is configured.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "execlog").Logger()}
}

func (s *LogSink) Write(_ context.Context, entries []contractx.ExecutionLogEntry) error {
	for _, e := range entries {
		s.log.Info().
			Str("lead_id", e.LeadID).
			Str("run_id", e.RunID).
			Str("agent_id", e.AgentID).
			Int("attempt", e.Attempt).
			Str("status", string(e.Status)).
			Str("error_kind", string(e.ErrorKind)).
			Str("input_digest", e.InputDigest).
			Str("output_preview", e.OutputPreview).
			Int64("latency_ms", e.LatencyMs).
			Int("tokens_used", e.TokensUsed).
			Time("timestamp", e.Timestamp).
			Msg("agent attempt")
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
