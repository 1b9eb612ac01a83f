package execlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type executionLogRow struct {
	bun.BaseModel `bun:"table:agent_execution_logs,alias:ael"`

	ID            int64     `bun:"id,pk,autoincrement"`
	LeadID        string    `bun:"lead_id,notnull"`
	RunID         string    `bun:"run_id,notnull"`
	AgentID       string    `bun:"agent_id,notnull"`
	Attempt       int       `bun:"attempt,notnull"`
	Status        string    `bun:"status,notnull"`
	ErrorKind     string    `bun:"error_kind,nullzero"`
	InputDigest   string    `bun:"input_digest,notnull"`
	OutputPreview string    `bun:"output_preview,nullzero"`
	LatencyMs     int64     `bun:"latency_ms,notnull"`
	TokensUsed    int       `bun:"tokens_used,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

func toRow(e contractx.ExecutionLogEntry) executionLogRow {
	return executionLogRow{
		LeadID:        e.LeadID,
		RunID:         e.RunID,
		AgentID:       e.AgentID,
		Attempt:       e.Attempt,
		Status:        string(e.Status),
		ErrorKind:     string(e.ErrorKind),
		InputDigest:   e.InputDigest,
		OutputPreview: e.OutputPreview,
		LatencyMs:     e.LatencyMs,
		TokensUsed:    e.TokensUsed,
		CreatedAt:     e.Timestamp.UTC(),
	}
}

// BunSink appends entries to the agent_execution_logs table.
type BunSink struct {
	db *bun.DB
}

// OpenBunSink connects to Postgres and makes sure the log table exists.
func OpenBunSink(ctx context.Context, dsn string) (*BunSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("execlog dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	sink := NewBunSink(bun.NewDB(sqldb, pgdialect.New()))
	if err := sink.Migrate(ctx); err != nil {
		_ = sink.Close()
		return nil, err
	}
	return sink, nil
}

func NewBunSink(db *bun.DB) *BunSink {
	return &BunSink{db: db}
}

func (s *BunSink) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*executionLogRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create agent_execution_logs: %w", err)
	}
	if _, err := s.db.NewCreateIndex().
		Model((*executionLogRow)(nil)).
		Index("agent_execution_logs_lead_run_idx").
		IfNotExists().
		Column("lead_id", "run_id").
		Exec(ctx); err != nil {
		return fmt.Errorf("create agent_execution_logs index: %w", err)
	}
	return nil
}

func (s *BunSink) Write(ctx context.Context, entries []contractx.ExecutionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]executionLogRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, toRow(e))
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("insert execution logs: %w", err)
	}
	return nil
}

func (s *BunSink) Close() error {
	return s.db.Close()
}
