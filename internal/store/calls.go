// ABOUTME: Tool-call audit records: one row per tools/call with outcome and timing
// ABOUTME: Supports filtered listing (newest first) and per-tool summaries

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a tool call ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeInvalid Outcome = "invalid_params"
	OutcomeError   Outcome = "error"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// maxArgumentsSize caps the stored argument JSON.
const maxArgumentsSize = 64 << 10

// ToolCall is one audited tools/call.
type ToolCall struct {
	ID        string        // UUID v4, also logged as call_id
	Tool      string        // tool name
	Transport string        // "stdio" or "http"
	Arguments string        // raw JSON arguments as received
	Outcome   Outcome       // ok, invalid_params or error
	Error     string        // operator-facing error text, empty on success
	Duration  time.Duration // handler wall time
	CreatedAt time.Time     // when the call finished
}

// CallFilter specifies filtering options for listing tool calls.
type CallFilter struct {
	Tool    *string    // filter by tool name
	Outcome *Outcome   // filter by outcome
	Since   *time.Time // calls at or after this time
	Limit   int        // max results (default 50, max 1000)
}

// ToolSummary aggregates calls for one tool.
type ToolSummary struct {
	Tool        string
	Calls       int
	Failures    int
	AvgDuration time.Duration
}

// RecordCall inserts a tool call. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) RecordCall(ctx context.Context, c *ToolCall) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Outcome == "" {
		c.Outcome = OutcomeOK
	}

	args := c.Arguments
	if len(args) > maxArgumentsSize {
		args = args[:maxArgumentsSize]
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (call_id, tool, transport, arguments, outcome, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.Tool,
		c.Transport,
		args,
		string(c.Outcome),
		c.Error,
		c.Duration.Milliseconds(),
		c.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting tool call: %w", err)
	}

	s.logger.Debug("recorded tool call",
		"call_id", c.ID,
		"tool", c.Tool,
		"outcome", c.Outcome,
	)
	return nil
}

// normalizeCallLimit applies default (50) and cap (1000) to the list limit.
func normalizeCallLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const listCallsQuery = `
	SELECT call_id, tool, transport, arguments, outcome, error, duration_ms, created_at
	FROM tool_calls
	WHERE (? IS NULL OR tool = ?)
	  AND (? IS NULL OR outcome = ?)
	  AND (? IS NULL OR created_at >= ?)
	ORDER BY created_at DESC
	LIMIT ?
`

// ListCalls returns tool calls matching the filter, newest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, f CallFilter) ([]ToolCall, error) {
	var outcome, since *string
	if f.Outcome != nil {
		o := string(*f.Outcome)
		outcome = &o
	}
	if f.Since != nil {
		ts := f.Since.UTC().Format(timeLayout)
		since = &ts
	}

	rows, err := s.db.QueryContext(ctx, listCallsQuery,
		f.Tool, f.Tool,
		outcome, outcome,
		since, since,
		normalizeCallLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying tool calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	calls := []ToolCall{}
	for rows.Next() {
		var c ToolCall
		var outcomeStr, createdStr string
		var durationMS int64
		if err := rows.Scan(
			&c.ID,
			&c.Tool,
			&c.Transport,
			&c.Arguments,
			&outcomeStr,
			&c.Error,
			&durationMS,
			&createdStr,
		); err != nil {
			return nil, fmt.Errorf("scanning tool call: %w", err)
		}
		c.Outcome = Outcome(outcomeStr)
		c.Duration = time.Duration(durationMS) * time.Millisecond
		c.CreatedAt, err = time.Parse(timeLayout, createdStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool calls: %w", err)
	}
	return calls, nil
}

// SummarizeCalls returns per-tool call counts since the given time, busiest first.
func (s *SQLiteStore) SummarizeCalls(ctx context.Context, since time.Time) ([]ToolSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 'ok' THEN 0 ELSE 1 END),
		       CAST(AVG(duration_ms) AS INTEGER)
		FROM tool_calls
		WHERE created_at >= ?
		GROUP BY tool
		ORDER BY COUNT(*) DESC, tool ASC
	`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("summarizing tool calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summaries := []ToolSummary{}
	for rows.Next() {
		var ts ToolSummary
		var avgMS int64
		if err := rows.Scan(&ts.Tool, &ts.Calls, &ts.Failures, &avgMS); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		ts.AvgDuration = time.Duration(avgMS) * time.Millisecond
		summaries = append(summaries, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summaries: %w", err)
	}
	return summaries, nil
}
