package db

import (
	"database/sql"
	"fmt"
)

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int
	Issue     int
	Event     string
	Stage     string
	Detail    string
	Timestamp string
}

// AgentRun represents a row in the agent_runs table.
type AgentRun struct {
	ID         int
	Issue      int
	Stage      string
	Revision   int
	Status     string
	Confidence float64
	DurationMs int
	CostUSD    float64
	Timestamp  string
}

// LogEvent inserts a pipeline event. Satisfies pipeline.EventLogger.
func (d *DB) LogEvent(issue int, event, stage, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO pipeline_events (issue, event, stage, detail) VALUES (?, ?, ?, ?)`,
		issue, event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// RecordAgentRun inserts one agent invocation's accounting row.
func (d *DB) RecordAgentRun(run AgentRun) error {
	_, err := d.conn.Exec(
		`INSERT INTO agent_runs (issue, stage, revision, status, confidence, duration_ms, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.Issue, run.Stage, run.Revision, run.Status, run.Confidence, run.DurationMs, run.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("record agent run: %w", err)
	}
	return nil
}

// ListEvents returns events for an issue, oldest first. Limit 0 means all.
func (d *DB) ListEvents(issue, limit int) ([]PipelineEvent, error) {
	query := `SELECT id, issue, event, stage, detail, timestamp
		 FROM pipeline_events WHERE issue = ? ORDER BY id ASC`
	args := []any{issue}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipeline events: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var stage, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Issue, &e.Event, &stage, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		e.Stage = stage.String
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListAgentRuns returns agent run rows for an issue, oldest first.
func (d *DB) ListAgentRuns(issue int) ([]AgentRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, issue, stage, revision, status, confidence, duration_ms, cost_usd, timestamp
		 FROM agent_runs WHERE issue = ? ORDER BY id ASC`, issue)
	if err != nil {
		return nil, fmt.Errorf("list agent runs: %w", err)
	}
	defer rows.Close()

	var runs []AgentRun
	for rows.Next() {
		var r AgentRun
		var confidence, cost sql.NullFloat64
		var duration sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Issue, &r.Stage, &r.Revision, &r.Status, &confidence, &duration, &cost, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan agent run: %w", err)
		}
		r.Confidence = confidence.Float64
		r.DurationMs = int(duration.Int64)
		r.CostUSD = cost.Float64
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
