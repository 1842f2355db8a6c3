// Package analytics aggregates the SQLite event log into fleet-level
// stats: how often the pipeline ships, where it stalls, what each stage
// costs.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// StageStats holds per-stage aggregates over agent_runs.
type StageStats struct {
	Stage         string  `json:"stage"`
	Runs          int     `json:"runs"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgMinutes    float64 `json:"avg_minutes"`
	P95Minutes    float64 `json:"p95_minutes"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
}

// QueryStageStats returns per-stage run counts, confidence averages,
// duration stats, and cost. since filters on the row timestamp when
// non-empty ("YYYY-MM-DD" or full datetime).
func QueryStageStats(database DB, since string) ([]StageStats, error) {
	query := `SELECT stage, confidence, duration_ms, cost_usd FROM agent_runs WHERE status = 'success'`
	args := []any{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage stats: %w", err)
	}
	defer rows.Close()

	type acc struct {
		confidences []float64
		minutes     []float64
		cost        float64
	}
	byStage := make(map[string]*acc)
	for rows.Next() {
		var stage string
		var confidence, cost sql.NullFloat64
		var duration sql.NullInt64
		if err := rows.Scan(&stage, &confidence, &duration, &cost); err != nil {
			return nil, fmt.Errorf("scan stage stats: %w", err)
		}
		a := byStage[stage]
		if a == nil {
			a = &acc{}
			byStage[stage] = a
		}
		if confidence.Valid {
			a.confidences = append(a.confidences, confidence.Float64)
		}
		if duration.Valid {
			a.minutes = append(a.minutes, float64(duration.Int64)/60000.0)
		}
		a.cost += cost.Float64
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageStats
	for stage, a := range byStage {
		sort.Float64s(a.minutes)
		results = append(results, StageStats{
			Stage:         stage,
			Runs:          len(a.minutes),
			AvgConfidence: round2(avg(a.confidences)),
			AvgMinutes:    round2(avg(a.minutes)),
			P95Minutes:    round2(percentile(a.minutes, 95)),
			TotalCostUSD:  round2(a.cost),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// Outcome holds the tally for one terminal pipeline status.
type Outcome struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// QueryOutcomes tallies terminal pipeline statuses from
// pipeline_completed events.
func QueryOutcomes(database DB, since string) ([]Outcome, error) {
	query := `SELECT detail, COUNT(*) FROM pipeline_events WHERE event = 'pipeline_completed'`
	args := []any{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY detail ORDER BY detail`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.Status, &o.Count); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// RevisionStats summarizes how hard the fix/review loop works.
type RevisionStats struct {
	FixRuns        int     `json:"fix_runs"`
	Revisions      int     `json:"revisions"`
	RevisionsPerFix float64 `json:"revisions_per_fix"`
}

// QueryRevisionStats reports how many fix attempts needed revisions.
func QueryRevisionStats(database DB, since string) (*RevisionStats, error) {
	query := `SELECT
			SUM(CASE WHEN revision = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN revision > 0 THEN 1 ELSE 0 END)
		FROM agent_runs WHERE stage = 'fix'`
	args := []any{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	var fixes, revisions sql.NullInt64
	if err := database.Conn().QueryRow(query, args...).Scan(&fixes, &revisions); err != nil {
		return nil, fmt.Errorf("query revision stats: %w", err)
	}

	stats := &RevisionStats{
		FixRuns:   int(fixes.Int64),
		Revisions: int(revisions.Int64),
	}
	if stats.FixRuns > 0 {
		stats.RevisionsPerFix = round2(float64(stats.Revisions) / float64(stats.FixRuns))
	}
	return stats, nil
}

// QueryTotalCost sums claude spend across all agent runs.
func QueryTotalCost(database DB, since string) (float64, error) {
	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM agent_runs`
	args := []any{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}

	var total float64
	if err := database.Conn().QueryRow(query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("query total cost: %w", err)
	}
	return round2(total), nil
}

func avg(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// percentile expects xs sorted ascending.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(xs)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(xs) {
		idx = len(xs) - 1
	}
	return xs[idx]
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
