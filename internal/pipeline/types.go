// Package pipeline drives the triage → research → fix → review state
// machine for one issue and persists every transition to the run
// directory, so a crash at any point leaves an inspectable record.
package pipeline

import "time"

// Status is the lifecycle state of a pipeline run.
type Status string

const (
	StatusRunning Status = "running"
	// StatusSuccess: review approved the fix.
	StatusSuccess Status = "success"
	// StatusSkipped: nothing to do (non-actionable issue, or the fix
	// agent changed no files on its first pass).
	StatusSkipped Status = "skipped"
	// StatusFailed: an agent invocation broke.
	StatusFailed Status = "failed"
	// StatusBlocked: work was done but cannot ship (review BLOCK,
	// revision budget exhausted, or a revision that applied nothing).
	StatusBlocked Status = "blocked"
)

// Terminal reports whether a status ends the run.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// State is the durable pipeline snapshot. Every transition overwrites
// pipeline.state.json with the complete struct; there are no partial
// updates to reason about.
type State struct {
	IssueNumber     int       `json:"issue_number"`
	Status          Status    `json:"status"`
	CurrentAgent    string    `json:"current_agent,omitempty"`
	AgentsCompleted []string  `json:"agents_completed"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`

	// AggregateConfidence is set only on success; a skipped, failed, or
	// blocked run has no meaningful overall confidence.
	AggregateConfidence *float64           `json:"aggregate_confidence,omitempty"`
	ConfidenceBreakdown map[string]float64 `json:"confidence_breakdown,omitempty"`
}

// NewState returns a running state for an issue.
func NewState(issueNumber int) *State {
	return &State{
		IssueNumber:     issueNumber,
		Status:          StatusRunning,
		AgentsCompleted: []string{},
		StartedAt:       time.Now(),
	}
}

// MarkCompleted records a terminal status exactly once.
func (s *State) MarkCompleted(status Status, reason string) {
	s.Status = status
	s.CurrentAgent = ""
	s.FailureReason = reason
	now := time.Now()
	s.CompletedAt = &now
	s.DurationSeconds = now.Sub(s.StartedAt).Seconds()
}

// DefaultWeights is the per-stage contribution to aggregate confidence.
var DefaultWeights = map[string]float64{
	"triage":   0.15,
	"research": 0.20,
	"fix":      0.35,
	"review":   0.30,
}

// DefaultMaxFixIterations bounds the fix/review loop: one initial fix
// plus two revisions.
const DefaultMaxFixIterations = 3
