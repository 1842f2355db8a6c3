package agent

import "time"

// Status is the outcome of one agent invocation.
type Status string

const (
	// StatusSuccess means the agent completed its capability.
	StatusSuccess Status = "success"
	// StatusSkipped means the agent ran but determined no action applies:
	// a non-actionable triage classification, a fix that changed nothing,
	// or a review verdict other than approval.
	StatusSkipped Status = "skipped"
	// StatusFailed means the invocation itself broke: process error,
	// timeout, or unusable output where output is mandatory.
	StatusFailed Status = "failed"
)

// State is the immutable record of one agent invocation. Agents hand
// information forward only through this record.
type State struct {
	Agent       string         `json:"agent"`
	Status      Status         `json:"status"`
	Confidence  float64        `json:"confidence"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
	CostUSD     float64        `json:"cost_usd,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

func failedState(agent string, started time.Time, msg string) *State {
	return &State{
		Agent:       agent,
		Status:      StatusFailed,
		Error:       msg,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
}

// Str returns a string field from the state's data, or "" when absent.
func (s *State) Str(key string) string {
	if s == nil || s.Data == nil {
		return ""
	}
	v, _ := s.Data[key].(string)
	return v
}

// Strs returns a string-slice field from the state's data.
func (s *State) Strs(key string) []string {
	if s == nil || s.Data == nil {
		return nil
	}
	return toStringSlice(s.Data[key])
}
