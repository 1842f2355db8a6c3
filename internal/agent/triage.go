package agent

import (
	"strings"
	"time"

	"github.com/strato-net/issuefix/internal/claude"
)

// Triage classification values.
const (
	ClassFixable            = "FIXABLE"
	ClassNeedsHuman         = "NEEDS_HUMAN"
	ClassNeedsClarification = "NEEDS_CLARIFICATION"
	ClassOutOfScope         = "OUT_OF_SCOPE"
	ClassDuplicate          = "DUPLICATE"
)

// Triage decides whether an issue is machine-actionable at all.
type Triage struct{}

func (a *Triage) Name() string { return "triage" }

func (a *Triage) Execute(ctx *Context) *State {
	started := time.Now()

	vars := issueVars(ctx.Issue)
	vars["issue_labels"] = strings.Join(ctx.Issue.Labels, ", ")
	rendered, fail := renderStage(ctx, "triage", vars)
	if fail != nil {
		return fail
	}

	result, fail := invoke(ctx, "triage", "triage", rendered)
	if fail != nil {
		return fail
	}

	data := claude.Extract(result.Output, "classification")
	if data == nil {
		// No structured verdict: route to a human rather than guess.
		ctx.logf("triage: no structured output, defaulting to %s", ClassNeedsHuman)
		data = map[string]any{
			"classification": ClassNeedsHuman,
			"summary":        "Triage produced no structured output",
		}
	}

	classification, _ := data["classification"].(string)
	classification = strings.ToUpper(strings.TrimSpace(classification))
	data["classification"] = classification

	status := StatusSkipped
	if classification == ClassFixable {
		status = StatusSuccess
	}

	return &State{
		Agent:       a.Name(),
		Status:      status,
		Confidence:  normalizeConfidence(data["confidence"], 0.5),
		Data:        data,
		DurationMs:  result.DurationMs,
		CostUSD:     result.CostUSD,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
}
