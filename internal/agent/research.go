package agent

import (
	"time"

	"github.com/strato-net/issuefix/internal/claude"
)

// Research investigates the codebase and produces the analysis the fix
// stage builds on.
type Research struct{}

func (a *Research) Name() string { return "research" }

func (a *Research) Execute(ctx *Context) *State {
	started := time.Now()

	vars := issueVars(ctx.Issue)
	vars["triage_summary"] = ctx.Previous["triage"].Str("summary")
	rendered, fail := renderStage(ctx, "research", vars)
	if fail != nil {
		return fail
	}

	result, fail := invoke(ctx, "research", "research", rendered)
	if fail != nil {
		return fail
	}

	data := claude.ExtractAny(result.Output, "root_cause", "summary")
	if data == nil {
		// Research findings live in the transcript even without structure;
		// the fix stage can still proceed on the issue alone.
		ctx.logf("research: no structured output, continuing with defaults")
		data = map[string]any{
			"root_cause": "",
			"summary":    "Research completed but produced no structured output",
		}
	}

	return &State{
		Agent:       a.Name(),
		Status:      StatusSuccess,
		Confidence:  normalizeConfidence(data["confidence"], 0.5),
		Data:        data,
		DurationMs:  result.DurationMs,
		CostUSD:     result.CostUSD,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
}
