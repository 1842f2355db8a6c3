package agent

import (
	"strings"
	"time"

	"github.com/strato-net/issuefix/internal/claude"
)

// Review verdicts.
const (
	VerdictApprove        = "APPROVE"
	VerdictRequestChanges = "REQUEST_CHANGES"
	VerdictBlock          = "BLOCK"
)

// Review judges the fix currently in the working tree. Unlike the other
// stages it has no usable fallback: a review without a parseable verdict
// is a failure, because the verdict gates whether the change ships.
type Review struct{}

func (a *Review) Name() string { return "review" }

func (a *Review) Execute(ctx *Context) *State {
	started := time.Now()

	vars := issueVars(ctx.Issue)
	vars["fix_summary"] = ctx.Previous["fix"].Str("summary")
	rendered, fail := renderStage(ctx, "review", vars)
	if fail != nil {
		return fail
	}

	result, fail := invoke(ctx, "review", "review", rendered)
	if fail != nil {
		return fail
	}

	data := claude.Extract(result.Output, "verdict")
	if data == nil {
		return failedState(a.Name(), started, "review produced no structured verdict")
	}

	verdict, _ := data["verdict"].(string)
	verdict = strings.ToUpper(strings.TrimSpace(verdict))
	data["verdict"] = verdict

	var status Status
	switch verdict {
	case VerdictApprove:
		status = StatusSuccess
	case VerdictRequestChanges, VerdictBlock:
		status = StatusSkipped
	default:
		return failedState(a.Name(), started, "review returned unknown verdict "+verdict)
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
