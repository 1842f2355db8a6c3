package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/strato-net/issuefix/internal/claude"
)

// Fix implements the issue fix in the working tree. Revision > 0 switches
// it to revision mode, where the prompt carries the review feedback and
// the current diff instead of the research briefing.
type Fix struct {
	Revision int
}

// NewRevision returns a fix agent for revision pass n (1-based).
func NewRevision(n int) *Fix { return &Fix{Revision: n} }

func (a *Fix) Name() string { return "fix" }

// artifact names the prompt and log files. Revisions get their own files
// so every attempt stays auditable.
func (a *Fix) artifact() string {
	if a.Revision > 0 {
		return fmt.Sprintf("fix-revision-%d", a.Revision)
	}
	return "fix"
}

func (a *Fix) Execute(ctx *Context) *State {
	started := time.Now()

	var rendered string
	var fail *State
	if a.Revision > 0 {
		rendered, fail = a.renderRevision(ctx)
	} else {
		rendered, fail = a.renderInitial(ctx)
	}
	if fail != nil {
		return fail
	}

	result, fail := invoke(ctx, "fix", a.artifact(), rendered)
	if fail != nil {
		return fail
	}

	data := claude.ExtractAny(result.Output, "fix_applied", "files_modified", "files_changed")
	if data == nil {
		ctx.logf("fix: no structured output, assuming no changes")
		data = map[string]any{
			"summary": "Fix completed but produced no structured output",
		}
	}

	files := normalizeFiles(data)
	data["files_changed"] = files
	if v, ok := data["fix_applied"]; ok {
		data["fix_applied"] = asBool(v, true)
	}

	status := StatusSuccess
	if len(files) == 0 {
		status = StatusSkipped
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

func (a *Fix) renderInitial(ctx *Context) (string, *State) {
	vars := issueVars(ctx.Issue)
	vars["research_summary"] = researchBriefing(ctx.Previous["research"])
	return renderStage(ctx, "fix", vars)
}

func (a *Fix) renderRevision(ctx *Context) (string, *State) {
	review := ctx.Previous["review"]
	research := ctx.Previous["research"]
	previous := ctx.Previous["fix"]

	diff := ""
	if ctx.Diff != nil {
		d, err := ctx.Diff()
		if err != nil {
			ctx.logf("fix: could not read working diff: %v", err)
		} else {
			diff = d
		}
	}

	vars := issueVars(ctx.Issue)
	vars["revision"] = fmt.Sprintf("%d", a.Revision)
	vars["review_verdict"] = review.Str("verdict")
	vars["review_confidence"] = fmt.Sprintf("%.2f", confidenceOf(review))
	vars["review_concerns"] = bulletList(review.Strs("concerns"))
	vars["review_suggestions"] = bulletList(review.Strs("suggestions"))
	vars["previous_files"] = strings.Join(previous.Strs("files_changed"), ", ")
	vars["working_diff"] = diff
	vars["root_cause"] = research.Str("root_cause")
	vars["patterns_to_follow"] = bulletList(research.Strs("patterns_to_follow"))
	return renderStage(ctx, "fix-revision", vars)
}

func confidenceOf(s *State) float64 {
	if s == nil {
		return 0
	}
	return s.Confidence
}

// researchBriefing flattens the research findings into the prose block
// the fix prompt embeds.
func researchBriefing(research *State) string {
	if research == nil || research.Data == nil {
		return "No research findings available."
	}
	var b strings.Builder
	if rc := research.Str("root_cause"); rc != "" {
		fmt.Fprintf(&b, "Root cause: %s\n\n", rc)
	}
	if pf := research.Str("proposed_fix"); pf != "" {
		fmt.Fprintf(&b, "Proposed fix: %s\n\n", pf)
	}
	if areas := research.Strs("affected_areas"); len(areas) > 0 {
		fmt.Fprintf(&b, "Affected areas:\n%s\n", bulletList(areas))
	}
	if patterns := research.Strs("patterns_to_follow"); len(patterns) > 0 {
		fmt.Fprintf(&b, "Patterns to follow:\n%s\n", bulletList(patterns))
	}
	if ts := research.Str("test_strategy"); ts != "" {
		fmt.Fprintf(&b, "Test strategy: %s\n", ts)
	}
	if b.Len() == 0 {
		return research.Str("summary")
	}
	return strings.TrimSpace(b.String())
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
