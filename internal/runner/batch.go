package runner

import (
	"fmt"

	"github.com/strato-net/issuefix/internal/pipeline"
)

// IssueResult is the outcome of one issue in a batch.
type IssueResult struct {
	Issue  int
	Status pipeline.Status
	Reason string
	Err    error
}

// Summary tallies a batch run.
type Summary struct {
	Results []IssueResult
	Success int
	Skipped int
	Failed  int
	Blocked int
	Errors  int
}

// Failures reports whether anything in the batch went wrong.
func (s *Summary) Failures() bool {
	return s.Failed > 0 || s.Blocked > 0 || s.Errors > 0
}

// ProcessAll runs the pipeline for each issue in order. One issue's
// failure never stops the rest of the batch.
func (c *Coordinator) ProcessAll(issues []int) *Summary {
	summary := &Summary{}
	for _, n := range issues {
		c.logf("=== Issue #%d ===", n)
		state, err := c.ProcessIssue(n)

		r := IssueResult{Issue: n, Err: err}
		if state != nil {
			r.Status = state.Status
			r.Reason = state.FailureReason
		}
		summary.Results = append(summary.Results, r)

		switch {
		case err != nil:
			summary.Errors++
			c.logf("Issue #%d error: %v", n, err)
		case state.Status == pipeline.StatusSuccess:
			summary.Success++
		case state.Status == pipeline.StatusSkipped:
			summary.Skipped++
		case state.Status == pipeline.StatusBlocked:
			summary.Blocked++
		default:
			summary.Failed++
		}
	}

	c.logf("")
	c.logf("Processed %d issues: %d success, %d skipped, %d blocked, %d failed, %d errors",
		len(issues), summary.Success, summary.Skipped, summary.Blocked, summary.Failed, summary.Errors)
	for _, r := range summary.Results {
		line := fmt.Sprintf("  #%d: %s", r.Issue, r.Status)
		if r.Err != nil {
			line = fmt.Sprintf("  #%d: error (%v)", r.Issue, r.Err)
		} else if r.Reason != "" {
			line += ": " + r.Reason
		}
		c.logf("%s", line)
	}
	return summary
}
