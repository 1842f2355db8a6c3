// Package runner coordinates one pipeline run end to end: prepare the
// working clone, drive the agent pipeline, then ship the result as a PR
// or report why nothing shipped.
package runner

import (
	"fmt"
	"io"
	"strings"

	"github.com/strato-net/issuefix/internal/agent"
	"github.com/strato-net/issuefix/internal/claude"
	"github.com/strato-net/issuefix/internal/config"
	"github.com/strato-net/issuefix/internal/db"
	"github.com/strato-net/issuefix/internal/git"
	"github.com/strato-net/issuefix/internal/github"
	"github.com/strato-net/issuefix/internal/pipeline"
)

// BranchPrefix names the per-issue fix branches.
const BranchPrefix = "claude-auto-fix-"

// Coordinator processes issues one at a time against a single clone.
type Coordinator struct {
	Cfg *config.Config
	GH  *github.Client
	Git *git.Client
	// DB is optional; nil disables event logging.
	DB  *db.DB
	Run agent.RunFunc
	Out io.Writer
}

// New wires a coordinator with the production claude runner.
func New(cfg *config.Config, gh *github.Client, g *git.Client, database *db.DB, out io.Writer) *Coordinator {
	return &Coordinator{Cfg: cfg, GH: gh, Git: g, DB: database, Run: claude.Run, Out: out}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.Out != nil {
		fmt.Fprintf(c.Out, format+"\n", args...)
	}
}

func branchFor(issue int) string {
	return fmt.Sprintf("%s%d", BranchPrefix, issue)
}

// ProcessIssue runs the full pipeline for one issue. The returned state
// is non-nil whenever the pipeline itself ran; the error covers
// environment problems that stopped it from running or shipping.
func (c *Coordinator) ProcessIssue(issueNumber int) (*pipeline.State, error) {
	branch := branchFor(issueNumber)

	dirty, err := c.Git.IsDirty()
	if err != nil {
		return nil, fmt.Errorf("check working tree: %w", err)
	}
	if dirty {
		return nil, fmt.Errorf("working tree at %s has uncommitted changes; refusing to run", c.Cfg.ProjectDir)
	}

	issue, err := c.GH.GetIssue(issueNumber)
	if err != nil {
		return nil, err
	}
	c.logf("Issue #%d: %s", issue.Number, issue.Title)

	store, err := pipeline.NewStore(c.Cfg.RunsDir, issueNumber)
	if err != nil {
		return nil, err
	}
	if err := github.CacheIssue(issue, store.Dir()); err != nil {
		return nil, err
	}

	// A stale PR from an earlier attempt would collide with the branch
	// recreate below.
	if pr, err := c.GH.FindOpenPR(branch); err != nil {
		return nil, err
	} else if pr != nil {
		c.logf("Closing stale PR #%d", pr.Number)
		if err := c.GH.ClosePR(pr.Number); err != nil {
			return nil, err
		}
	}

	if err := c.Git.SyncToRemote("origin", c.Cfg.BaseBranch); err != nil {
		return nil, err
	}
	c.Git.DeleteBranch(branch)
	c.Git.DeleteRemoteBranch("origin", branch)
	if err := c.Git.CreateBranch(branch); err != nil {
		return nil, err
	}

	var events pipeline.EventLogger
	var runs pipeline.RunRecorder
	if c.DB != nil {
		events = c.DB
		runs = c.DB
	}
	m := pipeline.NewMachine(pipeline.Opts{
		Issue:            issue,
		Store:            store,
		Workdir:          c.Cfg.ProjectDir,
		PromptsDir:       c.Cfg.PromptsDir,
		Run:              c.Run,
		Diff:             c.workingDiff,
		Timeouts:         c.Cfg.StageTimeouts(),
		Weights:          c.Cfg.Weights,
		MaxFixIterations: c.Cfg.MaxFixIterations,
		Events:           events,
		Runs:             runs,
		Progress:         c.Out,
	})

	state, err := m.Run()
	if err != nil {
		c.Git.Cleanup(c.Cfg.BaseBranch, branch)
		return state, err
	}

	switch state.Status {
	case pipeline.StatusSuccess:
		err = c.shipFix(issue, branch, state, store, m.States())
	case pipeline.StatusSkipped:
		err = c.reportSkip(issue, branch, state, m.States())
	default:
		err = c.reportFailure(issue, branch, state)
	}
	return state, err
}

// workingDiff prefers the uncommitted diff; once the tree is committed it
// falls back to comparing against the remote base.
func (c *Coordinator) workingDiff() (string, error) {
	diff, err := c.Git.Diff()
	if err != nil {
		return "", err
	}
	if diff != "" {
		return diff, nil
	}
	return c.Git.DiffAgainst("origin/" + c.Cfg.BaseBranch)
}

// shipFix commits whatever the fix agent left in the tree and opens a PR.
func (c *Coordinator) shipFix(issue *github.Issue, branch string, state *pipeline.State, store *pipeline.Store, states map[string]*agent.State) error {
	fix := states["fix"]

	if !c.Git.HasChanges() && !c.Git.HasUnpushedCommits("origin", branch) {
		// Review approved but the tree holds nothing new; report rather
		// than open an empty PR, and downgrade the run so batch tallies
		// count it as not shipped.
		c.logf("Issue #%d: pipeline succeeded but there is nothing to push", issue.Number)
		comment := fmt.Sprintf("Automated fix concluded no new change was needed: %s", fix.Str("summary"))
		if err := c.GH.AddIssueComment(issue.Number, comment); err != nil {
			c.logf("warning: could not comment on issue #%d: %v", issue.Number, err)
		}
		c.Git.Cleanup(c.Cfg.BaseBranch, branch)

		state.Status = pipeline.StatusSkipped
		state.FailureReason = "Review approved but no new changes were needed"
		state.AggregateConfidence = nil
		state.ConfidenceBreakdown = nil
		if err := store.SavePipeline(state); err != nil {
			c.logf("warning: persist downgraded state: %v", err)
		}
		return nil
	}

	if c.Git.HasChanges() {
		if err := c.Git.Add(".env", "*.env"); err != nil {
			return err
		}
		msg := fmt.Sprintf("Fix #%d: %s", issue.Number, issue.Title)
		if err := c.Git.Commit(msg); err != nil {
			return err
		}
	}
	if err := c.Git.Push("origin", branch); err != nil {
		return err
	}

	confidence := 0.0
	if state.AggregateConfidence != nil {
		confidence = *state.AggregateConfidence
	}
	pr, err := c.GH.CreatePR(github.PRCreateOpts{
		Title:  fmt.Sprintf("Fix #%d: %s", issue.Number, issue.Title),
		Body:   prBody(issue, state, fix),
		Head:   branch,
		Base:   c.Cfg.BaseBranch,
		Draft:  c.Cfg.DraftPRs,
		Labels: []string{"auto-fix", ConfidenceLabel(confidence)},
	})
	if err != nil {
		return err
	}
	c.logf("Opened PR %s (confidence %.2f)", pr.URL, confidence)

	comment := fmt.Sprintf("Automated fix is up for review in %s (confidence %.2f).", pr.URL, confidence)
	if err := c.GH.AddIssueComment(issue.Number, comment); err != nil {
		c.logf("warning: could not comment on issue #%d: %v", issue.Number, err)
	}

	if err := c.Git.ForceCheckout(c.Cfg.BaseBranch); err != nil {
		c.logf("warning: could not return to %s: %v", c.Cfg.BaseBranch, err)
	}
	return nil
}

func (c *Coordinator) reportSkip(issue *github.Issue, branch string, state *pipeline.State, states map[string]*agent.State) error {
	c.logf("Issue #%d skipped: %s", issue.Number, state.FailureReason)
	if err := c.GH.AddIssueComment(issue.Number, skipComment(state, states)); err != nil {
		c.logf("warning: could not comment on issue #%d: %v", issue.Number, err)
	}
	c.Git.Cleanup(c.Cfg.BaseBranch, branch)
	return nil
}

// skipComment explains a skip on the issue thread, carrying the agents'
// analysis so nobody has to dig through the run directory to learn why
// no fix is coming.
func skipComment(state *pipeline.State, states map[string]*agent.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated fix skipped this issue: %s\n", state.FailureReason)

	triage := states["triage"]
	if class := triage.Str("classification"); class != "" && class != agent.ClassFixable {
		fmt.Fprintf(&b, "\n**Triage: %s**\n", class)
		if s := triage.Str("summary"); s != "" {
			fmt.Fprintf(&b, "\n%s\n", s)
		}
		if a := triage.Str("full_analysis"); a != "" {
			fmt.Fprintf(&b, "\n%s\n", a)
		}
		return b.String()
	}

	// The issue was fixable but the fix agent changed nothing; surface
	// what research found so a human can pick it up from there.
	research := states["research"]
	if rc := research.Str("root_cause"); rc != "" {
		fmt.Fprintf(&b, "\n**Root cause**\n%s\n", rc)
	}
	if s := research.Str("summary"); s != "" {
		fmt.Fprintf(&b, "\n%s\n", s)
	}
	if s := states["fix"].Str("summary"); s != "" {
		fmt.Fprintf(&b, "\n**Fix agent**\n%s\n", s)
	}
	return b.String()
}

func (c *Coordinator) reportFailure(issue *github.Issue, branch string, state *pipeline.State) error {
	c.logf("Issue #%d %s: %s", issue.Number, state.Status, state.FailureReason)
	comment := fmt.Sprintf("Automated fix did not produce a shippable change (%s): %s", state.Status, state.FailureReason)
	if err := c.GH.AddIssueComment(issue.Number, comment); err != nil {
		c.logf("warning: could not comment on issue #%d: %v", issue.Number, err)
	}
	c.Git.Cleanup(c.Cfg.BaseBranch, branch)
	return nil
}

// ConfidenceLabel maps an aggregate confidence to its PR label band.
func ConfidenceLabel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high-confidence"
	case confidence >= 0.6:
		return "medium-confidence"
	default:
		return "low-confidence"
	}
}

// prBody renders the PR description from the terminal pipeline state.
func prBody(issue *github.Issue, state *pipeline.State, fix *agent.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Automated fix for #%d.\n\n", issue.Number)
	if summary := fix.Str("summary"); summary != "" {
		fmt.Fprintf(&b, "%s\n\n", summary)
	}

	if files := fix.Strs("files_changed"); len(files) > 0 {
		b.WriteString("**Files changed**\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		b.WriteString("\n")
	}

	if state.AggregateConfidence != nil {
		fmt.Fprintf(&b, "**Confidence: %.2f**\n", *state.AggregateConfidence)
		for _, role := range []string{"triage", "research", "fix", "review"} {
			if v, ok := state.ConfidenceBreakdown[role]; ok {
				fmt.Fprintf(&b, "- %s: %.2f\n", role, v)
			}
		}
		b.WriteString("\n")
	}

	if caveats := fix.Strs("caveats"); len(caveats) > 0 {
		b.WriteString("**Caveats**\n")
		for _, cv := range caveats {
			fmt.Fprintf(&b, "- %s\n", cv)
		}
		b.WriteString("\n")
	}
	if notes := fix.Str("testing_notes"); notes != "" {
		fmt.Fprintf(&b, "**Testing notes**\n%s\n\n", notes)
	}

	fmt.Fprintf(&b, "Closes #%d\n", issue.Number)
	return b.String()
}
