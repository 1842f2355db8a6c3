// Package agent implements the pipeline's capability agents: triage,
// research, fix (with revision mode), and review. Each agent renders a
// stage prompt, invokes the claude CLI once, and normalizes the transcript
// into an immutable State the pipeline can act on.
package agent

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/strato-net/issuefix/internal/claude"
	"github.com/strato-net/issuefix/internal/github"
	"github.com/strato-net/issuefix/internal/prompt"
)

// RunFunc invokes the external agent process. Swappable in tests.
type RunFunc func(claude.RunOpts) (*claude.Result, error)

// DiffFunc returns the current change set for review/revision prompts.
type DiffFunc func() (string, error)

// Context carries everything one agent invocation needs. The issue and the
// previous states are read-only; agents communicate forward only through
// the State they return.
type Context struct {
	Issue      *github.Issue
	Previous   map[string]*State
	Workdir    string
	PromptsDir string
	RunDir     string
	Timeout    time.Duration
	Run        RunFunc
	Diff       DiffFunc
	Progress   io.Writer
}

func (c *Context) logf(format string, args ...any) {
	if c.Progress != nil {
		fmt.Fprintf(c.Progress, "  → "+format+"\n", args...)
	}
}

// Agent is one named step of the pipeline.
type Agent interface {
	// Name returns the stage role: triage, research, fix, or review.
	Name() string
	// Execute runs the agent once. It never returns an error; every
	// failure mode is folded into the returned State.
	Execute(ctx *Context) *State
}

// invoke renders nothing itself; it writes the prompt audit artifact, runs
// the external process with the stage timeout, and maps process-level
// failures to a FAILED state. artifact names the prompt/log files, which
// differ from the role name for revisions.
func invoke(ctx *Context, role, artifact, rendered string) (*claude.Result, *State) {
	started := time.Now()

	if ctx.RunDir != "" {
		promptPath := filepath.Join(ctx.RunDir, artifact+".prompt.md")
		if err := os.WriteFile(promptPath, []byte(rendered), 0o644); err != nil {
			return nil, failedState(role, started, fmt.Sprintf("write prompt artifact: %v", err))
		}
	}

	logFile := ""
	if ctx.RunDir != "" {
		logFile = filepath.Join(ctx.RunDir, artifact+".log")
	}

	ctx.logf("%s: running claude (timeout %s)", role, ctx.Timeout)
	result, err := ctx.Run(claude.RunOpts{
		Prompt:  rendered,
		Workdir: ctx.Workdir,
		Timeout: ctx.Timeout,
		LogFile: logFile,
	})
	if err != nil {
		return nil, failedState(role, started, err.Error())
	}
	if !result.Success {
		return nil, failedState(role, started, fmt.Sprintf("claude exited non-zero: %s", result.Error))
	}
	return result, nil
}

// renderStage loads and renders the template for a stage.
func renderStage(ctx *Context, stage string, vars prompt.Vars) (string, *State) {
	started := time.Now()
	tmpl, err := prompt.Load(stage, ctx.PromptsDir)
	if err != nil {
		return "", failedState(stage, started, err.Error())
	}
	rendered, err := prompt.Render(tmpl, vars)
	if err != nil {
		return "", failedState(stage, started, fmt.Sprintf("render %s prompt: %v", stage, err))
	}
	return rendered, nil
}

// issueVars returns the template variables every stage shares.
func issueVars(issue *github.Issue) prompt.Vars {
	return prompt.Vars{
		"issue_number": fmt.Sprintf("%d", issue.Number),
		"issue_title":  issue.Title,
		"issue_body":   issue.Body,
	}
}
