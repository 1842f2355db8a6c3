package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// TimeoutError indicates the claude process exceeded its wall-clock budget.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("claude timed out after %s", e.Timeout)
}

// Result captures one claude CLI invocation.
type Result struct {
	Success    bool
	Output     string
	Error      string
	DurationMs int64
	CostUSD    float64
}

// RunOpts configures a claude invocation.
type RunOpts struct {
	Prompt  string
	Workdir string
	Timeout time.Duration
	// LogFile, when non-empty, receives the full captured stdout as a single
	// write after the process exits.
	LogFile string
}

// Run invokes the claude CLI with a prompt and blocks until it exits or the
// timeout elapses. On timeout the process is killed and a *TimeoutError is
// returned; there is no partial-output salvage.
func Run(opts RunOpts) (*Result, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "claude",
		"--dangerously-skip-permissions",
		"--verbose",
		"--output-format", "stream-json",
		"--print", opts.Prompt,
	)
	if opts.Workdir != "" {
		cmd.Dir = opts.Workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	output := stdout.String()
	if opts.LogFile != "" {
		if werr := os.WriteFile(opts.LogFile, []byte(output), 0o644); werr != nil {
			return nil, fmt.Errorf("write claude log %s: %w", opts.LogFile, werr)
		}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{Timeout: opts.Timeout}
	}

	res := &Result{
		Success: runErr == nil,
		Output:  output,
	}
	if runErr != nil {
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			errText = runErr.Error()
		}
		res.Error = errText
	}
	res.DurationMs, res.CostUSD = parseResultEvent(output)
	return res, nil
}

// parseResultEvent scans stream-json lines for the trailing "result" event
// and pulls out duration and cost accounting.
func parseResultEvent(output string) (durationMs int64, costUSD float64) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var msg struct {
			Type         string  `json:"type"`
			DurationMs   int64   `json:"duration_ms"`
			TotalCostUSD float64 `json:"total_cost_usd"`
		}
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Type == "result" {
			durationMs = msg.DurationMs
			costUSD = msg.TotalCostUSD
		}
	}
	return durationMs, costUSD
}
