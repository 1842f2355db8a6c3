// Package config holds the YAML configuration for the fix pipeline.
package config

import "time"

// Config is the top-level structure parsed from issuefix.yaml.
type Config struct {
	// GitHubRepo is the owner/name the gh CLI operates on.
	GitHubRepo string `yaml:"github_repo"`
	// ProjectDir is the local clone agents work in.
	ProjectDir string `yaml:"project_dir"`
	// BaseBranch is the branch fixes start from and PRs target.
	BaseBranch string `yaml:"base_branch"`
	// RunsDir holds one state directory per processed issue.
	RunsDir string `yaml:"runs_dir"`
	// PromptsDir optionally overrides the built-in stage prompts.
	PromptsDir string `yaml:"prompts_dir"`
	// DBPath locates the SQLite event log. Empty means the default
	// under ~/.issuefix.
	DBPath string `yaml:"db_path"`
	// MaxFixIterations bounds the fix/review loop.
	MaxFixIterations int `yaml:"max_fix_iterations"`
	// DraftPRs opens pull requests as drafts.
	DraftPRs bool `yaml:"draft_prs"`
	// Timeouts holds per-stage claude timeouts as Go durations ("30m").
	Timeouts map[string]string `yaml:"timeouts"`
	// Weights overrides the per-stage confidence weights. Empty means
	// the built-in weighting. Must cover all four stages and sum to 1.
	Weights map[string]float64 `yaml:"weights"`
}

// Stage roles that accept a timeout.
var stageRoles = []string{"triage", "research", "fix", "review"}

// DefaultTimeouts applies when a stage has no configured timeout.
var DefaultTimeouts = map[string]time.Duration{
	"triage":   5 * time.Minute,
	"research": 10 * time.Minute,
	"fix":      30 * time.Minute,
	"review":   10 * time.Minute,
}

// StageTimeouts resolves the configured timeout strings against the
// defaults. Call only after Validate.
func (c *Config) StageTimeouts() map[string]time.Duration {
	out := make(map[string]time.Duration, len(stageRoles))
	for _, role := range stageRoles {
		out[role] = DefaultTimeouts[role]
		if raw, ok := c.Timeouts[role]; ok {
			if d, err := time.ParseDuration(raw); err == nil {
				out[role] = d
			}
		}
	}
	return out
}
