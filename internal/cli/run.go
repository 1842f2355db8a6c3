package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/strato-net/issuefix/internal/config"
	"github.com/strato-net/issuefix/internal/git"
	"github.com/strato-net/issuefix/internal/github"
	"github.com/strato-net/issuefix/internal/runner"
)

var runCmd = &cobra.Command{
	Use:   "run <issue> [issue...]",
	Short: "Run the fix pipeline for one or more issues",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issues, err := parseIssueNumbers(args)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if errs := config.Validate(cfg); len(errs) > 0 {
			for _, e := range errs {
				cmd.PrintErrf("config: %s\n", e)
			}
			return fmt.Errorf("config has %d validation error(s)", len(errs))
		}

		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		coord := runner.New(
			cfg,
			github.NewClient(cfg.GitHubRepo, &github.ExecRunner{}),
			git.NewClient(cfg.ProjectDir, &git.ExecRunner{}),
			database,
			cmd.OutOrStdout(),
		)

		summary := coord.ProcessAll(issues)
		if summary.Failures() {
			return fmt.Errorf("%d of %d issues did not ship", len(issues)-summary.Success-summary.Skipped, len(issues))
		}
		return nil
	},
}

func parseIssueNumbers(args []string) ([]int, error) {
	issues := make([]int, 0, len(args))
	seen := make(map[int]bool)
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid issue number %q", a)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		issues = append(issues, n)
	}
	return issues, nil
}
