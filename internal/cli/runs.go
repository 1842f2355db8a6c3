package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/strato-net/issuefix/internal/github"
	"github.com/strato-net/issuefix/internal/pipeline"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded pipeline runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all recorded runs with their terminal status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		issues, err := pipeline.ListRuns(cfg.RunsDir)
		if err != nil {
			return err
		}
		if len(issues) == 0 {
			cmd.Println("No runs recorded.")
			return nil
		}

		for _, n := range issues {
			store := pipeline.OpenStore(cfg.RunsDir, n)
			state, err := store.LoadPipeline()
			if err != nil || state == nil {
				cmd.Printf("#%d\t(no state)\n", n)
				continue
			}
			line := fmt.Sprintf("#%d\t%s", n, state.Status)
			if state.AggregateConfidence != nil {
				line += fmt.Sprintf("\tconfidence %.2f", *state.AggregateConfidence)
			}
			if state.FailureReason != "" {
				line += "\t" + state.FailureReason
			}
			cmd.Println(line)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <issue>",
	Short: "Show the full state of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid issue number %q", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store := pipeline.OpenStore(cfg.RunsDir, n)
		state, err := store.LoadPipeline()
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("no run recorded for issue #%d", n)
		}

		if issue, err := github.LoadCachedIssue(store.Dir()); err == nil {
			cmd.Printf("Issue #%d: %s\n", issue.Number, issue.Title)
		}
		cmd.Printf("Status: %s\n", state.Status)
		if state.FailureReason != "" {
			cmd.Printf("Reason: %s\n", state.FailureReason)
		}
		cmd.Printf("Started: %s\n", state.StartedAt.Format("2006-01-02 15:04:05"))
		if state.CompletedAt != nil {
			cmd.Printf("Duration: %.0fs\n", state.DurationSeconds)
		}
		if state.AggregateConfidence != nil {
			cmd.Printf("Confidence: %.2f\n", *state.AggregateConfidence)
			for _, role := range []string{"triage", "research", "fix", "review"} {
				if v, ok := state.ConfidenceBreakdown[role]; ok {
					cmd.Printf("  %s: %.2f\n", role, v)
				}
			}
		}
		cmd.Println("Stages:")
		for _, marker := range state.AgentsCompleted {
			cmd.Printf("  %s\n", marker)
		}

		for _, role := range []string{"triage", "research", "fix", "review"} {
			st, err := store.LoadAgentState(role)
			if err != nil || st == nil {
				continue
			}
			cmd.Printf("%s: %s (confidence %.2f)\n", role, st.Status, st.Confidence)
			if st.Error != "" {
				cmd.Printf("  error: %s\n", st.Error)
			}
		}
		return nil
	},
}

func init() {
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}
