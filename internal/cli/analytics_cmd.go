package cli

import (
	"github.com/spf13/cobra"

	"github.com/strato-net/issuefix/internal/analytics"
	"github.com/strato-net/issuefix/internal/db"
)

var analyticsSince string

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query pipeline performance analytics",
}

func withDB(fn func(cmd *cobra.Command, d *db.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		return fn(cmd, database)
	}
}

var analyticsStagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Per-stage run counts, confidence, duration, and cost",
	RunE: withDB(func(cmd *cobra.Command, d *db.DB) error {
		stats, err := analytics.QueryStageStats(d, analyticsSince)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			cmd.Println("No successful agent runs recorded.")
			return nil
		}
		cmd.Printf("%-10s %6s %12s %10s %10s %10s\n", "STAGE", "RUNS", "CONFIDENCE", "AVG MIN", "P95 MIN", "COST USD")
		for _, s := range stats {
			cmd.Printf("%-10s %6d %12.2f %10.2f %10.2f %10.2f\n",
				s.Stage, s.Runs, s.AvgConfidence, s.AvgMinutes, s.P95Minutes, s.TotalCostUSD)
		}
		return nil
	}),
}

var analyticsOutcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Tally of terminal pipeline statuses",
	RunE: withDB(func(cmd *cobra.Command, d *db.DB) error {
		outcomes, err := analytics.QueryOutcomes(d, analyticsSince)
		if err != nil {
			return err
		}
		if len(outcomes) == 0 {
			cmd.Println("No completed pipelines recorded.")
			return nil
		}
		for _, o := range outcomes {
			cmd.Printf("%-10s %d\n", o.Status, o.Count)
		}
		return nil
	}),
}

var analyticsRevisionsCmd = &cobra.Command{
	Use:   "revisions",
	Short: "How often fixes need review-driven revisions",
	RunE: withDB(func(cmd *cobra.Command, d *db.DB) error {
		stats, err := analytics.QueryRevisionStats(d, analyticsSince)
		if err != nil {
			return err
		}
		cmd.Printf("Fix runs:          %d\n", stats.FixRuns)
		cmd.Printf("Revisions:         %d\n", stats.Revisions)
		cmd.Printf("Revisions per fix: %.2f\n", stats.RevisionsPerFix)
		return nil
	}),
}

var analyticsCostCmd = &cobra.Command{
	Use:   "cost",
	Short: "Total claude spend across all agent runs",
	RunE: withDB(func(cmd *cobra.Command, d *db.DB) error {
		total, err := analytics.QueryTotalCost(d, analyticsSince)
		if err != nil {
			return err
		}
		cmd.Printf("Total cost: $%.2f\n", total)
		return nil
	}),
}

func init() {
	analyticsCmd.PersistentFlags().StringVar(&analyticsSince, "since", "", "only include rows at or after this timestamp (YYYY-MM-DD)")
	analyticsCmd.AddCommand(analyticsStagesCmd)
	analyticsCmd.AddCommand(analyticsOutcomesCmd)
	analyticsCmd.AddCommand(analyticsRevisionsCmd)
	analyticsCmd.AddCommand(analyticsCostCmd)
}
