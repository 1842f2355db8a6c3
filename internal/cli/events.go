package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events <issue>",
	Short: "Show the event log for an issue",
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
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		events, err := database.ListEvents(n, eventsLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			cmd.Printf("No events for issue #%d.\n", n)
			return nil
		}
		for _, e := range events {
			line := fmt.Sprintf("%s  %s", e.Timestamp, e.Event)
			if e.Stage != "" {
				line += "  " + e.Stage
			}
			if e.Detail != "" {
				line += "  (" + e.Detail + ")"
			}
			cmd.Println(line)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 0, "maximum events to show (0 = all)")
}
