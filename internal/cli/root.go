// Package cli defines the issuefix command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/strato-net/issuefix/internal/config"
	"github.com/strato-net/issuefix/internal/db"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "issuefix",
	Short: "issuefix drives automated GitHub issue fixes through claude",
	Long: `issuefix runs a triage, research, fix, review pipeline over GitHub
issues using the claude CLI. Approved fixes ship as pull requests with
confidence labels; everything else is reported back on the issue.

Run state lives under the configured runs directory (JSON snapshots per
issue); the event log lives in SQLite for analytics.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: ./issuefix.yaml, ~/.issuefix/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// openDB opens the configured event log, migrating as needed.
func openDB(cfg *config.Config) (*db.DB, error) {
	path := cfg.DBPath
	if path == "" {
		var err error
		path, err = db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}
