package cmd

import (
	"github.com/spf13/cobra"
)

var withScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver and the follow-mode dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Serve(withScheduler)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Migrate()
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run dispatch, snapshot and rollup jobs on their cron schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Schedule()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also run the cron scheduler in this process")
	rootCmd.AddCommand(serveCmd, migrateCmd, scheduleCmd)
}
