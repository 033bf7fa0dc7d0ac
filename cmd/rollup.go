package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vesta-pipeline/app"
	"vesta-pipeline/rollup"
	"vesta-pipeline/synclog"
)

var (
	onDate   string
	fromDate string
	toDate   string
	month    string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write the daily unit snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := dateFlag(onDate, today())
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return summarize(a.Snapshots.RunDailySnapshot(cmd.Context(), day))
	},
}

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Aggregate snapshots and leasing events into market reports",
}

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Daily market stats, leasing summaries, segments and price drops",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := dateFlag(onDate, today())
		if err != nil {
			return err
		}
		return withApp(func(a *app.App) (synclog.Summary, error) {
			return a.Rollups.RunDailyRollup(cmd.Context(), day)
		})
	},
}

var weeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Weekly leasing funnel per unit for the week ending --date",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := dateFlag(onDate, app.PreviousSunday(time.Now()))
		if err != nil {
			return err
		}
		return withApp(func(a *app.App) (synclog.Summary, error) {
			return a.Rollups.RunWeeklyRollup(cmd.Context(), day)
		})
	},
}

var monthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Monthly market report for --month (YYYY-MM)",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := app.PreviousMonth(time.Now())
		if month != "" {
			parsed, err := time.Parse("2006-01", month)
			if err != nil {
				return fmt.Errorf("invalid month %q, expected YYYY-MM", month)
			}
			m = parsed
		}
		return withApp(func(a *app.App) (synclog.Summary, error) {
			return a.Rollups.RunMonthlyRollup(cmd.Context(), m)
		})
	},
}

var backfillCmd = &cobra.Command{
	Use:     "backfill",
	Short:   "Rerun daily, weekly and monthly rollups over a date range",
	Example: "  vesta-pipeline rollup backfill --from 2024-01-01 --to 2024-03-31",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fromDate == "" || toDate == "" {
			return errors.New("--from and --to are required")
		}
		start, err := dateFlag(fromDate, today())
		if err != nil {
			return err
		}
		end, err := dateFlag(toDate, today())
		if err != nil {
			return err
		}
		return withApp(func(a *app.App) (synclog.Summary, error) {
			return a.Rollups.RunBackfill(cmd.Context(), start, end)
		})
	},
}

func withApp(run func(a *app.App) (synclog.Summary, error)) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return summarize(run(a))
}

func summarize(sum synclog.Summary, err error) error {
	if errors.Is(err, rollup.ErrLocked) {
		fmt.Printf("⏭️  %s %s already running elsewhere, skipped\n", sum.Operation, sum.Period)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("✅ %s\n", sum)
	for _, e := range sum.Errors {
		fmt.Printf("   ⚠️ %s\n", e)
	}
	if len(sum.Errors) > 0 {
		return fmt.Errorf("%s finished with %d errors", sum.Operation, len(sum.Errors))
	}
	return nil
}

func init() {
	snapshotCmd.Flags().StringVar(&onDate, "date", "", "snapshot date YYYY-MM-DD (default today, UTC)")
	dailyCmd.Flags().StringVar(&onDate, "date", "", "rollup date YYYY-MM-DD (default today, UTC)")
	weeklyCmd.Flags().StringVar(&onDate, "date", "", "last day of the week YYYY-MM-DD (default last Sunday)")
	monthlyCmd.Flags().StringVar(&month, "month", "", "month YYYY-MM (default last month)")
	backfillCmd.Flags().StringVar(&fromDate, "from", "", "first date YYYY-MM-DD")
	backfillCmd.Flags().StringVar(&toDate, "to", "", "last date YYYY-MM-DD")

	rollupCmd.AddCommand(dailyCmd, weeklyCmd, monthlyCmd, backfillCmd)
	rootCmd.AddCommand(snapshotCmd, rollupCmd)
}
