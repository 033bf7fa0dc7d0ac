package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"vesta-pipeline/dispatcher"
)

var (
	follow      bool
	replayID    int64
	replayAll   bool
	replaySrc   string
	replayTable string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Apply pending webhook events to the domain tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if follow {
			return a.Follow()
		}
		res, err := a.Dispatcher.RunBatch(cmd.Context())
		return report(res, err)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Reprocess one webhook event or every failed one",
	Example: `  vesta-pipeline replay --id 42
  vesta-pipeline replay --failed --source appfolio --table units`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (replayID == 0) == !replayAll {
			return errors.New("exactly one of --id or --failed is required")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if replayAll {
			res, err := a.Dispatcher.ReplayFailed(ctx, replaySrc, replayTable)
			return report(res, err)
		}
		res, err := a.Dispatcher.Replay(ctx, replayID)
		return report(res, err)
	},
}

func report(res dispatcher.Result, err error) error {
	if err != nil {
		return err
	}
	fmt.Printf("✅ Dispatch finished: %s\n", res)
	for _, e := range res.Errors {
		fmt.Printf("   ⚠️ %s\n", e)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d events failed", res.Failed)
	}
	return nil
}

func init() {
	dispatchCmd.Flags().BoolVar(&follow, "follow", false, "keep dispatching as events arrive until interrupted")

	replayCmd.Flags().Int64Var(&replayID, "id", 0, "webhook event id to reprocess")
	replayCmd.Flags().BoolVar(&replayAll, "failed", false, "reprocess failed events")
	replayCmd.Flags().StringVar(&replaySrc, "source", "", "with --failed, only this source")
	replayCmd.Flags().StringVar(&replayTable, "table", "", "with --failed, only this table")

	rootCmd.AddCommand(dispatchCmd, replayCmd)
}
