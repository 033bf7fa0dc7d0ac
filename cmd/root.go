// Package cmd is the command line of the rental pipeline.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vesta-pipeline/app"
	"vesta-pipeline/config"
	"vesta-pipeline/helpers"
)

var storageBackend string

var rootCmd = &cobra.Command{
	Use:   "vesta-pipeline",
	Short: "Ingest rental webhooks and roll them up into market reports",
	Long: `vesta-pipeline receives change notifications from the property
management, leasing and listing systems, applies them to the unit inventory
and writes daily snapshots plus daily, weekly and monthly rollups.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storageBackend, "storage", "", "storage backend: postgres or memory (overrides STORAGE_BACKEND)")
}

// openApp loads configuration and connects the pipeline
func openApp() (*app.App, error) {
	cfg := config.LoadFromEnv()
	if storageBackend != "" {
		cfg.StorageBackend = storageBackend
	}

	a := app.New(cfg)
	if err := a.Open(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// dateFlag parses an optional YYYY-MM-DD flag, falling back to def
func dateFlag(value string, def time.Time) (time.Time, error) {
	if value == "" {
		return helpers.DateOf(def), nil
	}
	return helpers.ParseDate(value)
}

func today() time.Time {
	return helpers.DateOf(time.Now())
}
