package main

import (
	"fmt"

	"github.com/ethpandaops/testtrend/pkg/dashboard"
	"github.com/ethpandaops/testtrend/pkg/fsutil"
	"github.com/ethpandaops/testtrend/pkg/history"
	"github.com/spf13/cobra"
)

var generateMarkdownSummaryCmd = &cobra.Command{
	Use:   "generate-markdown-summary",
	Short: "Generate a markdown summary from the history file",
	Long: `Reads the history file and writes a markdown summary of the latest run
and the run history, e.g. for $GITHUB_STEP_SUMMARY.`,
	RunE: runGenerateMarkdownSummary,
}

var mdOutput string

func init() {
	rootCmd.AddCommand(generateMarkdownSummaryCmd)
	generateMarkdownSummaryCmd.Flags().StringVar(&mdOutput, "output", "",
		"Output file path (default: stdout)")
}

func runGenerateMarkdownSummary(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := history.NewStore(log, history.Options{
		Path:          cfg.HistoryPath(),
		RetentionDays: cfg.History.RetentionDays,
	})

	series, err := store.Load()
	if err != nil {
		return err
	}

	md := dashboard.RenderMarkdown(store.Retain(series), dashboard.Options{
		Title:         cfg.Dashboard.Title,
		RetentionDays: cfg.History.RetentionDays,
	})

	if mdOutput == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), md)

		return err
	}

	owner, err := fsutil.ParseOwner(cfg.Global.Owner)
	if err != nil {
		return fmt.Errorf("parsing owner: %w", err)
	}

	if err := fsutil.WriteFile(mdOutput, []byte(md), 0o644, owner); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}

	log.WithField("output", mdOutput).
		Info("Markdown summary generated successfully")

	return nil
}
