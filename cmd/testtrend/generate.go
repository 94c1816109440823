package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/testtrend/pkg/config"
	"github.com/ethpandaops/testtrend/pkg/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	genReportPath    string
	genOutputDir     string
	genRetentionDays int
	genMissingReport string
	genMissingStats  string
	genMarkdownFile  string
	genTitle         string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Record the latest test run and render the dashboard",
	Long: `Reads the test runner's JSON report, merges its stats into the history
file and renders the HTML dashboard. A dashboard is written even when the
report is missing or has no usable stats.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	flags := generateCmd.Flags()
	flags.StringVar(&genReportPath, "report", config.DefaultReportPath,
		"Path to the test runner JSON report")
	flags.StringVar(&genOutputDir, "output-dir", config.DefaultOutputDir,
		"Directory holding the history file and the dashboard")
	flags.IntVar(&genRetentionDays, "retention-days", config.DefaultRetentionDays,
		"Number of trailing days kept in the history (0 keeps everything)")
	flags.StringVar(&genMissingReport, "missing-report", config.MissingReportDegrade,
		"What to do when the report is missing (degrade, abort)")
	flags.StringVar(&genMissingStats, "missing-stats", config.MissingStatsZero,
		"What to do when the report has no stats (zero, skip, abort)")
	flags.StringVar(&genMarkdownFile, "markdown-file", "",
		"Also write a markdown summary to this path")
	flags.StringVar(&genTitle, "title", config.DefaultDashboardTitle,
		"Dashboard title")
}

// applyGenerateFlags overrides cfg with the flags set on the command line.
func applyGenerateFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("report") {
		cfg.Report.Path = genReportPath
	}

	if flags.Changed("output-dir") {
		cfg.SetOutputDir(genOutputDir)
	}

	if flags.Changed("retention-days") {
		cfg.History.RetentionDays = genRetentionDays
	}

	if flags.Changed("missing-report") {
		cfg.Report.MissingPolicy = genMissingReport
	}

	if flags.Changed("missing-stats") {
		cfg.Report.StatsPolicy = genMissingStats
	}

	if flags.Changed("markdown-file") {
		cfg.Dashboard.MarkdownFile = genMarkdownFile
	}

	if flags.Changed("title") {
		cfg.Dashboard.Title = genTitle
	}
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	applyGenerateFlags(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(log, cfg)
	if err != nil {
		return err
	}

	res, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("generating dashboard: %w", err)
	}

	log.WithFields(logrus.Fields{
		"dashboard": res.ArtifactPath,
		"records":   res.Records,
		"recorded":  res.Recorded,
	}).Info("Done")

	return nil
}
