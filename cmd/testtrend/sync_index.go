package main

import (
	"github.com/ethpandaops/testtrend/pkg/history"
	"github.com/ethpandaops/testtrend/pkg/indexstore"
	"github.com/ethpandaops/testtrend/pkg/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var syncIndexProject string

var syncIndexCmd = &cobra.Command{
	Use:   "sync-index",
	Short: "Mirror the history file into the index database",
	Long: `Upserts every record of the history file into the configured SQLite or
PostgreSQL database, one row per project and day.`,
	RunE: runSyncIndex,
}

func init() {
	rootCmd.AddCommand(syncIndexCmd)
	syncIndexCmd.Flags().StringVar(&syncIndexProject, "project", "",
		"Project name of the rows (default: index.project)")
}

func runSyncIndex(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	project := cfg.Index.Project
	if syncIndexProject != "" {
		project = syncIndexProject
	}

	series, err := history.NewStore(log, history.Options{
		Path: cfg.HistoryPath(),
	}).Load()
	if err != nil {
		return err
	}

	store := indexstore.NewStore(log, &cfg.Index.Database)

	n, err := pipeline.SyncIndex(cmd.Context(), store, project, series)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"project": project,
		"driver":  cfg.Index.Database.Driver,
		"runs":    n,
	}).Info("Index synced")

	return nil
}
