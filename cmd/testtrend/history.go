package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ethpandaops/testtrend/pkg/dashboard"
	"github.com/ethpandaops/testtrend/pkg/history"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Output formats of the history command.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var historyOutput string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the recorded test run history",
	Long:  `Loads the history file and prints it, newest run first.`,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", formatTable,
		"Output format (table, json, yaml)")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	// Keep stdout clean for machine-readable output.
	log.SetOutput(os.Stderr)

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

	return printHistory(cmd.OutOrStdout(), series, historyOutput)
}

// printHistory writes series to w in the given format.
func printHistory(w io.Writer, series []history.Record, format string) error {
	switch format {
	case formatTable:
		renderHistoryTable(w, series)

		return nil
	case formatJSON:
		data, err := json.MarshalIndent(series, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling history: %w", err)
		}

		_, err = fmt.Fprintln(w, string(data))

		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(series); err != nil {
			return fmt.Errorf("marshaling history: %w", err)
		}

		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (use %s, %s or %s)",
			format, formatTable, formatJSON, formatYAML)
	}
}

func renderHistoryTable(w io.Writer, series []history.Record) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Date", "Total", "Passed", "Failed", "Skipped", "Duration", "Run"})

	for _, row := range dashboard.DeriveHistoryTable(series) {
		t.AppendRow(table.Row{
			row.When,
			strconv.Itoa(row.Total),
			strconv.Itoa(row.Passed),
			strconv.Itoa(row.Failed),
			strconv.Itoa(row.Skipped),
			row.Duration,
			row.RunURL,
		})
	}

	t.AppendFooter(table.Row{fmt.Sprintf("%d runs", len(series))})
	t.Render()
}
