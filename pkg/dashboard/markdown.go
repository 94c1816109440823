package dashboard

import (
	"fmt"
	"strings"

	"github.com/ethpandaops/testtrend/pkg/history"
)

// RenderMarkdown produces a Markdown summary of series, suitable for a
// CI job summary.
func RenderMarkdown(series []history.Record, opts Options) string {
	var sb strings.Builder

	sb.Grow(2048)

	writeTitle(&sb, opts)

	if len(series) == 0 {
		sb.WriteString("_No test runs recorded yet._\n")

		return sb.String()
	}

	writeLatestRun(&sb, DeriveSnapshot(series))
	writeHistoryTable(&sb, DeriveHistoryTable(series))

	return sb.String()
}

func writeTitle(sb *strings.Builder, opts Options) {
	title := opts.Title
	if title == "" {
		title = "Test Dashboard"
	}

	fmt.Fprintf(sb, "# %s\n\n", escapeMarkdown(title))

	if opts.RetentionDays > 0 {
		fmt.Fprintf(sb, "Last %d days.\n\n", opts.RetentionDays)
	}
}

func writeLatestRun(sb *strings.Builder, snap Snapshot) {
	fmt.Fprintf(sb, "## Latest Run (%s)\n\n", snap.Date)
	sb.WriteString("| Total | Passed | Failed | Skipped | Pass Rate |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	fmt.Fprintf(sb, "| %d | %d | %d | %d | %s |\n\n",
		snap.Total, snap.Passed, snap.Failed, snap.Skipped,
		formatPassRate(snap.Passed, snap.Total))
}

func writeHistoryTable(sb *strings.Builder, rows []Row) {
	sb.WriteString("## Run History\n\n")
	sb.WriteString("| Date | Total | Passed | Failed | Skipped | Duration |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")

	for _, row := range rows {
		when := escapeMarkdown(row.When)
		if row.RunURL != "" {
			when = fmt.Sprintf("[%s](%s)", when, row.RunURL)
		}

		fmt.Fprintf(sb, "| %s | %d | %d | %d | %d | %s |\n",
			when, row.Total, row.Passed, row.Failed, row.Skipped, row.Duration)
	}

	sb.WriteByte('\n')
}

// formatPassRate returns passed/total as a percentage.
func formatPassRate(passed, total int) string {
	if total <= 0 {
		return "-"
	}

	return fmt.Sprintf("%.1f%%", float64(passed)/float64(total)*100)
}

var markdownEscaper = strings.NewReplacer(
	"|", `\|`,
	"[", `\[`,
	"]", `\]`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
