package dashboard

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethpandaops/testtrend/pkg/history"
)

// NotAvailable is shown in place of values that are unknown.
const NotAvailable = "N/A"

// rowTimeLayout is the date/time format of the history table.
const rowTimeLayout = "2006-01-02 15:04 UTC"

// Trend holds the per-day series plotted by the stacked bar chart.
type Trend struct {
	Labels []string `json:"labels"`
	Passed []int    `json:"passed"`
	Failed []int    `json:"failed"`
}

// Snapshot holds the counts of the latest run.
type Snapshot struct {
	Date    string `json:"date"`
	Total   int    `json:"total"`
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

// Row is one line of the run history table.
type Row struct {
	Date     string
	When     string
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	Duration string
	RunURL   string
}

// Options controls presentation of the rendered artifacts.
type Options struct {
	Title         string
	RetentionDays int
	ChartJSURL    string
	GeneratedAt   time.Time
}

// Chronological returns a copy of series ordered by date, oldest first.
// Records sharing a date keep their relative order.
func Chronological(series []history.Record) []history.Record {
	out := make([]history.Record, len(series))
	copy(out, series)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}

		return out[i].Timestamp < out[j].Timestamp
	})

	return out
}

// DeriveTrend builds the chart series, one point per record, oldest first.
// Missing days are not filled in.
func DeriveTrend(series []history.Record) Trend {
	ordered := Chronological(series)

	trend := Trend{
		Labels: make([]string, 0, len(ordered)),
		Passed: make([]int, 0, len(ordered)),
		Failed: make([]int, 0, len(ordered)),
	}

	for _, rec := range ordered {
		trend.Labels = append(trend.Labels, rec.Date)
		trend.Passed = append(trend.Passed, rec.Passed)
		trend.Failed = append(trend.Failed, rec.Failed)
	}

	return trend
}

// DeriveSnapshot returns the counts of the most recent run by date. An
// empty series yields zero counts.
func DeriveSnapshot(series []history.Record) Snapshot {
	if len(series) == 0 {
		return Snapshot{}
	}

	ordered := Chronological(series)
	latest := ordered[len(ordered)-1]

	return Snapshot{
		Date:    latest.Date,
		Total:   latest.Total,
		Passed:  latest.Passed,
		Failed:  latest.Failed,
		Skipped: latest.Skipped,
	}
}

// DeriveHistoryTable returns one row per record, newest first.
func DeriveHistoryTable(series []history.Record) []Row {
	ordered := Chronological(series)
	rows := make([]Row, 0, len(ordered))

	for i := len(ordered) - 1; i >= 0; i-- {
		rec := ordered[i]

		rows = append(rows, Row{
			Date:     rec.Date,
			When:     formatWhen(rec),
			Total:    rec.Total,
			Passed:   rec.Passed,
			Failed:   rec.Failed,
			Skipped:  rec.Skipped,
			Duration: FormatDuration(rec.DurationMinutes),
			RunURL:   rec.RunURL,
		})
	}

	return rows
}

// FormatDuration renders a duration in minutes as seconds with one
// decimal place.
func FormatDuration(minutes *float64) string {
	if minutes == nil {
		return NotAvailable
	}

	return fmt.Sprintf("%.1fs", *minutes*60)
}

// formatWhen renders the record's timestamp for display.
func formatWhen(rec history.Record) string {
	if ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp); err == nil {
		return ts.UTC().Format(rowTimeLayout)
	}

	switch {
	case rec.Timestamp != "":
		return rec.Timestamp
	case rec.Date != "":
		return rec.Date
	default:
		return NotAvailable
	}
}
