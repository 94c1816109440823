package dashboard

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"time"

	"github.com/ethpandaops/testtrend/pkg/history"
)

//go:embed templates/dashboard.html.tmpl
var dashboardTemplate string

var pageTemplate = template.Must(template.New("dashboard").Parse(dashboardTemplate))

// page is the data bound to the dashboard template.
type page struct {
	Title         string
	RetentionDays int
	ChartJSURL    string
	GeneratedAt   string
	Empty         bool
	Trend         Trend
	Snapshot      Snapshot
	Rows          []Row
}

// Render produces the HTML dashboard for series. An empty series renders
// a valid page with zeroed tiles, no chart data and no table rows.
func Render(series []history.Record, opts Options) ([]byte, error) {
	generatedAt := opts.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	p := page{
		Title:         opts.Title,
		RetentionDays: opts.RetentionDays,
		ChartJSURL:    opts.ChartJSURL,
		GeneratedAt:   generatedAt.UTC().Format(rowTimeLayout),
		Empty:         len(series) == 0,
		Trend:         DeriveTrend(series),
		Snapshot:      DeriveSnapshot(series),
		Rows:          DeriveHistoryTable(series),
	}

	var buf bytes.Buffer

	buf.Grow(8192)

	if err := pageTemplate.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("executing dashboard template: %w", err)
	}

	return buf.Bytes(), nil
}
