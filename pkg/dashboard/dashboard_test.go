package dashboard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/testtrend/pkg/history"
)

func minutes(m float64) *float64 {
	return &m
}

func sampleSeries() []history.Record {
	return []history.Record{
		{
			Timestamp: "2024-01-01T10:00:00.000Z", Date: "2024-01-01",
			Total: 10, Passed: 9, Failed: 1, DurationMinutes: minutes(2),
		},
		{
			Timestamp: "2024-01-02T10:30:00.000Z", Date: "2024-01-02",
			Total: 12, Passed: 10, Failed: 1, Skipped: 1,
			RunURL: "https://github.com/acme/web/actions/runs/2",
		},
		{
			Timestamp: "2024-01-04T08:15:00.000Z", Date: "2024-01-04",
			Total: 12, Passed: 12, DurationMinutes: minutes(1.25),
		},
	}
}

func TestDeriveTrend(t *testing.T) {
	trend := DeriveTrend(sampleSeries())

	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-04"}, trend.Labels)
	assert.Equal(t, []int{9, 10, 12}, trend.Passed)
	assert.Equal(t, []int{1, 1, 0}, trend.Failed)
}

func TestDeriveTrend_Empty(t *testing.T) {
	trend := DeriveTrend(nil)

	assert.Empty(t, trend.Labels)
	assert.Empty(t, trend.Passed)
	assert.Empty(t, trend.Failed)
}

func TestDeriveSnapshot(t *testing.T) {
	tests := []struct {
		name   string
		series []history.Record
		want   Snapshot
	}{
		{
			name:   "empty series",
			series: nil,
			want:   Snapshot{},
		},
		{
			name:   "last record in arrival order",
			series: sampleSeries(),
			want:   Snapshot{Date: "2024-01-04", Total: 12, Passed: 12},
		},
		{
			name: "latest by date when out of order",
			series: []history.Record{
				{Date: "2024-01-05", Total: 5, Passed: 4, Failed: 1},
				{Date: "2024-01-03", Total: 3, Passed: 3},
			},
			want: Snapshot{Date: "2024-01-05", Total: 5, Passed: 4, Failed: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveSnapshot(tt.series))
		})
	}
}

func TestDeriveHistoryTable(t *testing.T) {
	rows := DeriveHistoryTable(sampleSeries())
	require.Len(t, rows, 3)

	assert.Equal(t, "2024-01-04", rows[0].Date)
	assert.Equal(t, "2024-01-04 08:15 UTC", rows[0].When)
	assert.Equal(t, "75.0s", rows[0].Duration)

	assert.Equal(t, "2024-01-02", rows[1].Date)
	assert.Equal(t, NotAvailable, rows[1].Duration)
	assert.Equal(t, "https://github.com/acme/web/actions/runs/2", rows[1].RunURL)

	assert.Equal(t, "2024-01-01", rows[2].Date)
	assert.Equal(t, "120.0s", rows[2].Duration)
}

func TestChronological_DoesNotModifyInput(t *testing.T) {
	series := []history.Record{
		{Date: "2024-01-02"},
		{Date: "2024-01-01"},
	}

	ordered := Chronological(series)

	assert.Equal(t, "2024-01-01", ordered[0].Date)
	assert.Equal(t, "2024-01-02", series[0].Date)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		minutes  *float64
		expected string
	}{
		{name: "unknown", minutes: nil, expected: NotAvailable},
		{name: "zero", minutes: minutes(0), expected: "0.0s"},
		{name: "two minutes", minutes: minutes(2), expected: "120.0s"},
		{name: "fractional", minutes: minutes(0.5), expected: "30.0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.minutes))
		})
	}
}

func TestFormatWhen(t *testing.T) {
	tests := []struct {
		name     string
		rec      history.Record
		expected string
	}{
		{
			name:     "iso timestamp",
			rec:      history.Record{Timestamp: "2024-01-01T10:05:00.000Z"},
			expected: "2024-01-01 10:05 UTC",
		},
		{
			name:     "offset timestamp converted to utc",
			rec:      history.Record{Timestamp: "2024-01-01T10:05:00+02:00"},
			expected: "2024-01-01 08:05 UTC",
		},
		{
			name:     "unparseable timestamp shown verbatim",
			rec:      history.Record{Timestamp: "last tuesday", Date: "2024-01-01"},
			expected: "last tuesday",
		},
		{
			name:     "date only",
			rec:      history.Record{Date: "2024-01-01"},
			expected: "2024-01-01",
		},
		{
			name:     "nothing",
			rec:      history.Record{},
			expected: NotAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatWhen(tt.rec))
		})
	}
}

func TestRender_EmptySeries(t *testing.T) {
	out, err := Render(nil, Options{
		Title:         "Playwright Test Dashboard",
		RetentionDays: 15,
		ChartJSURL:    "https://cdn.example.com/chart.js",
		GeneratedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	html := string(out)

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "</html>")
	assert.Contains(t, html, "Playwright Test Dashboard (Last 15 Days)")
	assert.Contains(t, html, `<span id="tile-total">0</span>`)
	assert.Contains(t, html, `<span id="tile-passed">0</span>`)
	assert.Contains(t, html, `<span id="tile-failed">0</span>`)
	assert.Contains(t, html, "No test runs recorded yet.")
	assert.NotContains(t, html, "new Chart(")
	assert.NotContains(t, html, "<tr><td")
	assert.NotContains(t, html, "chart.js")
}

func TestRender_Series(t *testing.T) {
	out, err := Render(sampleSeries(), Options{
		Title:         "Nightly",
		RetentionDays: 15,
		ChartJSURL:    "https://cdn.example.com/chart.js",
	})
	require.NoError(t, err)

	html := string(out)

	assert.Contains(t, html, `<script src="https://cdn.example.com/chart.js"></script>`)
	assert.Contains(t, html, `<span id="tile-total">12</span>`)
	assert.Contains(t, html, `<span id="tile-passed">12</span>`)
	assert.Contains(t, html, `<span id="tile-failed">0</span>`)
	assert.Contains(t, html, `"labels":["2024-01-01","2024-01-02","2024-01-04"]`)
	assert.Contains(t, html, `"passed":[9,10,12]`)
	assert.Contains(t, html, `href="https://github.com/acme/web/actions/runs/2"`)
	assert.Contains(t, html, "120.0s")
	assert.Contains(t, html, NotAvailable)
	assert.NotContains(t, html, "No test runs recorded yet.")

	// Newest row comes first.
	assert.Less(t,
		strings.Index(html, "2024-01-04 08:15 UTC"),
		strings.Index(html, "2024-01-01 10:00 UTC"))
}

func TestRender_EscapesTitle(t *testing.T) {
	out, err := Render(nil, Options{Title: `<script>alert("x")</script>`})
	require.NoError(t, err)

	assert.NotContains(t, string(out), `<script>alert("x")</script>`)
	assert.Contains(t, string(out), "&lt;script&gt;")
}

func TestRender_UnlimitedRetentionHasNoDaysSuffix(t *testing.T) {
	out, err := Render(nil, Options{Title: "Nightly", RetentionDays: 0})
	require.NoError(t, err)

	assert.Contains(t, string(out), "<h1>Nightly</h1>")
	assert.NotContains(t, string(out), "Last 0 Days")
}

func TestRender_EndToEndSnapshot(t *testing.T) {
	series := []history.Record{{
		Timestamp: "2024-01-01T12:00:00.000Z", Date: "2024-01-01",
		Total: 10, Passed: 9, Failed: 1, Skipped: 0, DurationMinutes: minutes(2),
	}}

	out, err := Render(series, Options{Title: "Dashboard", RetentionDays: 15})
	require.NoError(t, err)

	html := string(out)
	assert.Contains(t, html, `<span id="tile-total">10</span>`)
	assert.Contains(t, html, `<span id="tile-passed">9</span>`)
	assert.Contains(t, html, `<span id="tile-failed">1</span>`)
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(sampleSeries(), Options{Title: "Nightly | E2E", RetentionDays: 15})

	assert.True(t, strings.HasPrefix(md, "# Nightly \\| E2E\n\n"))
	assert.Contains(t, md, "Last 15 days.")
	assert.Contains(t, md, "## Latest Run (2024-01-04)")
	assert.Contains(t, md, "| 12 | 12 | 0 | 0 | 100.0% |")
	assert.Contains(t, md,
		"| [2024-01-02 10:30 UTC](https://github.com/acme/web/actions/runs/2) | 12 | 10 | 1 | 1 | N/A |")
	assert.Contains(t, md, "| 2024-01-01 10:00 UTC | 10 | 9 | 1 | 0 | 120.0s |")
	assert.Less(t,
		strings.Index(md, "2024-01-04 08:15 UTC"),
		strings.Index(md, "2024-01-01 10:00 UTC"))
}

func TestRenderMarkdown_Empty(t *testing.T) {
	md := RenderMarkdown(nil, Options{})

	assert.Equal(t, "# Test Dashboard\n\n_No test runs recorded yet._\n", md)
}

func TestFormatPassRate(t *testing.T) {
	assert.Equal(t, "-", formatPassRate(0, 0))
	assert.Equal(t, "90.0%", formatPassRate(9, 10))
	assert.Equal(t, "33.3%", formatPassRate(1, 3))
}
