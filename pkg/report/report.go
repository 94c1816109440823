package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/mitchellh/mapstructure"
)

var (
	// ErrReportNotFound is returned by Load when the report file does not exist.
	ErrReportNotFound = errors.New("report not found")

	// ErrReportMalformed is returned by Load when the report is not a JSON object.
	ErrReportMalformed = errors.New("report malformed")
)

// Locations searched for a stats block, in order.
const (
	SourceStats           = "stats"
	SourceStatsPlaywright = "stats(playwright)"
	SourceSuites          = "suites"
	SourceProjects        = "projects"
)

// groupKeys name the collections whose members may each carry a stats block.
var groupKeys = []string{SourceSuites, SourceProjects}

// Stats is a fully populated summary of one test run.
type Stats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
	// DurationMs is only meaningful when DurationKnown is set.
	DurationMs    float64
	DurationKnown bool
}

// Extraction is the outcome of looking for stats in a runner report.
// Found distinguishes a genuinely empty run from a report without stats;
// when Found is false Stats is zeroed.
type Extraction struct {
	Stats  Stats
	Found  bool
	Source string
}

// rawStats is the untrusted stats block. A field with the wrong type
// decodes as nil.
type rawStats struct {
	Total    *float64 `mapstructure:"total"`
	Passed   *float64 `mapstructure:"passed"`
	Failed   *float64 `mapstructure:"failed"`
	Skipped  *float64 `mapstructure:"skipped"`
	Duration *float64 `mapstructure:"duration"`

	// Playwright JSON reporter fields.
	Expected   *float64 `mapstructure:"expected"`
	Unexpected *float64 `mapstructure:"unexpected"`
	Flaky      *float64 `mapstructure:"flaky"`
}

// Load reads and parses the runner report at path.
func Load(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrReportNotFound, err)
		}

		return nil, fmt.Errorf("reading report: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReportMalformed, err)
	}

	if raw == nil {
		return nil, fmt.Errorf("%w: document is null", ErrReportMalformed)
	}

	return raw, nil
}

// Extract looks for a stats block in the report. The top-level "stats"
// block is preferred; otherwise the stats of every group under "suites"
// or "projects" are summed. It never fails: when nothing usable is found
// the result has Found set to false and zeroed stats.
func Extract(raw map[string]any) Extraction {
	if raw == nil {
		return Extraction{}
	}

	if stats, source, ok := statsFrom(raw[SourceStats]); ok {
		return Extraction{Stats: stats, Found: true, Source: source}
	}

	for _, key := range groupKeys {
		if stats, ok := sumGroups(raw[key]); ok {
			return Extraction{Stats: stats, Found: true, Source: key}
		}
	}

	return Extraction{}
}

// statsFrom decodes a single stats block. A block is usable when it has a
// numeric total, or the Playwright "expected" count.
func statsFrom(v any) (Stats, string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Stats{}, "", false
	}

	var rs rawStats

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: &rs,
	})
	if err != nil {
		return Stats{}, "", false
	}

	// Type mismatches are reported per field; the other fields still decode.
	_ = dec.Decode(m)

	stats := Stats{}
	if rs.Duration != nil && isUsable(*rs.Duration) {
		stats.DurationMs = math.Max(*rs.Duration, 0)
		stats.DurationKnown = true
	}

	switch {
	case rs.Total != nil && isUsable(*rs.Total):
		stats.Total = count(rs.Total)
		stats.Passed = count(rs.Passed)
		stats.Failed = count(rs.Failed)
		stats.Skipped = count(rs.Skipped)

		return stats, SourceStats, true
	case rs.Expected != nil && isUsable(*rs.Expected):
		stats.Passed = count(rs.Expected) + count(rs.Flaky)
		stats.Failed = count(rs.Unexpected)
		stats.Skipped = count(rs.Skipped)
		stats.Total = stats.Passed + stats.Failed + stats.Skipped

		return stats, SourceStatsPlaywright, true
	default:
		return Stats{}, "", false
	}
}

// sumGroups adds up the stats of every group carrying a usable block.
// Groups run side by side, so the longest duration is kept rather than
// the sum.
func sumGroups(v any) (Stats, bool) {
	var (
		total Stats
		found bool
	)

	for _, group := range members(v) {
		m, ok := group.(map[string]any)
		if !ok {
			continue
		}

		stats, _, ok := statsFrom(m[SourceStats])
		if !ok {
			continue
		}

		found = true
		total.Total += stats.Total
		total.Passed += stats.Passed
		total.Failed += stats.Failed
		total.Skipped += stats.Skipped

		if stats.DurationKnown {
			total.DurationKnown = true
			total.DurationMs = math.Max(total.DurationMs, stats.DurationMs)
		}
	}

	return total, found
}

// members returns the entries of a JSON array, or the values of a JSON
// object ordered by key.
func members(v any) []any {
	switch c := v.(type) {
	case []any:
		return c
	case map[string]any:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, c[k])
		}

		return out
	default:
		return nil
	}
}

func isUsable(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// maxCount matches history.MaxCount: larger counts are invalid.
const maxCount = math.MaxInt32

// count converts an optional JSON number into a non-negative count.
func count(f *float64) int {
	if f == nil || !isUsable(*f) || *f <= 0 || *f > maxCount {
		return 0
	}

	return int(math.Floor(*f))
}
