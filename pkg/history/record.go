package history

import (
	"math"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	// TimestampLayout matches the ISO-8601 form written by JavaScript's
	// Date.toISOString, which older history files use.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

	// DateLayout is the layout of the per-day natural key.
	DateLayout = "2006-01-02"
)

// Record is one calendar day's test outcome.
type Record struct {
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Date      string `json:"date" yaml:"date"`
	Total     int    `json:"total" yaml:"total"`
	Passed    int    `json:"passed" yaml:"passed"`
	Failed    int    `json:"failed" yaml:"failed"`
	Skipped   int    `json:"skipped" yaml:"skipped"`
	// DurationMinutes is nil when the run's duration is unknown.
	DurationMinutes *float64 `json:"durationMinutes,omitempty" yaml:"durationMinutes,omitempty"`
	RunURL          string   `json:"runUrl" yaml:"runUrl"`
}

// Counts groups the test counts of a run.
type Counts struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

// rawRecord is a history entry as found on disk. Entries written by older
// versions may miss fields or store the duration in whole minutes under
// "duration".
type rawRecord struct {
	Timestamp       *string  `mapstructure:"timestamp"`
	Date            *string  `mapstructure:"date"`
	Total           *float64 `mapstructure:"total"`
	Passed          *float64 `mapstructure:"passed"`
	Failed          *float64 `mapstructure:"failed"`
	Skipped         *float64 `mapstructure:"skipped"`
	DurationMinutes *float64 `mapstructure:"durationMinutes"`
	Duration        *float64 `mapstructure:"duration"`
	RunURL          *string  `mapstructure:"runUrl"`
}

// NewRecord creates the record for a run observed at now. The record is
// always dated from now, never from the report.
func NewRecord(now time.Time, counts Counts, duration *time.Duration, runURL string) Record {
	rec := Record{
		Timestamp: FormatTimestamp(now),
		Date:      now.UTC().Format(DateLayout),
		Total:     nonNegative(counts.Total),
		Passed:    nonNegative(counts.Passed),
		Failed:    nonNegative(counts.Failed),
		Skipped:   nonNegative(counts.Skipped),
		RunURL:    runURL,
	}

	if duration != nil {
		minutes := math.Max(duration.Minutes(), 0)
		rec.DurationMinutes = &minutes
	}

	return rec
}

// Normalize upgrades an untrusted history entry into a Record. Missing or
// invalid counts become 0, and a missing date is derived from the
// timestamp. Normalizing an already normalized record is a no-op.
func Normalize(m map[string]any) Record {
	var raw rawRecord

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: &raw,
	})
	if err == nil {
		// Fields with the wrong type stay nil; the rest still decode.
		_ = dec.Decode(m)
	}

	rec := Record{
		Timestamp: deref(raw.Timestamp),
		Date:      deref(raw.Date),
		Total:     count(raw.Total),
		Passed:    count(raw.Passed),
		Failed:    count(raw.Failed),
		Skipped:   count(raw.Skipped),
		RunURL:    deref(raw.RunURL),
	}

	if rec.Date == "" {
		if ts, ok := parseTimestamp(rec.Timestamp); ok {
			rec.Date = ts.UTC().Format(DateLayout)
		}
	}

	switch {
	case usable(raw.DurationMinutes):
		minutes := math.Max(*raw.DurationMinutes, 0)
		rec.DurationMinutes = &minutes
	case usable(raw.Duration):
		minutes := math.Max(*raw.Duration, 0)
		rec.DurationMinutes = &minutes
	}

	return rec
}

// Time returns the instant a record was written. Records with an
// unparseable timestamp fall back to midnight UTC of their date.
func (r Record) Time() (time.Time, bool) {
	if ts, ok := parseTimestamp(r.Timestamp); ok {
		return ts, true
	}

	if d, err := time.Parse(DateLayout, r.Date); err == nil {
		return d, true
	}

	return time.Time{}, false
}

// FormatTimestamp renders t the way records store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}

	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}

	return ts, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

func usable(f *float64) bool {
	return f != nil && !math.IsNaN(*f) && !math.IsInf(*f, 0)
}

// MaxCount is the largest test count accepted. Larger values are treated
// as invalid and become 0, so counts stay non-negative when summed.
const MaxCount = math.MaxInt32

// count converts an optional JSON number into a non-negative count.
func count(f *float64) int {
	if !usable(f) || *f <= 0 || *f > MaxCount {
		return 0
	}

	return int(math.Floor(*f))
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}

	return n
}
