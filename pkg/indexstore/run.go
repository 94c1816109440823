package indexstore

import (
	"time"

	"github.com/ethpandaops/testtrend/pkg/history"
)

// Run is one day's test outcome of a project, mirrored from the history
// file.
type Run struct {
	ID      uint   `gorm:"primaryKey"`
	Project string `gorm:"not null;uniqueIndex:idx_runs_project_date"`
	Date    string `gorm:"not null;uniqueIndex:idx_runs_project_date"`

	Timestamp  string
	RecordedAt time.Time `gorm:"index"`

	Total   int
	Passed  int
	Failed  int
	Skipped int

	// DurationMinutes is NULL when the duration of the run is unknown.
	DurationMinutes *float64
	RunURL          string

	IndexedAt time.Time
}

// RunFromRecord converts a history record into a Run of project.
func RunFromRecord(project string, rec history.Record) *Run {
	run := &Run{
		Project:         project,
		Date:            rec.Date,
		Timestamp:       rec.Timestamp,
		Total:           rec.Total,
		Passed:          rec.Passed,
		Failed:          rec.Failed,
		Skipped:         rec.Skipped,
		DurationMinutes: rec.DurationMinutes,
		RunURL:          rec.RunURL,
	}

	if ts, ok := rec.Time(); ok {
		run.RecordedAt = ts.UTC()
	}

	return run
}

// Record converts the run back into a history record.
func (r *Run) Record() history.Record {
	return history.Record{
		Timestamp:       r.Timestamp,
		Date:            r.Date,
		Total:           r.Total,
		Passed:          r.Passed,
		Failed:          r.Failed,
		Skipped:         r.Skipped,
		DurationMinutes: r.DurationMinutes,
		RunURL:          r.RunURL,
	}
}
