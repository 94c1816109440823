package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethpandaops/testtrend/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

// DefaultRetentionDays is the trailing window used when none is configured.
const DefaultRetentionDays = 15

// Store owns the on-disk history series.
type Store interface {
	// Path returns the location of the history file.
	Path() string

	// Load reads the series from disk. An absent or unreadable file yields
	// an empty series; only I/O failures are returned as errors.
	Load() ([]Record, error)

	// Retain drops records older than the retention window, relative to
	// the store's clock.
	Retain(series []Record) []Record

	// Persist replaces the history file with series.
	Persist(series []Record) error

	// Merge upserts rec, applies retention and persists the result.
	Merge(series []Record, rec Record) ([]Record, error)
}

// Options configures a Store.
type Options struct {
	Path string
	// RetentionDays is the trailing window of days kept at persist time.
	// Zero or less keeps everything.
	RetentionDays int
	Owner         *fsutil.OwnerConfig
	// Now defaults to time.Now.
	Now func() time.Time
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log  logrus.FieldLogger
	opts Options
}

// NewStore creates a Store for the history file described by opts.
func NewStore(log logrus.FieldLogger, opts Options) Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &store{
		log:  log.WithField("component", "history"),
		opts: opts,
	}
}

func (s *store) Path() string {
	return s.opts.Path
}

func (s *store) Load() ([]Record, error) {
	log := s.log.WithField("path", s.opts.Path)

	data, err := os.ReadFile(s.opts.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info("History file not found, starting with empty history")

			return []Record{}, nil
		}

		return nil, fmt.Errorf("reading history file: %w", err)
	}

	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		log.WithError(err).Warn("History file is unreadable, starting fresh")

		return []Record{}, nil
	}

	series := make([]Record, 0, len(items))

	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			log.WithField("index", i).Warn("Dropping history entry that is not an object")

			continue
		}

		series = append(series, Normalize(m))
	}

	log.WithField("entries", len(series)).Info("Loaded history")

	return series, nil
}

func (s *store) Retain(series []Record) []Record {
	return ApplyRetention(series, s.opts.RetentionDays, s.opts.Now())
}

func (s *store) Persist(series []Record) error {
	if series == nil {
		series = []Record{}
	}

	data, err := json.MarshalIndent(series, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}

	if err := fsutil.WriteFile(s.opts.Path, data, 0o644, s.opts.Owner); err != nil {
		return fmt.Errorf("writing history file: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"path":    s.opts.Path,
		"entries": len(series),
	}).Info("Persisted history")

	return nil
}

func (s *store) Merge(series []Record, rec Record) ([]Record, error) {
	merged := s.Retain(Upsert(series, rec))

	if err := s.Persist(merged); err != nil {
		return nil, err
	}

	return merged, nil
}

// Upsert replaces the record sharing rec's date, keeping its position, or
// appends rec when no record exists for that day. The input slice is not
// modified.
func Upsert(series []Record, rec Record) []Record {
	out := make([]Record, len(series), len(series)+1)
	copy(out, series)

	for i := range out {
		if out[i].Date == rec.Date {
			out[i] = rec

			return out
		}
	}

	return append(out, rec)
}

// ApplyRetention keeps records written at or after now minus windowDays
// calendar days. Records without a usable timestamp or date are dropped.
// A window of zero or less keeps every record.
func ApplyRetention(series []Record, windowDays int, now time.Time) []Record {
	out := make([]Record, 0, len(series))

	if windowDays <= 0 {
		return append(out, series...)
	}

	cutoff := now.AddDate(0, 0, -windowDays)

	for _, rec := range series {
		ts, ok := rec.Time()
		if !ok || ts.Before(cutoff) {
			continue
		}

		out = append(out, rec)
	}

	return out
}
