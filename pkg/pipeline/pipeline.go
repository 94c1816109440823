package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/testtrend/pkg/config"
	"github.com/ethpandaops/testtrend/pkg/dashboard"
	"github.com/ethpandaops/testtrend/pkg/fsutil"
	"github.com/ethpandaops/testtrend/pkg/history"
	"github.com/ethpandaops/testtrend/pkg/indexstore"
	"github.com/ethpandaops/testtrend/pkg/report"
	"github.com/ethpandaops/testtrend/pkg/upload"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAborted is returned when a policy set to "abort" was triggered.
	// The dashboard is still rendered from the unchanged history.
	ErrAborted = errors.New("run aborted by policy")

	// ErrPanic is returned when the run panicked.
	ErrPanic = errors.New("run panicked")
)

// Result describes the outcome of a run.
type Result struct {
	// Recorded is set when a record was merged into the history.
	Recorded bool
	// Skipped is set when the report had no stats and the history was
	// left untouched.
	Skipped bool
	// Degraded is set when the report was missing or had no stats.
	Degraded bool
	// Records is the length of the rendered series.
	Records      int
	Record       *history.Record
	ArtifactPath string
	MarkdownPath string
	Indexed      int
	Upload       *upload.Summary
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the clock used to date records and apply retention.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithUploader sets the uploader used when S3 upload is enabled.
func WithUploader(u upload.Uploader) Option {
	return func(p *Pipeline) {
		p.uploader = u
	}
}

// WithIndexStore sets the index store used when the index is enabled.
func WithIndexStore(s indexstore.Store) Option {
	return func(p *Pipeline) {
		p.index = s
	}
}

// Pipeline runs one invocation: read the report, merge it into the
// history and render the dashboard.
type Pipeline struct {
	log      logrus.FieldLogger
	cfg      *config.Config
	now      func() time.Time
	owner    *fsutil.OwnerConfig
	store    history.Store
	uploader upload.Uploader
	index    indexstore.Store
}

// New creates a Pipeline for cfg.
func New(log logrus.FieldLogger, cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	owner, err := fsutil.ParseOwner(cfg.Global.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing owner: %w", err)
	}

	p := &Pipeline{
		log:   log.WithField("component", "pipeline"),
		cfg:   cfg,
		now:   time.Now,
		owner: owner,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.store = history.NewStore(log, history.Options{
		Path:          cfg.HistoryPath(),
		RetentionDays: cfg.History.RetentionDays,
		Owner:         owner,
		Now:           p.now,
	})

	if cfg.Upload.S3.Enabled && p.uploader == nil {
		u, err := upload.NewS3Uploader(log, &cfg.Upload.S3, owner)
		if err != nil {
			return nil, fmt.Errorf("creating uploader: %w", err)
		}

		p.uploader = u
	}

	if cfg.Index.Enabled && p.index == nil {
		p.index = indexstore.NewStore(log, &cfg.Index.Database)
	}

	return p, nil
}

// Run executes the pipeline. A dashboard is always written: when the run
// fails before rendering, an empty dashboard is written in its place.
func (p *Pipeline) Run(ctx context.Context) (res *Result, err error) {
	res = &Result{ArtifactPath: p.cfg.DashboardPath()}
	rendered := false

	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("stack", string(debug.Stack())).
				Errorf("Run panicked: %v", r)

			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}

		if err != nil && !errors.Is(err, ErrAborted) && !rendered {
			p.renderFallback()
		}
	}()

	if err := p.restoreHistory(ctx); err != nil {
		return res, err
	}

	obs, err := p.observe(res)
	if err != nil {
		return res, err
	}

	series, err := p.store.Load()
	if err != nil {
		return res, fmt.Errorf("loading history: %w", err)
	}

	if obs.record != nil {
		series, err = p.store.Merge(series, *obs.record)
		if err != nil {
			return res, fmt.Errorf("merging history: %w", err)
		}

		res.Recorded = true
		res.Record = obs.record
	} else {
		series = p.store.Retain(series)
	}

	res.Records = len(series)

	if err := p.render(series, res); err != nil {
		return res, err
	}

	rendered = true

	if obs.abort != nil {
		return res, obs.abort
	}

	if err := p.publish(ctx, series, res); err != nil {
		return res, err
	}

	p.log.WithFields(logrus.Fields{
		"recorded": res.Recorded,
		"skipped":  res.Skipped,
		"degraded": res.Degraded,
		"records":  res.Records,
	}).Info("Dashboard generated")

	return res, nil
}

// observation is the decision taken from the runner report.
type observation struct {
	// record is merged into the history when set.
	record *history.Record
	// abort fails the run once the dashboard has been rendered.
	abort error
}

// observe reads the runner report and decides which record, if any, is
// merged into the history.
func (p *Pipeline) observe(res *Result) (observation, error) {
	log := p.log.WithField("report", p.cfg.Report.Path)

	raw, err := report.Load(p.cfg.Report.Path)

	switch {
	case err == nil:
	case errors.Is(err, report.ErrReportNotFound):
		res.Degraded = true

		if p.cfg.Report.MissingPolicy == config.MissingReportAbort {
			log.Error("Report not found, aborting")

			return observation{abort: fmt.Errorf("%w: %w", ErrAborted, err)}, nil
		}

		log.Warn("Report not found, rendering history only")

		return observation{}, nil
	case errors.Is(err, report.ErrReportMalformed):
		log.WithError(err).Warn("Report is malformed")
	default:
		return observation{}, fmt.Errorf("loading report: %w", err)
	}

	ext := report.Extract(raw)
	if ext.Found {
		log.WithFields(logrus.Fields{
			"source": ext.Source,
			"total":  ext.Stats.Total,
			"passed": ext.Stats.Passed,
			"failed": ext.Stats.Failed,
		}).Info("Read test stats")

		rec := p.newRecord(ext.Stats)

		return observation{record: &rec}, nil
	}

	res.Degraded = true

	switch p.cfg.Report.StatsPolicy {
	case config.MissingStatsSkip:
		log.Warn("No stats found in report, leaving history untouched")

		res.Skipped = true

		return observation{}, nil
	case config.MissingStatsAbort:
		log.Error("No stats found in report, aborting")

		return observation{
			abort: fmt.Errorf("%w: no stats in report %s", ErrAborted, p.cfg.Report.Path),
		}, nil
	default:
		log.Warn("No stats found in report, recording an empty run")

		rec := p.newRecord(report.Stats{})

		return observation{record: &rec}, nil
	}
}

func (p *Pipeline) newRecord(stats report.Stats) history.Record {
	var duration *time.Duration

	if stats.DurationKnown {
		d := time.Duration(stats.DurationMs * float64(time.Millisecond))
		duration = &d
	}

	return history.NewRecord(p.now(), history.Counts{
		Total:   stats.Total,
		Passed:  stats.Passed,
		Failed:  stats.Failed,
		Skipped: stats.Skipped,
	}, duration, p.cfg.Link.RunURL())
}

func (p *Pipeline) renderOptions() dashboard.Options {
	return dashboard.Options{
		Title:         p.cfg.Dashboard.Title,
		RetentionDays: p.cfg.History.RetentionDays,
		ChartJSURL:    p.cfg.Dashboard.ChartJSURL,
		GeneratedAt:   p.now(),
	}
}

// render writes the HTML dashboard and, when configured, the Markdown
// summary.
func (p *Pipeline) render(series []history.Record, res *Result) error {
	opts := p.renderOptions()

	html, err := dashboard.Render(series, opts)
	if err != nil {
		return fmt.Errorf("rendering dashboard: %w", err)
	}

	if err := fsutil.WriteFile(res.ArtifactPath, html, 0o644, p.owner); err != nil {
		return fmt.Errorf("writing dashboard: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"path": res.ArtifactPath,
		"size": units.HumanSize(float64(len(html))),
	}).Info("Wrote dashboard")

	if p.cfg.Dashboard.MarkdownFile == "" {
		return nil
	}

	md := dashboard.RenderMarkdown(series, opts)

	if err := fsutil.WriteFile(p.cfg.Dashboard.MarkdownFile, []byte(md), 0o644, p.owner); err != nil {
		return fmt.Errorf("writing markdown summary: %w", err)
	}

	res.MarkdownPath = p.cfg.Dashboard.MarkdownFile

	p.log.WithField("path", res.MarkdownPath).Info("Wrote markdown summary")

	return nil
}

// renderFallback writes an empty dashboard. Failures are only logged.
func (p *Pipeline) renderFallback() {
	path := p.cfg.DashboardPath()

	html, err := dashboard.Render(nil, p.renderOptions())
	if err != nil {
		p.log.WithError(err).Error("Failed to render fallback dashboard")

		return
	}

	if err := fsutil.WriteFile(path, html, 0o644, p.owner); err != nil {
		p.log.WithError(err).Error("Failed to write fallback dashboard")

		return
	}

	p.log.WithField("path", path).Warn("Wrote empty fallback dashboard")
}

// restoreHistory fetches the published history file when configured.
func (p *Pipeline) restoreHistory(ctx context.Context) error {
	if p.uploader == nil || !p.cfg.Upload.S3.RestoreHistory {
		return nil
	}

	if _, err := p.uploader.Restore(ctx, p.cfg.History.File, p.store.Path()); err != nil {
		return fmt.Errorf("restoring history: %w", err)
	}

	return nil
}

// publish mirrors the series into the index and uploads the output
// directory, when enabled.
func (p *Pipeline) publish(ctx context.Context, series []history.Record, res *Result) error {
	if p.index != nil {
		n, err := SyncIndex(ctx, p.index, p.cfg.Index.Project, series)
		if err != nil {
			return err
		}

		res.Indexed = n
	}

	if p.uploader != nil {
		summary, err := p.uploader.Upload(ctx, p.cfg.Global.OutputDir)
		if err != nil {
			return fmt.Errorf("uploading dashboard: %w", err)
		}

		res.Upload = summary
	}

	return nil
}

// SyncIndex opens the index store, mirrors series into it and closes it.
func SyncIndex(
	ctx context.Context, store indexstore.Store, project string, series []history.Record,
) (int, error) {
	if err := store.Start(ctx); err != nil {
		return 0, fmt.Errorf("starting index store: %w", err)
	}

	defer func() { _ = store.Stop() }()

	n, err := store.SyncRecords(ctx, project, series)
	if err != nil {
		return 0, fmt.Errorf("syncing index: %w", err)
	}

	return n, nil
}
