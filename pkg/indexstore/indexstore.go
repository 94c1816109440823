package indexstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/testtrend/pkg/config"
	"github.com/ethpandaops/testtrend/pkg/history"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store mirrors the history series into a SQL database.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertRun(ctx context.Context, run *Run) error
	SyncRecords(
		ctx context.Context, project string, records []history.Record,
	) (int, error)
	ListRuns(ctx context.Context, project string) ([]Run, error)
	ListProjects(ctx context.Context) ([]string, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a new index Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
		now: time.Now,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	s.db = db

	if s.cfg.Driver == "sqlite" {
		// A single connection keeps in-memory databases shared and
		// serializes writers.
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(&Run{}); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertRun inserts or updates a run keyed by project + date. The latest
// write wins, matching the same-day replacement of the history file.
func (s *store) UpsertRun(ctx context.Context, run *Run) error {
	return upsertRun(s.db.WithContext(ctx), run, s.now())
}

func upsertRun(tx *gorm.DB, run *Run, now time.Time) error {
	run.IndexedAt = now.UTC()

	result := tx.
		Where("project = ? AND date = ?", run.Project, run.Date).
		Assign(map[string]any{
			"timestamp":        run.Timestamp,
			"recorded_at":      run.RecordedAt,
			"total":            run.Total,
			"passed":           run.Passed,
			"failed":           run.Failed,
			"skipped":          run.Skipped,
			"duration_minutes": run.DurationMinutes,
			"run_url":          run.RunURL,
			"indexed_at":       run.IndexedAt,
		}).
		FirstOrCreate(run)
	if result.Error != nil {
		return fmt.Errorf("upserting run: %w", result.Error)
	}

	return nil
}

// SyncRecords upserts every record of the series under project in a
// single transaction. Records without a date are skipped. Returns the
// number of rows written.
func (s *store) SyncRecords(
	ctx context.Context, project string, records []history.Record,
) (int, error) {
	now := s.now()
	written := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			if rec.Date == "" {
				continue
			}

			if err := upsertRun(tx, RunFromRecord(project, rec), now); err != nil {
				return err
			}

			written++
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("syncing records: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"project": project,
		"runs":    written,
	}).Info("Synced history to index")

	return written, nil
}

// ListRuns returns all runs of a project, newest first.
func (s *store) ListRuns(
	ctx context.Context, project string,
) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where("project = ?", project).
		Order("date DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListProjects returns the distinct project names in the index.
func (s *store) ListProjects(ctx context.Context) ([]string, error) {
	var projects []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Distinct("project").
		Order("project").
		Pluck("project", &projects).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	return projects, nil
}
