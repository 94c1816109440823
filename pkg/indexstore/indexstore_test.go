package indexstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/testtrend/pkg/config"
	"github.com/ethpandaops/testtrend/pkg/history"
	"github.com/ethpandaops/testtrend/pkg/indexstore"
)

func setupTestStore(t *testing.T) indexstore.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := indexstore.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func minutes(m float64) *float64 {
	return &m
}

func TestStore_UpsertAndListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runs := []*indexstore.Run{
		{Project: "web", Date: "2024-01-01", Total: 10, Passed: 9, Failed: 1},
		{Project: "web", Date: "2024-01-02", Total: 11, Passed: 11},
		{Project: "api", Date: "2024-01-01", Total: 3, Passed: 3},
	}

	for _, run := range runs {
		require.NoError(t, s.UpsertRun(ctx, run))
	}

	webRuns, err := s.ListRuns(ctx, "web")
	require.NoError(t, err)
	require.Len(t, webRuns, 2)
	assert.Equal(t, "2024-01-02", webRuns[0].Date, "newest first")
	assert.Equal(t, "2024-01-01", webRuns[1].Date)
	assert.False(t, webRuns[0].IndexedAt.IsZero())

	apiRuns, err := s.ListRuns(ctx, "api")
	require.NoError(t, err)
	require.Len(t, apiRuns, 1)

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "web"}, projects)
}

func TestStore_UpsertRunReplacesSameDay(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRun(ctx, &indexstore.Run{
		Project: "web", Date: "2024-01-01",
		Total: 5, Passed: 3, Failed: 2,
		DurationMinutes: minutes(1.5),
	}))

	// Same project and date: the latest write wins, zero values included.
	require.NoError(t, s.UpsertRun(ctx, &indexstore.Run{
		Project: "web", Date: "2024-01-01",
		Total: 10, Passed: 10, Failed: 0,
	}))

	runs, err := s.ListRuns(ctx, "web")
	require.NoError(t, err)
	require.Len(t, runs, 1, "upsert must not duplicate the row")

	assert.Equal(t, 10, runs[0].Total)
	assert.Equal(t, 10, runs[0].Passed)
	assert.Equal(t, 0, runs[0].Failed)
	assert.Nil(t, runs[0].DurationMinutes)
}

func TestStore_SyncRecords(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	series := []history.Record{
		{
			Timestamp: "2024-01-01T10:00:00.000Z", Date: "2024-01-01",
			Total: 10, Passed: 9, Failed: 1, DurationMinutes: minutes(2),
			RunURL: "https://github.com/acme/web/actions/runs/1",
		},
		{
			Timestamp: "2024-01-02T10:00:00.000Z", Date: "2024-01-02",
			Total: 10, Passed: 10,
		},
		{Timestamp: "garbage"},
	}

	written, err := s.SyncRecords(ctx, "web", series)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	// Re-syncing the same series is idempotent.
	written, err = s.SyncRecords(ctx, "web", series)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	runs, err := s.ListRuns(ctx, "web")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	oldest := runs[1]
	assert.Equal(t, series[0], oldest.Record())
	assert.Equal(t, 2024, oldest.RecordedAt.Year())
}

func TestStore_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: path},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	ctx := context.Background()

	s := indexstore.NewStore(log, cfg)
	require.NoError(t, s.Start(ctx))
	_, err := s.SyncRecords(ctx, "web", []history.Record{{Date: "2024-01-01", Total: 1, Passed: 1}})
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	reopened := indexstore.NewStore(log, cfg)
	require.NoError(t, reopened.Start(ctx))

	t.Cleanup(func() { _ = reopened.Stop() })

	runs, err := reopened.ListRuns(ctx, "web")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Passed)
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := indexstore.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
	assert.NoError(t, s.Stop())
}

func TestRunFromRecord(t *testing.T) {
	rec := history.Record{
		Timestamp: "2024-01-01T10:00:00.000Z", Date: "2024-01-01",
		Total: 4, Passed: 2, Failed: 1, Skipped: 1,
	}

	run := indexstore.RunFromRecord("web", rec)

	assert.Equal(t, "web", run.Project)
	assert.Equal(t, "2024-01-01", run.Date)
	assert.Equal(t, 10, run.RecordedAt.Hour())
	assert.Equal(t, rec, run.Record())
}
