package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "TESTTREND"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultOutputDir is the default directory for the history file and
	// the rendered dashboard.
	DefaultOutputDir = "dashboard-output"

	// DefaultReportPath is where the Playwright JSON reporter writes by default.
	DefaultReportPath = "results/report.json"

	// DefaultHistoryFile is the history file name inside the output directory.
	DefaultHistoryFile = "report_history.json"

	// DefaultRetentionDays is the trailing window of days kept in history.
	DefaultRetentionDays = 15

	// DefaultDashboardFile is the dashboard file name inside the output directory.
	DefaultDashboardFile = "index.html"

	// DefaultDashboardTitle is the page heading of the dashboard.
	DefaultDashboardTitle = "Playwright Test Dashboard"

	// DefaultChartJSURL is the Chart.js bundle referenced by the dashboard.
	DefaultChartJSURL = "https://cdn.jsdelivr.net/npm/chart.js@3.7.1/dist/chart.min.js"

	// DefaultIndexProject is the project name used for index rows.
	DefaultIndexProject = "default"

	// DefaultIndexFile is the SQLite index file name inside the output directory.
	DefaultIndexFile = "index.db"
)

// Policies applied when the runner report is missing.
const (
	MissingReportDegrade = "degrade"
	MissingReportAbort   = "abort"
)

// Policies applied when the report contains no usable stats block.
const (
	MissingStatsZero  = "zero"
	MissingStatsSkip  = "skip"
	MissingStatsAbort = "abort"
)

// Config is the root configuration for testtrend.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	History   HistoryConfig   `yaml:"history" mapstructure:"history"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	Link      LinkConfig      `yaml:"link" mapstructure:"link"`
	Upload    UploadConfig    `yaml:"upload" mapstructure:"upload"`
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" mapstructure:"log_level"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	// Owner is an optional "UID:GID" applied to written files.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// ReportConfig describes the runner report consumed on each invocation.
type ReportConfig struct {
	Path          string `yaml:"path" mapstructure:"path"`
	MissingPolicy string `yaml:"missing_policy" mapstructure:"missing_policy"`
	StatsPolicy   string `yaml:"stats_policy" mapstructure:"stats_policy"`
}

// HistoryConfig contains the history file settings.
type HistoryConfig struct {
	File          string `yaml:"file" mapstructure:"file"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
}

// DashboardConfig contains the rendered artifact settings.
type DashboardConfig struct {
	File         string `yaml:"file" mapstructure:"file"`
	MarkdownFile string `yaml:"markdown_file,omitempty" mapstructure:"markdown_file"`
	Title        string `yaml:"title" mapstructure:"title"`
	ChartJSURL   string `yaml:"chartjs_url" mapstructure:"chartjs_url"`
}

// LinkConfig holds the CI identifiers used to link each record to the run
// that produced it. Falls back to the GitHub Actions environment.
type LinkConfig struct {
	ServerURL  string `yaml:"server_url,omitempty" mapstructure:"server_url"`
	Repository string `yaml:"repository,omitempty" mapstructure:"repository"`
	RunID      string `yaml:"run_id,omitempty" mapstructure:"run_id"`
}

// UploadConfig configures publishing of the output directory.
type UploadConfig struct {
	S3 S3UploadConfig `yaml:"s3" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	// Exclude lists file name patterns kept out of the upload.
	Exclude []string `yaml:"exclude,omitempty" mapstructure:"exclude"`
	// RestoreHistory downloads the published history file before it is
	// loaded, for CI workspaces that start empty.
	RestoreHistory bool `yaml:"restore_history" mapstructure:"restore_history"`
}

// IndexConfig configures the optional database mirror of the history.
type IndexConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Project  string         `yaml:"project" mapstructure:"project"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// Load reads the configuration file at path, if any, and applies
// environment overrides (TESTTREND_<SECTION>_<KEY>) and defaults.
// An empty path yields a configuration built from defaults and the
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("binding environment: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve overrides
// for keys missing from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("global.output_dir", DefaultOutputDir)
	v.SetDefault("global.owner", "")

	v.SetDefault("report.path", DefaultReportPath)
	v.SetDefault("report.missing_policy", MissingReportDegrade)
	v.SetDefault("report.stats_policy", MissingStatsZero)

	v.SetDefault("history.file", DefaultHistoryFile)
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("dashboard.file", DefaultDashboardFile)
	v.SetDefault("dashboard.markdown_file", "")
	v.SetDefault("dashboard.title", DefaultDashboardTitle)
	v.SetDefault("dashboard.chartjs_url", DefaultChartJSURL)

	v.SetDefault("upload.s3.enabled", false)
	v.SetDefault("upload.s3.endpoint_url", "")
	v.SetDefault("upload.s3.region", "")
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.access_key_id", "")
	v.SetDefault("upload.s3.secret_access_key", "")
	v.SetDefault("upload.s3.force_path_style", false)
	v.SetDefault("upload.s3.prefix", "")
	v.SetDefault("upload.s3.storage_class", "")
	v.SetDefault("upload.s3.acl", "")
	v.SetDefault("upload.s3.exclude", []string{"*.db"})
	v.SetDefault("upload.s3.restore_history", false)

	v.SetDefault("index.enabled", false)
	v.SetDefault("index.project", DefaultIndexProject)
	v.SetDefault("index.database.driver", "sqlite")
	v.SetDefault("index.database.sqlite.path", "")
	v.SetDefault("index.database.postgres.host", "")
	v.SetDefault("index.database.postgres.port", 5432)
	v.SetDefault("index.database.postgres.user", "")
	v.SetDefault("index.database.postgres.password", "")
	v.SetDefault("index.database.postgres.database", "")
	v.SetDefault("index.database.postgres.ssl_mode", "disable")
}

// bindEnv maps the link settings to the GitHub Actions environment, with
// the prefixed variables taking precedence.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"link.server_url": {"TESTTREND_LINK_SERVER_URL", "GITHUB_SERVER_URL"},
		"link.repository": {"TESTTREND_LINK_REPOSITORY", "GITHUB_REPOSITORY"},
		"link.run_id":     {"TESTTREND_LINK_RUN_ID", "GITHUB_RUN_ID"},
	}

	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}

	return nil
}

// applyDefaults sets default values for options left empty in the file.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.OutputDir == "" {
		c.Global.OutputDir = DefaultOutputDir
	}

	if c.Report.Path == "" {
		c.Report.Path = DefaultReportPath
	}

	if c.Report.MissingPolicy == "" {
		c.Report.MissingPolicy = MissingReportDegrade
	}

	if c.Report.StatsPolicy == "" {
		c.Report.StatsPolicy = MissingStatsZero
	}

	if c.History.File == "" {
		c.History.File = DefaultHistoryFile
	}

	if c.Dashboard.File == "" {
		c.Dashboard.File = DefaultDashboardFile
	}

	if c.Dashboard.Title == "" {
		c.Dashboard.Title = DefaultDashboardTitle
	}

	if c.Dashboard.ChartJSURL == "" {
		c.Dashboard.ChartJSURL = DefaultChartJSURL
	}

	if c.Index.Project == "" {
		c.Index.Project = DefaultIndexProject
	}

	if c.Index.Database.SQLite.Path == "" {
		c.Index.Database.SQLite.Path = filepath.Join(c.Global.OutputDir, DefaultIndexFile)
	}
}

// SetOutputDir changes the output directory. A SQLite index path derived
// from the previous output directory moves along with it.
func (c *Config) SetOutputDir(dir string) {
	if c.Index.Database.SQLite.Path == filepath.Join(c.Global.OutputDir, DefaultIndexFile) {
		c.Index.Database.SQLite.Path = filepath.Join(dir, DefaultIndexFile)
	}

	c.Global.OutputDir = dir
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Report.MissingPolicy {
	case MissingReportDegrade, MissingReportAbort:
	default:
		return fmt.Errorf(
			"report.missing_policy: unknown policy %q (use %q or %q)",
			c.Report.MissingPolicy, MissingReportDegrade, MissingReportAbort,
		)
	}

	switch c.Report.StatsPolicy {
	case MissingStatsZero, MissingStatsSkip, MissingStatsAbort:
	default:
		return fmt.Errorf(
			"report.stats_policy: unknown policy %q (use %q, %q or %q)",
			c.Report.StatsPolicy, MissingStatsZero, MissingStatsSkip, MissingStatsAbort,
		)
	}

	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must not be negative, got %d",
			c.History.RetentionDays)
	}

	if filepath.Base(c.History.File) != c.History.File {
		return fmt.Errorf("history.file %q must be a plain file name", c.History.File)
	}

	if filepath.Base(c.Dashboard.File) != c.Dashboard.File {
		return fmt.Errorf("dashboard.file %q must be a plain file name", c.Dashboard.File)
	}

	if c.History.File == c.Dashboard.File {
		return fmt.Errorf("history.file and dashboard.file must differ")
	}

	if c.Upload.S3.Enabled && c.Upload.S3.Bucket == "" {
		return fmt.Errorf("upload.s3.bucket is required when S3 upload is enabled")
	}

	if c.Index.Enabled {
		switch c.Index.Database.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("index.database.driver: unsupported driver %q",
				c.Index.Database.Driver)
		}
	}

	return nil
}

// HistoryPath returns the full path of the history file.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Global.OutputDir, c.History.File)
}

// DashboardPath returns the full path of the rendered dashboard.
func (c *Config) DashboardPath() string {
	return filepath.Join(c.Global.OutputDir, c.Dashboard.File)
}

// RunURL builds the link to the CI run that invoked the tool. Returns an
// empty string unless all three identifiers are known.
func (l *LinkConfig) RunURL() string {
	if l.ServerURL == "" || l.Repository == "" || l.RunID == "" {
		return ""
	}

	return fmt.Sprintf("%s/%s/actions/runs/%s",
		strings.TrimRight(l.ServerURL, "/"),
		strings.Trim(l.Repository, "/"),
		l.RunID,
	)
}
