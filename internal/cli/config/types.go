// Package config loads the impalineage configuration.
//
// Values are layered from built-in defaults, a YAML file, IMPALINEAGE_*
// environment variables and command-line flags, later layers winning.
package config

import "time"

// Config holds all configuration options.
type Config struct {
	Verbose bool         `koanf:"verbose"`
	Output  string       `koanf:"output"`
	Log     LogConfig    `koanf:"log"`
	Source  SourceConfig `koanf:"source"`
	Query   QueryConfig  `koanf:"query"`
	Tasks   TasksConfig  `koanf:"tasks"`
	Search  SearchConfig `koanf:"search"`
	Ingest  IngestConfig `koanf:"ingest"`
	Report  ReportConfig `koanf:"report"`
	Store   StoreConfig  `koanf:"store"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SourceConfig is the cluster manager connection.
type SourceConfig struct {
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	APIVersion string        `koanf:"api_version"`
	Cluster    string        `koanf:"cluster"`
	Service    string        `koanf:"service"`
	Username   string        `koanf:"username"`
	Password   string        `koanf:"password"`
	TLS        TLSConfig     `koanf:"tls"`
	Timeout    time.Duration `koanf:"timeout"`
	RateLimit  float64       `koanf:"rate_limit"`
	Burst      int           `koanf:"burst"`
	MaxRetries int           `koanf:"max_retries"`
}

// TLSConfig configures HTTPS to the cluster manager.
type TLSConfig struct {
	Enabled            bool   `koanf:"enabled"`
	CAFile             string `koanf:"ca_file"`
	InsecureSkipVerify bool   `koanf:"insecure_skip_verify"`
}

// QueryConfig selects the query history to ingest.
type QueryConfig struct {
	StartTime string `koanf:"start_time"`
	EndTime   string `koanf:"end_time"`
	Filter    string `koanf:"filter"`
	BatchSize int    `koanf:"batch_size"`
}

// TasksConfig locates the task list.
type TasksConfig struct {
	Path           string `koanf:"path"`
	Format         string `koanf:"format"`
	SkipHeader     bool   `koanf:"skip_header"`
	OnlySuccessful bool   `koanf:"only_successful"`
}

// SearchConfig holds the lineage search options.
type SearchConfig struct {
	Strategy          string   `koanf:"strategy"`
	ExcludeTables     []string `koanf:"exclude_tables"`
	ExcludeKeywords   []string `koanf:"exclude_keywords"`
	IgnoreSourceDB    bool     `koanf:"ignore_source_db"`
	SkipFullyExcluded bool     `koanf:"skip_fully_excluded"`
	Parallelism       int      `koanf:"parallelism"`
}

// IngestConfig holds the ingestion policy.
type IngestConfig struct {
	AllowPartial bool `koanf:"allow_partial"`
}

// ReportConfig selects the report format and destination.
type ReportConfig struct {
	Format string   `koanf:"format"`
	Output string   `koanf:"output"`
	S3     S3Config `koanf:"s3"`
}

// S3Config is the optional report upload target.
type S3Config struct {
	Bucket          string `koanf:"bucket"`
	Prefix          string `koanf:"prefix"`
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	PathStyle       bool   `koanf:"path_style"`
}

// StoreConfig is the optional run archive.
type StoreConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// Default configuration values.
const (
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultOutput      = "auto"
	DefaultPort        = 7180
	DefaultAPIVersion  = "v19"
	DefaultService     = "impala"
	DefaultTimeout     = 60 * time.Second
	DefaultRateLimit   = 10.0
	DefaultBurst       = 1
	DefaultMaxRetries  = 3
	DefaultBatchSize   = 1000
	DefaultTasksFormat = "default"
	DefaultStrategy    = "stack"
	DefaultParallelism = 4
	DefaultReport      = "csv"
	DefaultReportOut   = "-"
	DefaultS3Region    = "us-east-1"
)

// defaults returns the default values keyed like the YAML file.
func defaults() map[string]any {
	return map[string]any{
		"verbose":                         false,
		"output":                          DefaultOutput,
		"log.level":                       DefaultLogLevel,
		"log.format":                      DefaultLogFormat,
		"source.host":                     "",
		"source.port":                     DefaultPort,
		"source.api_version":              DefaultAPIVersion,
		"source.cluster":                  "",
		"source.service":                  DefaultService,
		"source.username":                 "",
		"source.password":                 "",
		"source.tls.enabled":              false,
		"source.tls.ca_file":              "",
		"source.tls.insecure_skip_verify": false,
		"source.timeout":                  DefaultTimeout.String(),
		"source.rate_limit":               DefaultRateLimit,
		"source.burst":                    DefaultBurst,
		"source.max_retries":              DefaultMaxRetries,
		"query.start_time":                "",
		"query.end_time":                  "",
		"query.filter":                    "",
		"query.batch_size":                DefaultBatchSize,
		"tasks.path":                      "",
		"tasks.format":                    DefaultTasksFormat,
		"tasks.skip_header":               false,
		"tasks.only_successful":           false,
		"search.strategy":                 DefaultStrategy,
		"search.exclude_tables":           []string{},
		"search.exclude_keywords":         []string{},
		"search.ignore_source_db":         false,
		"search.skip_fully_excluded":      false,
		"search.parallelism":              DefaultParallelism,
		"ingest.allow_partial":            false,
		"report.format":                   DefaultReport,
		"report.output":                   DefaultReportOut,
		"report.s3.bucket":                "",
		"report.s3.prefix":                "",
		"report.s3.region":                DefaultS3Region,
		"report.s3.endpoint":              "",
		"report.s3.access_key_id":         "",
		"report.s3.secret_access_key":     "",
		"report.s3.path_style":            false,
		"store.driver":                    "",
		"store.dsn":                       "",
	}
}
