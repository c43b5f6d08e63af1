package config

import (
	"time"

	"tidb-dataframe/internal/hist"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS settings for the database connection.
type DatabaseTLSConfig struct {
	// Mode is one of off, skip-verify, verify-ca, verify-full. Empty leaves the
	// DSN untouched.
	Mode string `mapstructure:"mode"`

	CAFile   string `mapstructure:"ca_file"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`

	ServerName string `mapstructure:"server_name"`
}

// DatabaseConfig holds database connection settings. A DSN takes precedence
// over the discrete fields.
type DatabaseConfig struct {
	ConnectionString     string `mapstructure:"dsn"`
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	// ConnectionTimeout bounds the startup wait for the database. Zero fails on
	// the first unsuccessful ping.
	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

const defaultDatabaseName = "test"

// Source kinds a pipeline can read from.
const (
	SourceTable = "table"
	SourceArrow = "arrow"
	SourceEmpty = "empty"
)

// PipelineConfig declares one dataframe run: where entries come from, which
// filters apply and which actions are booked.
type PipelineConfig struct {
	Source SourceConfig `mapstructure:"source"`
	Slots  int          `mapstructure:"slots"`
	// Verbosity is one of quiet, info, debug.
	Verbosity      string         `mapstructure:"verbosity"`
	DefaultColumns []string       `mapstructure:"default_columns"`
	Range          RangeConfig    `mapstructure:"range"`
	Filters        []FilterConfig `mapstructure:"filters"`
	Actions        []ActionConfig `mapstructure:"actions"`
	Snapshot       SnapshotConfig `mapstructure:"snapshot"`
	Output         OutputConfig   `mapstructure:"output"`
}

// SourceConfig selects the entry store.
type SourceConfig struct {
	Kind string `mapstructure:"kind"`
	// Table is read from database.database.
	Table string `mapstructure:"table"`
	// OrderBy fixes the entry order of a table. Empty uses the primary key.
	OrderBy []string `mapstructure:"order_by"`
	// Path is an Arrow IPC file for the arrow kind.
	Path string `mapstructure:"path"`
	// Entries is the entry count of the empty kind.
	Entries int64 `mapstructure:"entries"`
	// Partitions is the number of entry ranges. Zero means one per slot.
	Partitions int `mapstructure:"partitions"`
}

// RangeConfig restricts the run to [Begin, End) taking every Stride-th entry.
// A zero Stride disables the range.
type RangeConfig struct {
	Begin  int64 `mapstructure:"begin"`
	End    int64 `mapstructure:"end"`
	Stride int64 `mapstructure:"stride"`
}

// Enabled reports whether a range was configured.
func (r RangeConfig) Enabled() bool { return r.Stride != 0 }

// FilterConfig is a comparison between a column and a constant. Filters apply
// in declaration order.
type FilterConfig struct {
	Name   string `mapstructure:"name"`
	Column string `mapstructure:"column"`
	// Op is one of ==, !=, <, <=, >, >=, in.
	Op    string `mapstructure:"op"`
	Value any    `mapstructure:"value"`
}

// ActionConfig books one action after all filters.
type ActionConfig struct {
	Name    string   `mapstructure:"name"`
	Kind    string   `mapstructure:"kind"`
	Columns []string `mapstructure:"columns"`
	// Model configures histogram and profile kinds.
	Model hist.Model `mapstructure:"model"`
}

// SnapshotConfig materializes columns into an Arrow IPC file.
type SnapshotConfig struct {
	Path    string   `mapstructure:"path"`
	Columns []string `mapstructure:"columns"`
}

// Enabled reports whether a snapshot was requested.
func (s SnapshotConfig) Enabled() bool { return s.Path != "" }

// OutputConfig says where the run report is written.
type OutputConfig struct {
	// Path of the report file; "-" writes to stdout.
	Path string `mapstructure:"path"`
	// Format is yaml or json.
	Format string `mapstructure:"format"`
}

// ServerConfig configures the optional results endpoint.
type ServerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Port               int           `mapstructure:"port"`
	GraphiQLEnabled    bool          `mapstructure:"graphiql_enabled"`
	RateLimitEnabled   bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS       float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
	CORSEnabled        bool          `mapstructure:"cors_enabled"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods []string      `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders []string      `mapstructure:"cors_allowed_headers"`
	CORSMaxAge         int           `mapstructure:"cors_max_age"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds metrics, tracing and logging settings.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"`
	Logging             LoggingConfig `mapstructure:"logging"`

	// OTLP applies to every signal unless overridden below.
	OTLP OTLPConfig `mapstructure:"otlp"`

	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter settings.
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// TracesConfig returns the effective OTLP settings for traces.
func (c *ObservabilityConfig) TracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLP(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// LogsConfig returns the effective OTLP settings for logs.
func (c *ObservabilityConfig) LogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLP(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLP overlays the non-zero fields of a signal section on the shared one.
func mergeOTLP(base, override OTLPConfig) OTLPConfig {
	out := base
	if override.Endpoint != "" {
		out.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		out.Protocol = override.Protocol
	}
	out.Insecure = override.Insecure
	if override.TLSCertFile != "" {
		out.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		out.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		out.TLSClientKeyFile = override.TLSClientKeyFile
	}
	if override.Headers != nil {
		out.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			out.Headers[k] = v
		}
		for k, v := range override.Headers {
			out.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	if override.Compression != "" {
		out.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		out.RetryEnabled = override.RetryEnabled
		out.RetryMaxAttempts = override.RetryMaxAttempts
	}
	return out
}
