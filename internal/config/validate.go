package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"tidb-dataframe/internal/logging"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult collects every problem found instead of stopping at the
// first one.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// AddError appends an error.
func (r *ValidationResult) AddError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

// AddWarning appends a warning.
func (r *ValidationResult) AddWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// Database settings are only checked when the pipeline reads a table.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	if c.Pipeline.Source.Kind == SourceTable {
		c.Database.validate(result)
	}
	c.Pipeline.validate(result)
	if c.Server.Enabled {
		c.Server.validate(result)
	}
	c.Observability.validate(result)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.AddError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
	}

	d.TLS.validate(result)

	if d.Pool.MaxOpen < 0 {
		result.AddError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.AddError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.AddWarning("database.pool.max_idle", "max_idle is greater than max_open",
			"idle connections will be limited to max_open")
	}

	if d.ConnectionTimeout < 0 {
		result.AddError("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionRetryInterval < 0 {
		result.AddError("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.AddError("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.AddWarning("database.connection_retry_interval",
			"connection_retry_interval is greater than connection_timeout",
			"only one connection attempt will be made")
	}

	name, err := resolveEffectiveDatabaseName(d.Database, d.ConnectionString)
	if err != nil {
		field := "database.database"
		if strings.HasPrefix(err.Error(), "database.dsn") {
			field = "database.dsn"
		}
		result.AddError(field, err.Error(), "set database.database or include a /database in database.dsn")
		return
	}
	d.Database = name
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	switch t.Mode {
	case "", "off", "skip-verify", "verify-ca", "verify-full":
	default:
		result.AddError("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode),
			"valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.AddError("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes", "")
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		result.AddError("database.tls.cert_file",
			"both cert_file and key_file must be specified for client certificate authentication",
			"provide both cert_file and key_file, or neither")
	}
	if t.Mode == "skip-verify" {
		result.AddWarning("database.tls.mode", "skip-verify mode does not verify server certificates",
			"use verify-ca or verify-full in production")
	}
}

var filterOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true, "in": true}

// validate checks the shape of the pipeline declaration. Column existence and
// element types are checked when the pipeline is built against its source.
func (p *PipelineConfig) validate(result *ValidationResult) {
	src := p.Source
	switch src.Kind {
	case SourceTable:
		if strings.TrimSpace(src.Table) == "" {
			result.AddError("pipeline.source.table", "table is required for a table source", "")
		}
	case SourceArrow:
		if strings.TrimSpace(src.Path) == "" {
			result.AddError("pipeline.source.path", "path is required for an arrow source", "")
		}
	case SourceEmpty:
		if src.Entries < 0 {
			result.AddError("pipeline.source.entries", "entries cannot be negative", "")
		}
	default:
		result.AddError("pipeline.source.kind", fmt.Sprintf("invalid source kind %q", src.Kind),
			"valid values are: table, arrow, empty")
	}
	if src.Partitions < 0 {
		result.AddError("pipeline.source.partitions", "partitions cannot be negative", "")
	}

	if p.Slots < 1 {
		result.AddError("pipeline.slots", fmt.Sprintf("slots must be at least 1, got %d", p.Slots), "")
	}
	if _, err := logging.ParseVerbosity(p.Verbosity); err != nil {
		result.AddError("pipeline.verbosity", err.Error(), "valid values are: quiet, info, debug")
	}

	if r := p.Range; r.Enabled() {
		if r.Stride < 0 {
			result.AddError("pipeline.range.stride", "stride cannot be negative", "")
		}
		if r.Begin < 0 {
			result.AddError("pipeline.range.begin", "begin cannot be negative", "")
		}
		if r.End != 0 && r.End < r.Begin {
			result.AddError("pipeline.range.end", fmt.Sprintf("end %d is before begin %d", r.End, r.Begin), "")
		}
		if p.Slots > 1 {
			result.AddError("pipeline.range", "a range requires a single slot", "set pipeline.slots to 1")
		}
	}

	names := make(map[string]bool)
	for i, f := range p.Filters {
		field := fmt.Sprintf("pipeline.filters[%d]", i)
		if strings.TrimSpace(f.Column) == "" {
			result.AddError(field+".column", "column is required", "")
		}
		if !filterOps[f.Op] {
			result.AddError(field+".op", fmt.Sprintf("invalid operator %q", f.Op), "valid values are: ==, !=, <, <=, >, >=, in")
		}
		if f.Value == nil {
			result.AddError(field+".value", "value is required", "")
		}
		if f.Name != "" {
			if names[f.Name] {
				result.AddError(field+".name", fmt.Sprintf("duplicate filter name %q", f.Name), "")
			}
			names[f.Name] = true
		}
	}

	actions := make(map[string]bool)
	for i, a := range p.Actions {
		field := fmt.Sprintf("pipeline.actions[%d]", i)
		if strings.TrimSpace(a.Name) == "" {
			result.AddError(field+".name", "name is required", "results are reported under the action name")
		} else if actions[a.Name] {
			result.AddError(field+".name", fmt.Sprintf("duplicate action name %q", a.Name), "")
		}
		actions[a.Name] = true
		if strings.TrimSpace(a.Kind) == "" {
			result.AddError(field+".kind", "kind is required", "")
		}
	}
	if len(p.Actions) == 0 && !p.Snapshot.Enabled() {
		result.AddWarning("pipeline.actions", "no actions declared", "the run will only report filter statistics")
	}

	if p.Snapshot.Enabled() && len(p.Snapshot.Columns) == 0 && len(p.DefaultColumns) == 0 {
		result.AddError("pipeline.snapshot.columns", "snapshot needs columns", "list pipeline.snapshot.columns")
	}

	switch p.Output.Format {
	case "yaml", "json":
	default:
		result.AddError("pipeline.output.format", fmt.Sprintf("invalid report format %q", p.Output.Format),
			"valid values are: yaml, json")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.AddError("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port), "")
	}

	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.AddError("server.rate_limit_rps", "rate_limit_rps must be greater than 0 when rate limiting is enabled", "")
		}
		if s.RateLimitBurst <= 0 {
			result.AddError("server.rate_limit_burst", "rate_limit_burst must be greater than 0 when rate limiting is enabled", "")
		}
	} else if s.RateLimitRPS > 0 || s.RateLimitBurst > 0 {
		result.AddWarning("server.rate_limit_enabled", "rate limit values are set but rate limiting is disabled",
			"enable server.rate_limit_enabled to apply rate limits")
	}

	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.AddError("server.cors_allowed_origins", "CORS enabled but no allowed origins configured",
				"set cors_allowed_origins or disable CORS")
		}
		for _, origin := range s.CORSAllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				result.AddWarning("server.cors_allowed_origins", "CORS wildcard origin enabled",
					"use specific origins in production")
				break
			}
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	switch o.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		result.AddError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level),
			"valid values are: debug, info, warn, error")
	}
	switch o.Logging.Format {
	case "json", "text":
	default:
		result.AddError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format),
			"valid values are: json, text")
	}
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.AddError("observability.trace_sample_ratio", "trace_sample_ratio must be between 0 and 1", "")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	switch o.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		result.AddError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			"valid values are: grpc, http/protobuf")
	}
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.AddError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
			"use host:port or a full URL")
	}
	switch o.Compression {
	case "", "none", "gzip":
	default:
		result.AddError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			"valid values are: none, gzip")
	}
	if o.RetryMaxAttempts < 0 {
		result.AddError(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		return err == nil && parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
