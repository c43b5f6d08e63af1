package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-dataframe/internal/hist"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name:     "discrete fields",
			config:   DatabaseConfig{Host: "localhost", Port: 4000, User: "root", Password: "password", Database: "physics"},
			expected: "root:password@tcp(localhost:4000)/physics?parseTime=true&loc=UTC",
		},
		{
			name:     "empty password",
			config:   DatabaseConfig{Host: "localhost", Port: 4000, User: "root", Database: "physics"},
			expected: "root:@tcp(localhost:4000)/physics?parseTime=true&loc=UTC",
		},
		{
			name:     "connection string gets parseTime",
			config:   DatabaseConfig{ConnectionString: "u:p@tcp(db:4000)/physics"},
			expected: "u:p@tcp(db:4000)/physics?parseTime=true&loc=UTC",
		},
		{
			name:     "custom TLS",
			config:   DatabaseConfig{Host: "db", Port: 4000, User: "u", Database: "d", TLS: DatabaseTLSConfig{Mode: "verify-full"}},
			expected: "u:@tcp(db:4000)/d?parseTime=true&loc=UTC&tls=tidb-dataframe-custom",
		},
		{
			name:     "skip verify",
			config:   DatabaseConfig{Host: "db", Port: 4000, User: "u", Database: "d", TLS: DatabaseTLSConfig{Mode: "skip-verify"}},
			expected: "u:@tcp(db:4000)/d?parseTime=true&loc=UTC&tls=skip-verify",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestEffectiveDatabaseName(t *testing.T) {
	d := DatabaseConfig{ConnectionString: "u:p@tcp(db:4000)/physics"}
	name, err := d.EffectiveDatabaseName()
	require.NoError(t, err)
	assert.Equal(t, "physics", name)

	d.Database = "other"
	_, err = d.EffectiveDatabaseName()
	assert.ErrorContains(t, err, "mismatch")

	_, err = (&DatabaseConfig{}).EffectiveDatabaseName()
	assert.ErrorContains(t, err, "no database configured")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tidb-dataframe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  source:\n    table: events\n")
	cfg, err := LoadFlags(pflag.NewFlagSet("test", pflag.ContinueOnError), []string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, SourceTable, cfg.Pipeline.Source.Kind)
	assert.Equal(t, "events", cfg.Pipeline.Source.Table)
	assert.Equal(t, 1, cfg.Pipeline.Slots)
	assert.Equal(t, "-", cfg.Pipeline.Output.Path)
	assert.Equal(t, "yaml", cfg.Pipeline.Output.Format)
	assert.Equal(t, 4000, cfg.Database.Port)
	assert.Equal(t, "tidb_dataframe", cfg.Database.User)
	assert.Equal(t, 5*time.Minute, cfg.Database.Pool.MaxLifetime)
	assert.Equal(t, "tidb-dataframe", cfg.Observability.ServiceName)
	assert.False(t, cfg.Server.Enabled)
}

func TestLoad_Pipeline(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  source:
    kind: arrow
    path: /data/events.arrow
  slots: 4
  filters:
    - name: central
      column: eta
      op: "<"
      value: 2.5
    - column: kind
      op: in
      value: [mu, e]
  actions:
    - name: pt
      kind: Histo1D
      columns: [pt]
      model:
        name: h_pt
        axes:
          - bins: 50
            min: 0
            max: 100
    - name: n
      kind: Count
`)
	cfg, err := LoadFlags(pflag.NewFlagSet("test", pflag.ContinueOnError), []string{"-c", path})
	require.NoError(t, err)

	p := cfg.Pipeline
	assert.Equal(t, SourceArrow, p.Source.Kind)
	assert.Equal(t, 4, p.Slots)
	require.Len(t, p.Filters, 2)
	assert.Equal(t, "central", p.Filters[0].Name)
	assert.Equal(t, 2.5, p.Filters[0].Value)
	assert.Equal(t, []any{"mu", "e"}, p.Filters[1].Value)
	require.Len(t, p.Actions, 2)
	assert.Equal(t, hist.Model{Name: "h_pt", Axes: []hist.Axis{{Bins: 50, Min: 0, Max: 100}}}, p.Actions[0].Model)
	assert.Empty(t, p.Actions[1].Columns)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  slots: 2\n  verbosity: quiet\ndatabase:\n  host: filehost\n")
	t.Setenv("TIDF_PIPELINE_SLOTS", "3")
	t.Setenv("TIDF_DATABASE_HOST", "envhost")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := LoadFlags(fs, []string{"--config", path, "--pipeline.slots", "8"})
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pipeline.Slots, "flag beats env")
	assert.Equal(t, "envhost", cfg.Database.Host, "env beats file")
	assert.Equal(t, "quiet", cfg.Pipeline.Verbosity, "file beats default")
}

func TestLoad_DSNDatabaseReplacesDefault(t *testing.T) {
	t.Setenv("TIDF_DATABASE_DSN", "u:p@tcp(db:4000)/physics")
	cfg, err := LoadFlags(pflag.NewFlagSet("test", pflag.ContinueOnError), nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Database.Database)

	name, err := cfg.Database.EffectiveDatabaseName()
	require.NoError(t, err)
	assert.Equal(t, "physics", name)
}

func TestLoad_PasswordFile(t *testing.T) {
	pwd := filepath.Join(t.TempDir(), "pwd")
	require.NoError(t, os.WriteFile(pwd, []byte("  s3cret\n"), 0o600))

	cfg, err := LoadFlags(pflag.NewFlagSet("test", pflag.ContinueOnError), []string{"--database.password_file", pwd})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  slotz: 2\n")
	_, err := LoadFlags(pflag.NewFlagSet("test", pflag.ContinueOnError), []string{"--config", path})
	assert.ErrorContains(t, err, "slotz")
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Database: "physics",
				TLS:      DatabaseTLSConfig{Mode: "off"},
				Pool:     PoolConfig{MaxOpen: 25, MaxIdle: 5},
			},
			Pipeline: PipelineConfig{
				Source:    SourceConfig{Kind: SourceTable, Table: "events"},
				Slots:     2,
				Verbosity: "info",
				Filters:   []FilterConfig{{Name: "central", Column: "eta", Op: "<", Value: 2.5}},
				Actions:   []ActionConfig{{Name: "n", Kind: "Count"}},
				Output:    OutputConfig{Path: "-", Format: "yaml"},
			},
			Server: ServerConfig{Port: 8080},
			Observability: ObservabilityConfig{
				TraceSampleRatio: 1,
				Logging:          LoggingConfig{Level: "info", Format: "json"},
				OTLP:             OTLPConfig{Protocol: "grpc", Compression: "gzip"},
			},
		}
	}

	t.Run("valid config passes validation", func(t *testing.T) {
		result := validConfig().Validate()
		assert.False(t, result.HasErrors())
		assert.Empty(t, result.Errors)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"invalid database port", func(c *Config) { c.Database.Port = 0 }, "database.port"},
		{"invalid TLS mode", func(c *Config) { c.Database.TLS.Mode = "bogus" }, "database.tls.mode"},
		{"verify-ca needs CA", func(c *Config) { c.Database.TLS.Mode = "verify-ca" }, "database.tls.ca_file"},
		{"table source needs table", func(c *Config) { c.Pipeline.Source.Table = "" }, "pipeline.source.table"},
		{"arrow source needs path", func(c *Config) { c.Pipeline.Source = SourceConfig{Kind: SourceArrow} }, "pipeline.source.path"},
		{"unknown source kind", func(c *Config) { c.Pipeline.Source.Kind = "csv" }, "pipeline.source.kind"},
		{"zero slots", func(c *Config) { c.Pipeline.Slots = 0 }, "pipeline.slots"},
		{"bad verbosity", func(c *Config) { c.Pipeline.Verbosity = "loud" }, "pipeline.verbosity"},
		{"range with several slots", func(c *Config) { c.Pipeline.Range = RangeConfig{End: 10, Stride: 1} }, "pipeline.range"},
		{"range end before begin", func(c *Config) {
			c.Pipeline.Slots = 1
			c.Pipeline.Range = RangeConfig{Begin: 5, End: 2, Stride: 1}
		}, "pipeline.range.end"},
		{"bad filter op", func(c *Config) { c.Pipeline.Filters[0].Op = "~" }, "pipeline.filters[0].op"},
		{"filter without value", func(c *Config) { c.Pipeline.Filters[0].Value = nil }, "pipeline.filters[0].value"},
		{"action without kind", func(c *Config) { c.Pipeline.Actions[0].Kind = "" }, "pipeline.actions[0].kind"},
		{"duplicate action", func(c *Config) {
			c.Pipeline.Actions = append(c.Pipeline.Actions, ActionConfig{Name: "n", Kind: "Count"})
		}, "pipeline.actions[1].name"},
		{"snapshot without columns", func(c *Config) { c.Pipeline.Snapshot.Path = "/tmp/s.arrow" }, "pipeline.snapshot.columns"},
		{"bad report format", func(c *Config) { c.Pipeline.Output.Format = "xml" }, "pipeline.output.format"},
		{"invalid log level", func(c *Config) { c.Observability.Logging.Level = "trace" }, "observability.logging.level"},
		{"invalid OTLP protocol", func(c *Config) { c.Observability.OTLP.Protocol = "udp" }, "observability.otlp.protocol"},
		{"http OTLP endpoint", func(c *Config) {
			c.Observability.OTLP.Protocol = "http/protobuf"
			c.Observability.OTLP.Endpoint = "not a url"
		}, "observability.otlp.endpoint"},
		{"server port when enabled", func(c *Config) {
			c.Server.Enabled = true
			c.Server.Port = 70000
		}, "server.port"},
		{"rate limit without rps", func(c *Config) {
			c.Server.Enabled = true
			c.Server.RateLimitEnabled = true
			c.Server.RateLimitBurst = 5
		}, "server.rate_limit_rps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			result := cfg.Validate()
			require.True(t, result.HasErrors())
			var fields []string
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	t.Run("database ignored for empty source", func(t *testing.T) {
		cfg := validConfig()
		cfg.Pipeline.Source = SourceConfig{Kind: SourceEmpty, Entries: 10}
		cfg.Database.Port = 0
		assert.False(t, cfg.Validate().HasErrors())
	})

	t.Run("server ignored when disabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = 0
		assert.False(t, cfg.Validate().HasErrors())
	})

	t.Run("max_idle greater than max_open warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Pool.MaxIdle = 50
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "database.pool.max_idle", result.Warnings[0].Field)
	})

	t.Run("multiple errors collected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 0
		cfg.Pipeline.Slots = 0
		cfg.Observability.Logging.Level = "invalid"
		result := cfg.Validate()
		assert.Len(t, result.Errors, 3)
	})
}

func TestValidationError_Error(t *testing.T) {
	t.Run("with hint", func(t *testing.T) {
		err := ValidationError{Field: "test.field", Message: "test message", Hint: "try this"}
		assert.Equal(t, "test.field: test message (hint: try this)", err.Error())
	})
	t.Run("without hint", func(t *testing.T) {
		err := ValidationError{Field: "test.field", Message: "test message"}
		assert.Equal(t, "test.field: test message", err.Error())
	})
}

func TestObservabilityConfig_SignalOverrides(t *testing.T) {
	o := ObservabilityConfig{
		OTLP:   OTLPConfig{Endpoint: "collector:4317", Protocol: "grpc", Headers: map[string]string{"a": "1"}},
		Traces: &OTLPConfig{Endpoint: "traces:4318", Protocol: "http/protobuf", Headers: map[string]string{"b": "2"}},
	}
	traces := o.TracesConfig()
	assert.Equal(t, "traces:4318", traces.Endpoint)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, traces.Headers)
	assert.Equal(t, "collector:4317", o.LogsConfig().Endpoint)
}

func TestValidateSingleStdinFileSource(t *testing.T) {
	tests := []struct {
		name     string
		dsnFile  string
		pwdFile  string
		wantFail bool
	}{
		{name: "no stdin", dsnFile: "/run/secrets/dsn", pwdFile: "/run/secrets/password"},
		{name: "dsn from stdin", dsnFile: "@-", pwdFile: "/run/secrets/password"},
		{name: "password from stdin", pwdFile: "@-"},
		{name: "both from stdin", dsnFile: "@-", pwdFile: " @- ", wantFail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set("database.dsn_file", tt.dsnFile)
			v.Set("database.password_file", tt.pwdFile)

			err := validateSingleStdinFileSource(v)
			if !tt.wantFail {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "database.dsn_file")
			assert.Contains(t, err.Error(), "database.password_file")
		})
	}
}
