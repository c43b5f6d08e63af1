package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment override, e.g. TIDF_PIPELINE_SLOTS.
const EnvPrefix = "TIDF"

// Load reads the configuration from the process command line. Precedence,
// highest first:
// 1. Command line flags
// 2. Environment variables
// 3. Config file
// 4. Default values
func Load() (*Config, error) {
	return LoadFlags(pflag.CommandLine, os.Args[1:])
}

// LoadFlags is Load with an explicit flag set and argument list. Flags already
// defined on fs, such as --version, are left alone.
func LoadFlags(fs *pflag.FlagSet, args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	defineFlags(fs)
	if !fs.Parsed() {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
	}

	cfgPath, _ := fs.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("tidb-dataframe")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/tidb-dataframe/")
		v.AddConfigPath("$HOME/.tidb-dataframe")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Canonical keys are dotted snake_case: TIDF_DATABASE_POOL_MAX_OPEN.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlags(fs, v)
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}

	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}
	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	// The default database name gives way to a database named in the DSN.
	if strings.TrimSpace(v.GetString("database.dsn")) != "" &&
		!databaseNameExplicit(fs, v) &&
		v.GetString("database.database") == defaultDatabaseName {
		v.Set("database.database", "")
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// bindChangedFlags binds only flags set on the command line, so an unset
// flag never shadows env or file values.
func bindChangedFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}
		_ = v.BindPFlag(f.Name, f)
	})
}

// setting is one configuration key with its default. Keys with a usage string
// are also exposed as a command-line flag of the default's type.
type setting struct {
	key   string
	value any
	usage string
}

var settings = []setting{
	{"database.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)"},
	{"database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)"},
	{"database.host", "localhost", "Database host"},
	{"database.port", 4000, "Database port"},
	{"database.user", "tidb_dataframe", "Database user"},
	{"database.password", "", "Database password"},
	{"database.password_file", "", "Path to file containing database password (use @- for stdin)"},
	{"database.password_prompt", false, "Prompt for database password securely"},
	{"database.database", defaultDatabaseName, "Database holding the source table"},
	{"database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)"},
	{"database.tls.ca_file", "", "Path to CA certificate for server verification"},
	{"database.tls.cert_file", "", "Path to client certificate for mTLS"},
	{"database.tls.key_file", "", "Path to client private key for mTLS"},
	{"database.tls.server_name", "", "Override TLS server name for verification"},
	{"database.pool.max_open", 25, "Maximum open database connections"},
	{"database.pool.max_idle", 5, "Maximum idle connections in pool"},
	{"database.pool.max_lifetime", 5 * time.Minute, "Connection max lifetime"},
	{"database.connection_timeout", 60 * time.Second, "Max time to wait for the database on startup (0 = fail immediately)"},
	{"database.connection_retry_interval", 2 * time.Second, "Initial interval between connection retries"},

	{"pipeline.source.kind", SourceTable, "Entry source (table, arrow, empty)"},
	{"pipeline.source.table", "", "Table to read entries from"},
	{"pipeline.source.order_by", []string{}, "Columns fixing the table entry order (default: primary key)"},
	{"pipeline.source.path", "", "Arrow IPC file to read entries from"},
	{"pipeline.source.entries", int64(0), "Entry count of an empty source"},
	{"pipeline.source.partitions", 0, "Number of entry ranges (0 = one per slot)"},
	{"pipeline.slots", 1, "Number of processing slots"},
	{"pipeline.verbosity", "info", "Engine verbosity (quiet, info, debug)"},
	{"pipeline.default_columns", []string{}, "Columns used when an action names none"},
	{"pipeline.range.begin", int64(0), "First entry of the processed range"},
	{"pipeline.range.end", int64(0), "End of the processed range (0 = all entries)"},
	{"pipeline.range.stride", int64(0), "Entry stride of the processed range (0 = no range)"},
	{"pipeline.filters", []any{}, ""},
	{"pipeline.actions", []any{}, ""},
	{"pipeline.snapshot.path", "", "Arrow IPC file to snapshot selected entries into"},
	{"pipeline.snapshot.columns", []string{}, "Columns written by the snapshot"},
	{"pipeline.output.path", "-", "Report file (- for stdout)"},
	{"pipeline.output.format", "yaml", "Report format (yaml, json)"},

	{"server.enabled", false, "Serve the run report over HTTP after the run"},
	{"server.port", 8080, "HTTP server port"},
	{"server.graphiql_enabled", false, "Enable GraphiQL UI for /graphql (dev only)"},
	{"server.rate_limit_enabled", false, "Rate limit every HTTP endpoint"},
	{"server.rate_limit_rps", 0.0, "Rate limit requests per second"},
	{"server.rate_limit_burst", 0, "Rate limit burst size"},
	{"server.cors_enabled", false, "Enable CORS"},
	{"server.cors_allowed_origins", []string{}, "Allowed CORS origins"},
	{"server.cors_allowed_methods", []string{"GET", "POST", "OPTIONS"}, ""},
	{"server.cors_allowed_headers", []string{"Content-Type"}, ""},
	{"server.cors_max_age", 86400, ""},
	{"server.read_timeout", 15 * time.Second, "HTTP server read timeout"},
	{"server.write_timeout", 15 * time.Second, "HTTP server write timeout"},
	{"server.idle_timeout", 60 * time.Second, "HTTP server idle timeout"},
	{"server.shutdown_timeout", 30 * time.Second, "Graceful shutdown timeout"},
	{"server.health_check_timeout", 2 * time.Second, "Health check database ping timeout"},

	{"observability.service_name", "tidb-dataframe", "Service name reported to telemetry backends"},
	{"observability.service_version", "", "Service version reported to telemetry backends"},
	{"observability.environment", "development", "Deployment environment (dev, staging, prod)"},
	{"observability.metrics_enabled", true, "Collect engine metrics"},
	{"observability.tracing_enabled", false, "Export pass spans"},
	{"observability.trace_sample_ratio", 1.0, "Trace sampling ratio from 0.0 to 1.0"},
	{"observability.sqlcommenter_enabled", true, "Inject trace context into SQL queries"},
	{"observability.logging.level", "info", "Log level (debug, info, warn, error)"},
	{"observability.logging.format", "json", "Log format (json, text)"},
	{"observability.logging.exports_enabled", false, "Export logs over OTLP"},
	{"observability.otlp.endpoint", "localhost:4317", "OTLP collector endpoint"},
	{"observability.otlp.protocol", "grpc", "OTLP protocol (grpc, http/protobuf)"},
	{"observability.otlp.insecure", false, "Connect to the collector without TLS"},
	{"observability.otlp.tls_cert_file", "", ""},
	{"observability.otlp.tls_client_cert_file", "", ""},
	{"observability.otlp.tls_client_key_file", "", ""},
	{"observability.otlp.timeout", 10 * time.Second, "OTLP export timeout"},
	{"observability.otlp.compression", "gzip", "OTLP compression (none, gzip)"},
	{"observability.otlp.retry_enabled", true, ""},
	{"observability.otlp.retry_max_attempts", 3, ""},
}

func defineFlags(fs *pflag.FlagSet) {
	if fs.Lookup("config") != nil {
		return
	}
	for _, s := range settings {
		if s.usage == "" {
			continue
		}
		switch def := s.value.(type) {
		case string:
			fs.String(s.key, def, s.usage)
		case int:
			fs.Int(s.key, def, s.usage)
		case int64:
			fs.Int64(s.key, def, s.usage)
		case bool:
			fs.Bool(s.key, def, s.usage)
		case float64:
			fs.Float64(s.key, def, s.usage)
		case time.Duration:
			fs.Duration(s.key, def, s.usage)
		case []string:
			fs.StringSlice(s.key, def, s.usage)
		}
	}
	fs.StringP("config", "c", "", "Config file path")
}

func setDefaults(v *viper.Viper) {
	for _, s := range settings {
		v.SetDefault(s.key, s.value)
	}
}

func promptPassword() (string, error) {
	fmt.Print("Enter database password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// readSecretFile reads a trimmed secret from path, or from stdin for "@-".
func readSecretFile(path string) (string, error) {
	var data []byte
	var err error
	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	var configured []string
	for _, key := range []string{"database.dsn_file", "database.password_file"} {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}
	if len(configured) > 1 {
		return fmt.Errorf("multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "))
	}
	return nil
}

func databaseNameExplicit(fs *pflag.FlagSet, v *viper.Viper) bool {
	if _, ok := os.LookupEnv(EnvPrefix + "_DATABASE_DATABASE"); ok {
		return true
	}
	if f := fs.Lookup("database.database"); f != nil && f.Changed {
		return true
	}
	return v.InConfig("database.database")
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
