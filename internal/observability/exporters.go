package observability

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"google.golang.org/grpc/credentials"
)

// OTLPExporterConfig describes where pass spans and engine logs are shipped.
type OTLPExporterConfig struct {
	Endpoint          string
	Protocol          string
	Insecure          bool
	TLSCertFile       string
	TLSClientCertFile string
	TLSClientKeyFile  string
	Headers           map[string]string
	Timeout           time.Duration
	Compression       string
	RetryEnabled      bool
	RetryMaxAttempts  int
}

type transport string

const (
	transportGRPC transport = "grpc"
	transportHTTP transport = "http/protobuf"
)

func resolveTransport(value string) (transport, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "", "grpc":
		return transportGRPC, nil
	case "http", "http/protobuf":
		return transportHTTP, nil
	}
	return "", fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", value)
}

// retryPolicy is shared by every exporter that has retries turned on.
type retryPolicy struct {
	initial, max, elapsed time.Duration
}

var defaultRetry = retryPolicy{initial: time.Second, max: 5 * time.Second, elapsed: 30 * time.Second}

// collector is an OTLPExporterConfig after validation: transport picked,
// TLS material loaded, flags normalised.
type collector struct {
	endpoint  string
	transport transport
	asURL     bool
	tls       *tls.Config
	headers   map[string]string
	timeout   time.Duration
	gzip      bool
	retry     *retryPolicy
}

func resolveCollector(cfg OTLPExporterConfig) (*collector, error) {
	t, err := resolveTransport(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	c := &collector{
		endpoint:  cfg.Endpoint,
		transport: t,
		asURL:     strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://"),
		headers:   cfg.Headers,
		timeout:   cfg.Timeout,
		gzip:      strings.EqualFold(cfg.Compression, "gzip"),
	}
	if cfg.RetryEnabled && cfg.RetryMaxAttempts > 0 {
		policy := defaultRetry
		c.retry = &policy
	}
	if !cfg.Insecure {
		if c.tls, err = loadClientTLS(cfg); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func loadClientTLS(cfg OTLPExporterConfig) (*tls.Config, error) {
	out := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCertFile != "" {
		pem, err := os.ReadFile(cfg.TLSCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read OTLP TLS CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse OTLP TLS CA file")
		}
		out.RootCAs = pool
	}

	certSet, keySet := cfg.TLSClientCertFile != "", cfg.TLSClientKeyFile != ""
	switch {
	case certSet != keySet:
		return nil, errors.New("OTLP TLS client cert and key must both be set")
	case certSet:
		pair, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load OTLP TLS client certificate: %w", err)
		}
		out.Certificates = []tls.Certificate{pair}
	}
	return out, nil
}

// optionSet maps collector settings onto one exporter package's option type.
// endpointURL is nil for gRPC exporters, which only take host:port.
type optionSet[O any] struct {
	endpoint    func(string) O
	endpointURL func(string) O
	insecure    func() O
	secure      func(*tls.Config) O
	headers     func(map[string]string) O
	timeout     func(time.Duration) O
	gzip        func() O
	retry       func(retryPolicy) O
}

func exporterOptions[O any](c *collector, set optionSet[O]) []O {
	var opts []O
	if c.asURL && set.endpointURL != nil {
		opts = append(opts, set.endpointURL(c.endpoint))
	} else {
		opts = append(opts, set.endpoint(c.endpoint))
	}
	if c.tls == nil {
		opts = append(opts, set.insecure())
	} else {
		opts = append(opts, set.secure(c.tls))
	}
	if len(c.headers) > 0 {
		opts = append(opts, set.headers(c.headers))
	}
	if c.timeout > 0 {
		opts = append(opts, set.timeout(c.timeout))
	}
	if c.gzip {
		opts = append(opts, set.gzip())
	}
	if c.retry != nil {
		opts = append(opts, set.retry(*c.retry))
	}
	return opts
}

var traceGRPC = optionSet[otlptracegrpc.Option]{
	endpoint: otlptracegrpc.WithEndpoint,
	insecure: otlptracegrpc.WithInsecure,
	secure: func(cfg *tls.Config) otlptracegrpc.Option {
		return otlptracegrpc.WithTLSCredentials(credentials.NewTLS(cfg))
	},
	headers: otlptracegrpc.WithHeaders,
	timeout: otlptracegrpc.WithTimeout,
	gzip:    func() otlptracegrpc.Option { return otlptracegrpc.WithCompressor("gzip") },
	retry: func(p retryPolicy) otlptracegrpc.Option {
		return otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled: true, InitialInterval: p.initial, MaxInterval: p.max, MaxElapsedTime: p.elapsed,
		})
	},
}

var traceHTTP = optionSet[otlptracehttp.Option]{
	endpoint:    otlptracehttp.WithEndpoint,
	endpointURL: otlptracehttp.WithEndpointURL,
	insecure:    otlptracehttp.WithInsecure,
	secure:      otlptracehttp.WithTLSClientConfig,
	headers:     otlptracehttp.WithHeaders,
	timeout:     otlptracehttp.WithTimeout,
	gzip:        func() otlptracehttp.Option { return otlptracehttp.WithCompression(otlptracehttp.GzipCompression) },
	retry: func(p retryPolicy) otlptracehttp.Option {
		return otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled: true, InitialInterval: p.initial, MaxInterval: p.max, MaxElapsedTime: p.elapsed,
		})
	},
}

var logGRPC = optionSet[otlploggrpc.Option]{
	endpoint: otlploggrpc.WithEndpoint,
	insecure: otlploggrpc.WithInsecure,
	secure: func(cfg *tls.Config) otlploggrpc.Option {
		return otlploggrpc.WithTLSCredentials(credentials.NewTLS(cfg))
	},
	headers: otlploggrpc.WithHeaders,
	timeout: otlploggrpc.WithTimeout,
	gzip:    func() otlploggrpc.Option { return otlploggrpc.WithCompressor("gzip") },
	retry: func(p retryPolicy) otlploggrpc.Option {
		return otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
			Enabled: true, InitialInterval: p.initial, MaxInterval: p.max, MaxElapsedTime: p.elapsed,
		})
	},
}

var logHTTP = optionSet[otlploghttp.Option]{
	endpoint:    otlploghttp.WithEndpoint,
	endpointURL: otlploghttp.WithEndpointURL,
	insecure:    otlploghttp.WithInsecure,
	secure:      otlploghttp.WithTLSClientConfig,
	headers:     otlploghttp.WithHeaders,
	timeout:     otlploghttp.WithTimeout,
	gzip:        func() otlploghttp.Option { return otlploghttp.WithCompression(otlploghttp.GzipCompression) },
	retry: func(p retryPolicy) otlploghttp.Option {
		return otlploghttp.WithRetry(otlploghttp.RetryConfig{
			Enabled: true, InitialInterval: p.initial, MaxInterval: p.max, MaxElapsedTime: p.elapsed,
		})
	},
}
