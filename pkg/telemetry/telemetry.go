// Package telemetry installs the process tracer provider: an OTLP gRPC
// exporter when enabled, a no-op provider otherwise.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JaimeStill/herbtrace/pkg/lifecycle"
)

// Config configures trace export.
type Config struct {
	Enabled       bool    `toml:"enabled"`
	Endpoint      string  `toml:"endpoint"`
	ServiceName   string  `toml:"service_name"`
	Insecure      bool    `toml:"insecure"`
	SamplingRatio float64 `toml:"sampling_ratio"`
	ExportTimeout string  `toml:"export_timeout"`
}

// Env maps config fields to environment variable names.
type Env struct {
	Enabled  string
	Endpoint string
	Insecure string
}

// ExportTimeoutDuration returns ExportTimeout as a time.Duration.
func (c *Config) ExportTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ExportTimeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.ServiceName == "" {
		c.ServiceName = "herbtrace"
	}
	if c.SamplingRatio == 0 {
		c.SamplingRatio = 1
	}
	if c.ExportTimeout == "" {
		c.ExportTimeout = "10s"
	}

	if env != nil {
		if v := lookup(env.Endpoint); v != "" {
			c.Endpoint = v
		}
		if b, err := strconv.ParseBool(lookup(env.Enabled)); err == nil {
			c.Enabled = b
		}
		if b, err := strconv.ParseBool(lookup(env.Insecure)); err == nil {
			c.Insecure = b
		}
	}

	if c.SamplingRatio < 0 || c.SamplingRatio > 1 {
		return fmt.Errorf("sampling_ratio must be within [0, 1]")
	}
	if _, err := time.ParseDuration(c.ExportTimeout); err != nil {
		return fmt.Errorf("invalid export_timeout: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Enabled {
		c.Enabled = true
	}
	if overlay.Insecure {
		c.Insecure = true
	}
	if overlay.Endpoint != "" {
		c.Endpoint = overlay.Endpoint
	}
	if overlay.ServiceName != "" {
		c.ServiceName = overlay.ServiceName
	}
	if overlay.SamplingRatio != 0 {
		c.SamplingRatio = overlay.SamplingRatio
	}
	if overlay.ExportTimeout != "" {
		c.ExportTimeout = overlay.ExportTimeout
	}
}

// System hands out tracers and flushes spans at shutdown.
type System interface {
	Tracer(name string) trace.Tracer
	Start(lc *lifecycle.Coordinator) error
}

type telemetry struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
	timeout  time.Duration
	logger   *slog.Logger
}

// New builds the tracer provider for cfg and installs it globally.
func New(ctx context.Context, cfg *Config, version string, logger *slog.Logger) (System, error) {
	logger = logger.With("system", "telemetry")

	if !cfg.Enabled {
		return &telemetry{
			provider: noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
			logger:   logger,
		}, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeoutDuration()),
	}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &telemetry{
		provider: tp,
		shutdown: tp.Shutdown,
		timeout:  cfg.ExportTimeoutDuration(),
		logger:   logger,
	}, nil
}

// NewWithProvider wraps an existing provider, typically an in-memory one in tests.
func NewWithProvider(tp trace.TracerProvider) System {
	return &telemetry{
		provider: tp,
		shutdown: func(context.Context) error { return nil },
		logger:   slog.Default(),
	}
}

func (t *telemetry) Tracer(name string) trace.Tracer {
	return t.provider.Tracer(name)
}

func (t *telemetry) Start(lc *lifecycle.Coordinator) error {
	lc.OnClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), max(t.timeout, time.Second))
		defer cancel()

		if err := t.shutdown(ctx); err != nil {
			t.logger.Error("tracer provider shutdown failed", "error", err)
			return
		}
		t.logger.Info("tracer provider flushed")
	})
	return nil
}

func lookup(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
