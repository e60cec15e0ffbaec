package service

import (
	"context"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/logging"
	"github.com/Combine-Capital/cqweb/pkg/metrics"
	"github.com/Combine-Capital/cqweb/pkg/tracing"
)

// Bootstrap holds the observability components every cqweb process starts
// with: the logger, the metrics registry and the tracer provider.
type Bootstrap struct {
	Config         *config.Config
	Logger         *logging.Logger
	TracerProvider *sdktrace.TracerProvider

	cleanup *CleanupHandler
}

// BootstrapOption adjusts what NewBootstrap starts.
type BootstrapOption func(*bootstrapConfig)

type bootstrapConfig struct {
	skipMetrics, skipTracing bool
	logger                   *logging.Logger
}

// WithoutMetrics leaves the metrics registry uninitialized.
func WithoutMetrics() BootstrapOption { return func(c *bootstrapConfig) { c.skipMetrics = true } }

// WithoutTracing skips the tracer provider even when cfg.Tracing.Enabled.
func WithoutTracing() BootstrapOption { return func(c *bootstrapConfig) { c.skipTracing = true } }

// WithBootstrapLogger uses logger instead of building one from cfg.Log.
func WithBootstrapLogger(logger *logging.Logger) BootstrapOption {
	return func(c *bootstrapConfig) { c.logger = logger }
}

// NewBootstrap initializes logging, metrics and tracing from cfg, in that
// order. On failure everything initialized so far is released.
func NewBootstrap(ctx context.Context, cfg *config.Config, opts ...BootstrapOption) (*Bootstrap, error) {
	bc := &bootstrapConfig{}
	for _, opt := range opts {
		opt(bc)
	}

	logger := bc.logger
	if logger == nil {
		logger = logging.New(cfg.Log).WithServiceName(cfg.Service.Name)
	}

	b := &Bootstrap{
		Config:  cfg,
		Logger:  logger,
		cleanup: NewCleanupHandler(logger.WithComponent("cleanup")),
	}
	logger.Info().
		Str("version", cfg.Service.Version).
		Str("env", cfg.Service.Env).
		Msg("service starting")

	// The registry exists even with metrics disabled, so collectors never
	// need a nil check.
	if !bc.skipMetrics {
		if err := metrics.Init(cfg.Metrics, logger); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		b.cleanup.Register("metrics", metrics.Shutdown)
		if cfg.Metrics.Enabled {
			logger.Info().Int("port", cfg.Metrics.Port).Str("path", cfg.Metrics.Path).Msg("serving metrics")
		}
	}

	if bc.skipTracing || !cfg.Tracing.Enabled {
		return b, nil
	}
	tp, shutdown, err := tracing.NewTracerProvider(ctx, cfg.Tracing, cfg.Service.Name, cfg.Service.Version)
	if err != nil {
		_ = b.Cleanup(ctx)
		return nil, fmt.Errorf("tracing: %w", err)
	}
	b.TracerProvider = tp
	b.cleanup.Register("tracing", CleanupFunc(shutdown))
	logger.Info().
		Str("endpoint", cfg.Tracing.Endpoint).
		Float64("sample_rate", cfg.Tracing.SampleRate).
		Msg("exporting traces")
	return b, nil
}

// AddCleanup registers a resource release to run during Cleanup, before
// anything registered earlier.
func (b *Bootstrap) AddCleanup(name string, fn CleanupFunc) {
	b.cleanup.Register(name, fn)
}

// Cleanup releases everything in LIFO order and returns the joined errors.
func (b *Bootstrap) Cleanup(ctx context.Context) error {
	err := b.cleanup.Execute(ctx)
	b.Logger.Info().Msg("cleanup completed")
	return err
}
