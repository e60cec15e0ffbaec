package service

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Combine-Capital/cqweb/pkg/logging"
)

// ShutdownConfig configures graceful shutdown behavior.
type ShutdownConfig struct {
	// Timeout bounds stopping all services.
	Timeout time.Duration

	// Signals trigger shutdown. Empty means SIGINT and SIGTERM.
	Signals []os.Signal
}

// DefaultShutdownConfig returns sensible default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is done, then stops
// services in order.
func WaitForShutdown(ctx context.Context, logger *logging.Logger, services ...Service) error {
	return WaitForShutdownWithConfig(ctx, logger, DefaultShutdownConfig(), services...)
}

// WaitForShutdownWithConfig is WaitForShutdown with custom signals and
// timeout. A service that fails to stop does not keep the others running;
// the joined stop errors are returned.
func WaitForShutdownWithConfig(ctx context.Context, logger *logging.Logger, cfg ShutdownConfig, services ...Service) error {
	if logger == nil {
		logger = logging.Nop()
	}
	signals := cfg.Signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, signals...)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case <-ctx.Done():
		logger.Info().Msg("context done, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeout)
	defer cancel()

	var errs []error
	for _, svc := range services {
		if err := svc.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("service", svc.Name()).Msg("failed to stop service")
			errs = append(errs, err)
			continue
		}
		logger.Info().Str("service", svc.Name()).Msg("service stopped")
	}
	return errors.Join(errs...)
}

// CleanupFunc releases one resource during shutdown.
type CleanupFunc func(context.Context) error

// CleanupHandler runs cleanup functions in LIFO order, so resources are
// released in the reverse of the order they were acquired.
type CleanupHandler struct {
	mu       sync.Mutex
	cleanups []namedCleanup
	logger   *logging.Logger
}

type namedCleanup struct {
	name string
	fn   CleanupFunc
}

// NewCleanupHandler creates a cleanup handler. A nil logger discards errors.
func NewCleanupHandler(logger *logging.Logger) *CleanupHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &CleanupHandler{logger: logger}
}

// Register adds a named cleanup function.
func (h *CleanupHandler) Register(name string, fn CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, namedCleanup{name: name, fn: fn})
}

// Len returns the number of pending cleanup functions.
func (h *CleanupHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cleanups)
}

// Execute runs every registered function once, last registered first. It
// keeps going after failures and returns all errors joined.
func (h *CleanupHandler) Execute(ctx context.Context) error {
	h.mu.Lock()
	cleanups := h.cleanups
	h.cleanups = nil
	h.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if err := c.fn(ctx); err != nil {
			h.logger.Error().Err(err).Str("resource", c.name).Msg("cleanup failed")
			errs = append(errs, err)
			continue
		}
		h.logger.Debug().Str("resource", c.name).Msg("released")
	}
	return errors.Join(errs...)
}

// Run starts svc and blocks until shutdown, then stops it.
func Run(ctx context.Context, logger *logging.Logger, svc Service) error {
	if err := svc.Start(ctx); err != nil {
		return err
	}
	return WaitForShutdown(ctx, logger, svc)
}
