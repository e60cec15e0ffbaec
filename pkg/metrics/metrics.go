// Package metrics provides Prometheus metrics with standardized naming and
// the collectors cqweb wires by default: HTTP request metrics keyed by route
// pattern, connection pool gauges and statement execution histograms.
//
// Example usage:
//
//	if err := metrics.Init(cfg.Metrics, logger); err != nil {
//	    return err
//	}
//	defer metrics.Shutdown(context.Background())
//
//	handler = metrics.HTTPMiddleware(cfg.Metrics.Namespace, dispatcher.RoutePattern)(handler)
//	_ = metrics.RegisterPoolMetrics(cfg.Metrics.Namespace, pool.Stats)
//	observer, _ := metrics.StatementObserver(cfg.Metrics.Namespace)
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/logging"
)

// global holds the process-wide registry and the optional scrape server.
var global struct {
	sync.RWMutex
	registry *prometheus.Registry
	server   *http.Server
}

var logger = logging.Nop()

// Init creates the process-wide registry. Collectors can be registered
// whether or not cfg.Enabled is set; only an enabled configuration adds the
// Go runtime and process collectors and serves the registry on
// cfg.Port at cfg.Path.
//
// Only the first call has any effect. A nil log discards server errors.
func Init(cfg config.MetricsConfig, log *logging.Logger) error {
	global.Lock()
	defer global.Unlock()

	if global.registry != nil {
		return nil
	}
	if log != nil {
		logger = log.WithComponent("metrics")
	}

	reg := prometheus.NewRegistry()
	global.registry = reg
	if !cfg.Enabled {
		return nil
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, handlerFor(reg))

	srv := &http.Server{
		Addr:         net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	global.server = srv

	go func() {
		// The application keeps serving when the scrape endpoint fails.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", srv.Addr).Msg("metrics server failed")
		}
	}()
	return nil
}

// Shutdown stops the scrape server, if one was started. The registry is
// kept.
func Shutdown(ctx context.Context) error {
	global.Lock()
	srv := global.server
	global.server = nil
	global.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Registry returns the process-wide registry, or nil before Init.
func Registry() *prometheus.Registry {
	global.RLock()
	defer global.RUnlock()
	return global.registry
}

// IsInitialized reports whether Init has run.
func IsInitialized() bool {
	return Registry() != nil
}

// Handler serves the registry in the Prometheus exposition format, for
// mounting on the application server when no separate port is wanted.
// Before Init it answers 404.
func Handler() http.Handler {
	reg := Registry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return handlerFor(reg)
}

func handlerFor(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
