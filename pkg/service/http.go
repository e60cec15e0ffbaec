package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Combine-Capital/cqweb/pkg/logging"
)

// HTTPService serves a handler on a TCP address and shuts down gracefully.
type HTTPService struct {
	name            string
	addr            string
	template        http.Server // timeouts and limits copied into each run
	shutdownTimeout time.Duration
	logger          *logging.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
	running  bool
}

// HTTPServiceOption configures an HTTPService.
type HTTPServiceOption func(*HTTPService)

// WithReadTimeout bounds reading a whole request, body included.
func WithReadTimeout(d time.Duration) HTTPServiceOption {
	return func(s *HTTPService) { s.template.ReadTimeout = d }
}

// WithWriteTimeout bounds writing a response. It must exceed the dispatcher
// request timeout or slow requests lose their error page.
func WithWriteTimeout(d time.Duration) HTTPServiceOption {
	return func(s *HTTPService) { s.template.WriteTimeout = d }
}

// WithShutdownTimeout bounds Stop when its context has no deadline.
func WithShutdownTimeout(d time.Duration) HTTPServiceOption {
	return func(s *HTTPService) { s.shutdownTimeout = d }
}

func WithMaxHeaderBytes(n int) HTTPServiceOption {
	return func(s *HTTPService) { s.template.MaxHeaderBytes = n }
}

// WithLogger logs start, stop and serve failures.
func WithLogger(logger *logging.Logger) HTTPServiceOption {
	return func(s *HTTPService) {
		if logger != nil {
			s.logger = logger.WithComponent("http")
		}
	}
}

// NewHTTPService prepares a service; nothing is bound until Start. An addr
// of ":0" picks a free port that Addr reports once started.
func NewHTTPService(name, addr string, handler http.Handler, opts ...HTTPServiceOption) *HTTPService {
	s := &HTTPService{
		name: name,
		addr: addr,
		template: http.Server{
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		shutdownTimeout: 30 * time.Second,
		logger:          logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and serves in the background. Bind failures,
// such as a port in use, are returned rather than logged.
func (s *HTTPService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("service %s already started", s.name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s for %s: %w", s.addr, s.name, err)
	}

	// Request contexts must outlive a cancelled startup context.
	base := context.WithoutCancel(ctx)
	srv := &http.Server{
		Handler:           s.template.Handler,
		ReadTimeout:       s.template.ReadTimeout,
		ReadHeaderTimeout: s.template.ReadHeaderTimeout,
		WriteTimeout:      s.template.WriteTimeout,
		MaxHeaderBytes:    s.template.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	done := make(chan struct{})
	s.server, s.listener, s.done, s.running = srv, ln, done, true

	go s.serve(srv, ln, done)

	s.logger.Info().Str("service", s.name).Str("addr", ln.Addr().String()).Msg("HTTP service listening")
	return nil
}

func (s *HTTPService) serve(srv *http.Server, ln net.Listener, done chan struct{}) {
	defer close(done)
	err := srv.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	s.logger.Error().Err(err).Str("service", s.name).Msg("HTTP server stopped unexpectedly")
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Addr returns the bound address, or the configured one before Start.
func (s *HTTPService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests until ctx expires, or for the shutdown
// timeout when ctx has no deadline. Stopping a service that is not
// running is a no-op.
func (s *HTTPService) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done, running := s.server, s.done, s.running
	s.mu.Unlock()
	if !running || srv == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown %s: %w", s.name, err)
	}
	<-done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Str("service", s.name).Msg("HTTP service stopped")
	return nil
}

func (s *HTTPService) Name() string { return s.name }

// Health fails unless the server is serving.
func (s *HTTPService) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("service %s not running", s.name)
	}
	return nil
}
