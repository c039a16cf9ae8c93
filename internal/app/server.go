package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/loyalty_layer/internal/logging"
	"github.com/R3E-Network/loyalty_layer/internal/middleware"
)

// HTTPServer runs an http.Server as a lifecycle service.
type HTTPServer struct {
	srv             *http.Server
	log             *logging.Logger
	shutdownTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	done     chan error
}

// NewHTTPServer returns a server for handler listening on addr.
func NewHTTPServer(addr string, handler http.Handler, readTimeout, writeTimeout, shutdownTimeout time.Duration, log *logging.Logger) *HTTPServer {
	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      writeTimeout,
		},
		log:             log,
		shutdownTimeout: shutdownTimeout,
	}
}

func (s *HTTPServer) Name() string { return "http-server" }

// Start binds the listen address and serves in the background. Bind errors
// are returned directly.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.listener = ln
	s.done = make(chan error, 1)

	go func(done chan<- error) {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
		close(done)
	}(s.done)

	s.log.WithContext(ctx).WithField("addr", ln.Addr().String()).Info("http server listening")
	return nil
}

// Addr is the bound address, or the configured one before Start.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

// Done yields the serve error, nil after a clean shutdown. It is nil before
// Start.
func (s *HTTPServer) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stop drains in-flight requests for at most the shutdown timeout.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.listener != nil
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

const limiterCleanupInterval = 10 * time.Minute

// limiterJanitor drops idle per-principal rate limiters while running.
type limiterJanitor struct {
	limiter  *middleware.RateLimiter
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (j *limiterJanitor) Name() string { return "rate-limit-cleanup" }

func (j *limiterJanitor) Start(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.limiter.StartCleanup(ctx, j.interval)
	return nil
}

func (j *limiterJanitor) Stop(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
	return nil
}
