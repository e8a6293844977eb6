// Package server exposes the question-answering HTTP API.
//
// POST /query admits a question and returns 202 with a job id, GET
// /status/{job_id} returns the job view and /ws/status/{job_id} streams it.
// Every response is JSON and carries permissive CORS headers.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/jobs"
	"github.com/teranos/qaflow/logger"
	"github.com/teranos/qaflow/pulse/async"
)

const (
	// ServiceName is reported by the health endpoint
	ServiceName = "qaflow"

	// MaxRequestBodyBytes bounds POST /query bodies
	MaxRequestBodyBytes = 1 << 20

	// DefaultStreamInterval is how often a status stream re-reads its job
	DefaultStreamInterval = 500 * time.Millisecond
)

// Submitter admits questions
type Submitter interface {
	Submit(ctx context.Context, question string, context json.RawMessage) (string, error)
}

// StatusGetter reads job views
type StatusGetter interface {
	Get(ctx context.Context, jobID string) (*jobs.View, error)
}

// Server is the HTTP front of qaflow
type Server struct {
	submitter      Submitter
	status         StatusGetter
	pool           *async.WorkerPool // nil when no in-process workers run
	streamInterval time.Duration
	now            func() time.Time
	logger         *zap.SugaredLogger

	handler    http.Handler
	httpServer *http.Server

	// Open status streams, closed on shutdown
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	streamMu sync.Mutex
	closing  bool
}

// Option configures a Server
type Option func(*Server)

// WithWorkerPool reports the pool's workers and queue in /health
func WithWorkerPool(pool *async.WorkerPool) Option {
	return func(s *Server) { s.pool = pool }
}

// WithStreamInterval sets how often status streams poll
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

// WithClock overrides the health timestamp clock
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the server logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server over the dispatcher and status reader
func New(submitter Submitter, status StatusGetter, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		submitter:      submitter,
		status:         status,
		streamInterval: DefaultStreamInterval,
		now:            time.Now,
		logger:         logger.ComponentLogger("server"),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until Shutdown is called.
// It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Infow("HTTP server listening", logger.FieldAddress, ln.Addr().String())

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// trackStream registers a status stream unless shutdown has begun
func (s *Server) trackStream() bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

// Shutdown closes status streams and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infow("Initiating server shutdown")
	s.streamMu.Lock()
	s.closing = true
	s.streamMu.Unlock()
	s.cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warnw("Status streams did not close before shutdown deadline")
	}

	s.logger.Infow("Server shutdown complete")
	return err
}
