// Package api serves the fleet read model over HTTP and WebSocket and
// accepts operator writes (commands, names, customer assignments).
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/commands"
	"github.com/benmeehan/fleet-monitor/internal/ingest"
	"github.com/benmeehan/fleet-monitor/internal/metrics_collectors"
	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/benmeehan/fleet-monitor/internal/persistence"
	"github.com/benmeehan/fleet-monitor/pkg/mqtt"
	"github.com/rs/zerolog"
)

// FleetReader is the read side of the fleet engine.
type FleetReader interface {
	Snapshot(ctx context.Context) (models.FleetSnapshot, error)
	Device(ctx context.Context, id string) (models.DeviceRecord, bool, error)
	Counts(ctx context.Context) (total, online int, err error)
	Stats() ingest.StatsSnapshot
}

// AssignmentStore owns display names and customer assignments.
type AssignmentStore interface {
	Data() models.AssignmentData
	Replace(data models.AssignmentData) error
	Rename(deviceID, name string) error
	Assign(deviceID, customerID string) error
	Assignments() map[string]models.Assignment
}

// CommandSender publishes device commands.
type CommandSender interface {
	Send(deviceID string, cmd commands.Command) error
}

// TransportStatus reports the broker connection state.
type TransportStatus interface {
	Status() mqtt.Status
}

// DispatchStats reports persistence counters.
type DispatchStats interface {
	Stats() persistence.DispatchStats
}

// Dependencies are the components the API reads from and writes to.
// Dispatcher and Metrics may be nil.
type Dependencies struct {
	Fleet       FleetReader
	Assignments AssignmentStore
	Commands    CommandSender
	Transport   TransportStatus
	Dispatcher  DispatchStats
	Metrics     *metrics_collectors.MetricsRegistry
}

// Options configures the HTTP server.
type Options struct {
	Listen       string
	PushInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Listen:       ":8080",
		PushInterval: 2 * time.Second,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the fleet HTTP API server.
type Server struct {
	opts       Options
	deps       Dependencies
	logger     zerolog.Logger
	mux        *http.ServeMux
	httpServer *http.Server
	sockets    *socketHub

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates a Server and registers its routes and metric collectors.
func NewServer(opts Options, deps Dependencies, logger zerolog.Logger) *Server {
	defaults := DefaultOptions()
	if opts.PushInterval <= 0 {
		opts.PushInterval = defaults.PushInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaults.IdleTimeout
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics_collectors.NewMetricsRegistry()
	}

	s := &Server{
		opts:   opts,
		deps:   deps,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.sockets = newSocketHub(s, logger)
	s.registerRoutes()
	s.registerCollectors()

	s.httpServer = &http.Server{
		Addr:         opts.Listen,
		Handler:      recoveryMiddleware(s.loggingMiddleware(s.mux), logger),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s
}

// Handler returns the root http.Handler (useful for testing with httptest).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		s.logger.Warn().Msg("API server is already running")
		return errors.New("api server is already running")
	}

	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server stopped unexpectedly")
		}
	}()

	s.logger.Info().Str("listen", ln.Addr().String()).Msg("API server started successfully")
	return nil
}

// Stop closes WebSocket sessions and shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		s.logger.Warn().Msg("API server is not running")
		return errors.New("api server is not running")
	}

	s.sockets.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	s.listener = nil

	if err != nil {
		s.logger.Error().Err(err).Msg("API server shutdown failed")
		return err
	}
	s.logger.Info().Msg("API server stopped successfully")
	return nil
}
