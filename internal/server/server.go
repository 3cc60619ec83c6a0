// Package server is the scene hub: it exposes a store.Store to remote editing
// sessions over websocket and serves the current scene records over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/protocol"
	"github.com/zeusync/scenesync/internal/core/store"
)

// Server represents a scene hub
type Server struct {
	store  store.Store
	router chi.Router

	httpServer *http.Server
	listener   net.Listener
	janitor    *cron.Cron

	// Client management
	clients     sync.Map // map[string]*clientSession
	clientCount int64    // atomic

	// Counters
	framesHandled int64 // atomic
	framesFailed  int64 // atomic
	rejected      int64 // atomic
	janitorRuns   int64 // atomic

	// Server state
	running int32 // atomic bool
	closed  int32 // atomic bool

	config Config
	logger log.Log

	workerGroup sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	ListenAddr string
	MaxClients int

	// Per-connection settings
	Conn           protocol.ConnConfig
	RequestTimeout time.Duration

	// JWTSecret enables token checks on /ws when set.
	JWTSecret string

	// Maintenance
	JanitorSchedule string
	ClientTimeout   time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		MaxClients:      10_000,
		Conn:            protocol.DefaultConnConfig(),
		RequestTimeout:  10 * time.Second,
		JanitorSchedule: "@every 1m",
		ClientTimeout:   5 * time.Minute,
	}
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.Join(ErrInvalidConfig, errors.New("listen address is empty"))
	}
	if c.MaxClients <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("max clients must be positive"))
	}
	if c.JanitorSchedule != "" {
		if _, err := cron.ParseStandard(c.JanitorSchedule); err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
	}
	return nil
}

// Stats is a point-in-time view of hub activity.
type Stats struct {
	Clients       int64
	Subscriptions int64
	FramesHandled int64
	FramesFailed  int64
	Rejected      int64
	JanitorRuns   int64
}

// NewServer creates a hub serving st. The store is owned by the caller.
func NewServer(config Config, st store.Store, logger log.Log) *Server {
	if logger == nil {
		logger = log.Provide()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultServerConfig().RequestTimeout
	}

	s := &Server{
		store:  st,
		config: config,
		logger: logger.With(log.String("component", "server")),
	}
	s.router = s.routes()

	s.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.Int("max_clients", config.MaxClients),
		log.Bool("auth", config.JWTSecret != ""))

	return s
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	s.logger.Info("Starting server")

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("Failed to create listener", log.Error(err))
		return errors.Join(ErrListenerFailed, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err = s.startJanitor(); err != nil {
		_ = listener.Close()
		atomic.StoreInt32(&s.running, 0)
		return err
	}

	s.workerGroup.Add(1)
	go func() {
		defer s.workerGroup.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", log.Error(err))
		}
	}()

	s.logger.Info("Server listening", log.String("addr", listener.Addr().String()))
	return nil
}

// Addr is the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops accepting, disconnects every client and stops the janitor.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Hijacked websocket connections are not tracked by Shutdown.
		return s.httpServer.Shutdown(gctx)
	})
	g.Go(func() error {
		s.disconnectAll()
		return nil
	})
	g.Go(func() error {
		if s.janitor == nil {
			return nil
		}
		select {
		case <-s.janitor.Stop().Done():
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	err := g.Wait()

	s.workerGroup.Wait()
	s.logger.Info("Server stopped", log.Error(err))

	return err
}

// Close stops the server if running and marks it unusable.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.logger.Info("Closing server")

	if atomic.LoadInt32(&s.running) == 1 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}

	s.logger.Info("Server closed")
	return nil
}

func (s *Server) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

func (s *Server) Stats() Stats {
	var subs int64
	s.clients.Range(func(_, value any) bool {
		subs += int64(value.(*clientSession).subscriptionCount())
		return true
	})
	return Stats{
		Clients:       atomic.LoadInt64(&s.clientCount),
		Subscriptions: subs,
		FramesHandled: atomic.LoadInt64(&s.framesHandled),
		FramesFailed:  atomic.LoadInt64(&s.framesFailed),
		Rejected:      atomic.LoadInt64(&s.rejected),
		JanitorRuns:   atomic.LoadInt64(&s.janitorRuns),
	}
}

func (s *Server) register(cs *clientSession) bool {
	if int(atomic.AddInt64(&s.clientCount, 1)) > s.config.MaxClients {
		atomic.AddInt64(&s.clientCount, -1)
		atomic.AddInt64(&s.rejected, 1)
		return false
	}
	s.clients.Store(cs.id, cs)
	return true
}

func (s *Server) unregister(cs *clientSession) {
	if _, loaded := s.clients.LoadAndDelete(cs.id); loaded {
		atomic.AddInt64(&s.clientCount, -1)
	}
}

func (s *Server) disconnectAll() {
	s.clients.Range(func(_, value any) bool {
		_ = value.(*clientSession).conn.Close()
		return true
	})
}
