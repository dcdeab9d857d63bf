// Package server is the composition root and transport front end: it owns
// the HTTP listener, upgrades client connections to WebSocket sessions, and
// routes the tagged message union into the engine components.
package server

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/contractsync/contractsync/internal/config"
	"github.com/contractsync/contractsync/internal/core/access"
	"github.com/contractsync/contractsync/internal/core/analysis"
	"github.com/contractsync/contractsync/internal/core/comment"
	"github.com/contractsync/contractsync/internal/core/document"
	"github.com/contractsync/contractsync/internal/core/observability/log"
	"github.com/contractsync/contractsync/internal/core/registry"
	"github.com/contractsync/contractsync/internal/core/storage"
	"github.com/contractsync/contractsync/internal/core/version"
)

type Server struct {
	cfg    config.Config
	logger log.Log

	store     storage.Store
	sequencer *document.Sequencer
	registry  *registry.Registry
	access    *access.Manager
	versions  *version.Store
	comments  *comment.Manager

	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener
	group      *errgroup.Group

	running int32 // atomic bool
	closed  int32 // atomic bool

	connCount    int64 // atomic
	editsApplied int64 // atomic
	startedAt    time.Time
}

// New wires the engine together. The store and analysis pipeline come from
// the caller so tests and main can pick their own backends.
func New(cfg config.Config, store storage.Store, pipeline analysis.Pipeline, logger log.Log) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger.With(log.String("component", "server")),
		store:    store,
		registry: registry.New(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	s.sequencer = document.NewSequencer(store, logger)
	s.access = access.NewManager(store, logger)
	s.versions = version.NewStore(s.sequencer, store, pipeline, s.registry, cfg.Analysis.Timeout, logger)
	s.comments = comment.NewManager(store, s.registry, logger)

	if cfg.Auth.SigningKey == "" {
		s.logger.Warn("auth signing key not configured, tokens are taken as raw principal ids")
	}

	return s
}

// Start binds the listener and begins serving. Non-blocking; Stop shuts the
// server down.
func (s *Server) Start(_ context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("failed to bind listener", log.Error(err))
		return err
	}
	s.listener = listener
	s.startedAt = time.Now()

	s.httpServer = &http.Server{Handler: s.router()}

	s.group = &errgroup.Group{}
	s.group.Go(func() error {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", log.Error(err))
			return err
		}
		return nil
	})

	s.logger.Info("server listening", log.String("addr", listener.Addr().String()))
	return nil
}

// Stop drains the server: stops accepting, closes live connections, and
// waits for in-flight analysis work.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("stopping server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", log.Error(err))
	}

	s.versions.Wait()
	s.registry.Wait()
	s.registry.CloseAll()
	_ = s.group.Wait()

	s.logger.Info("server stopped")
	return nil
}

// Close releases all resources, stopping first if needed.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil // Already closed
	}
	if atomic.LoadInt32(&s.running) == 1 {
		_ = s.Stop(context.Background())
	}
	return s.store.Close()
}

// Addr returns the bound listen address, available after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/versions", s.handleListVersions).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/versions/{number}/comments", s.handleListComments).Methods(http.MethodGet)
	return r
}

// principalFromToken resolves the bearer token presented at upgrade time.
// Without a configured signing key the token is trusted as the principal id
// itself; that mode exists for local development only.
func (s *Server) principalFromToken(token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	if s.cfg.Auth.SigningKey == "" {
		return token, nil
	}
	principal, err := access.ParsePrincipal(token, []byte(s.cfg.Auth.SigningKey))
	if err != nil {
		return "", ErrUnauthorized
	}
	return principal, nil
}

// Stats contains server statistics.
type Stats struct {
	Connections  int64  `json:"connections"`
	Documents    int    `json:"documents"`
	EditsApplied int64  `json:"edits_applied"`
	Running      bool   `json:"running"`
	Uptime       string `json:"uptime"`
}

func (s *Server) GetStats() Stats {
	return Stats{
		Connections:  atomic.LoadInt64(&s.connCount),
		Documents:    s.registry.Documents(),
		EditsApplied: atomic.LoadInt64(&s.editsApplied),
		Running:      atomic.LoadInt32(&s.running) == 1,
		Uptime:       time.Since(s.startedAt).Truncate(time.Second).String(),
	}
}
