package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/config"
	"github.com/Kintoyyy/codeshum-backend/internal/limiter"
	"github.com/Kintoyyy/codeshum-backend/internal/pipeline"
	"github.com/Kintoyyy/codeshum-backend/internal/session"
	"github.com/Kintoyyy/codeshum-backend/internal/storage"
)

// Server is the HTTP and WebSocket front end for the run pipeline.
type Server struct {
	cfg      config.ServerConfig
	pipeline *pipeline.Pipeline
	sessions *session.Registry
	history  storage.Store
	limiter  *limiter.Limiter
	log      zerolog.Logger
	router   chi.Router
	http     *http.Server
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*client]struct{}
}

// New creates a new Server. history may be nil when run history is disabled.
func New(cfg config.ServerConfig, pipe *pipeline.Pipeline, history storage.Store, lim *limiter.Limiter, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: pipe,
		sessions: pipe.Sessions(),
		history:  history,
		limiter:  lim,
		log:      log.With().Str("component", "server").Logger(),
		router:   chi.NewRouter(),
		clients:  make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(s.log))
	r.Use(cors(s.cfg.AllowedOrigin))

	r.Get("/ws", s.handleWebSocket)
	r.With(jsonContentType).Post("/run", s.handleRun)

	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions/{id}/kill", s.handleKill)

		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("codeshum server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown destroys every session, closes WebSocket clients and stops the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down server")
	s.sessions.CloseAll()

	s.clientsMu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.clientsMu.Unlock()

	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) track(c *client) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) untrack(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}
