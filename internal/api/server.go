// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/stake-scanner/internal/importer"
	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/query"
	"github.com/stake-scanner/internal/storage"
	"github.com/stake-scanner/internal/types"
	"github.com/stake-scanner/internal/worker"
)

// Interfaces for dependency injection and testing

// QueryEngine executes declarative queries against one entity
type QueryEngine interface {
	Execute(ctx context.Context, req query.Request) (*query.Result, error)
}

// Analytics answers the convenience analytics endpoints
type Analytics interface {
	TopRecords(ctx context.Context, entity types.Entity, field string, n int) (*query.Result, error)
	CountByField(ctx context.Context, entity types.Entity, field string) (*query.Result, error)
	FieldStatistics(ctx context.Context, entity types.Entity, field string) (*query.Result, error)
}

// ImportController triggers and reports on one entity's import worker
type ImportController interface {
	RunOnce(ctx context.Context, targetDate time.Time) (*importer.Summary, error)
	Status() worker.Status
}

// StatsProvider reports snapshot table progress
type StatsProvider interface {
	Stats(ctx context.Context) (*storage.SnapshotStats, error)
}

// Pinger checks a backing store's health
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	engine     QueryEngine
	analytics  Analytics
	workers    map[types.Entity]ImportController
	stats      map[types.Entity]StatsProvider
	db         Pinger
	config     *ServerConfig
	logger     *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	engine QueryEngine,
	analytics Analytics,
	workers map[types.Entity]ImportController,
	stats map[types.Entity]StatsProvider,
	db Pinger,
	logger *logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router:    mux.NewRouter(),
		engine:    engine,
		analytics: analytics,
		workers:   workers,
		stats:     stats,
		db:        db,
		config:    config,
		logger:    logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// middleware order matters: request id first so every later log carries it
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/import/status", s.handleImportStatus).Methods(http.MethodGet)
	api.HandleFunc("/import/progress", s.handleImportProgress).Methods(http.MethodGet)
	api.HandleFunc("/import/{entity}/run", s.handleImportRun).Methods(http.MethodPost)
	api.HandleFunc("/{entity}/query", s.handleQuery).Methods(http.MethodPost)
	api.HandleFunc("/{entity}/top", s.handleTopRecords).Methods(http.MethodGet)
	api.HandleFunc("/{entity}/count-by", s.handleCountByField).Methods(http.MethodGet)
	api.HandleFunc("/{entity}/stats", s.handleFieldStatistics).Methods(http.MethodGet)
}

// Handler exposes the configured router, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving requests. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, map[string]string{"status": status})
}
