// Package server provides the HTTP API for Lectern.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lectern-search/lectern/internal/assemble"
	"github.com/lectern-search/lectern/internal/config"
	"github.com/lectern-search/lectern/internal/generate"
	"github.com/lectern-search/lectern/internal/ingest"
	"github.com/lectern-search/lectern/internal/retriever"
	"github.com/lectern-search/lectern/internal/store"
	"github.com/lectern-search/lectern/internal/vector"
)

// Server is the HTTP server for the Lectern API.
type Server struct {
	retriever *retriever.Retriever
	assembler *assemble.Assembler
	generator generate.Generator
	ingestor  *ingest.Ingestor
	store     store.Store
	manager   *vector.Manager
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	ret *retriever.Retriever,
	asm *assemble.Assembler,
	gen generate.Generator,
	ing *ingest.Ingestor,
	st store.Store,
	mgr *vector.Manager,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		retriever: ret,
		assembler: asm,
		generator: gen,
		ingestor:  ing,
		store:     st,
		manager:   mgr,
		config:    cfg,
		logger:    logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/ask", s.handleAsk)
	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/books", s.handleIngestText)
	r.Get("/api/v1/books", s.handleListBooks)
	r.Delete("/api/v1/books/{id}", s.handleDeleteBook)
	r.Post("/api/v1/rebuild", s.handleRebuild)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
