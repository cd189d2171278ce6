// Package server wires the router, translator, and handlers into one HTTP
// server with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rexl2018/aiapiproxy/internal/config"
	"github.com/rexl2018/aiapiproxy/internal/handlers"
	"github.com/rexl2018/aiapiproxy/internal/middleware"
	"github.com/rexl2018/aiapiproxy/internal/providers"
	"github.com/rexl2018/aiapiproxy/internal/signature"
	"github.com/rexl2018/aiapiproxy/internal/translate"
)

type Server struct {
	config  *config.Manager
	router  *providers.Router
	sigs    *signature.Cache
	logger  *slog.Logger
	version string
	server  *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger, version string) *Server {
	// One signature cache shared by response translation (stores) and the
	// gemini-mode adapter (lookups).
	sigs := signature.NewCache()

	return &Server{
		config:  configManager,
		router:  providers.NewRouter(configManager, logger, sigs),
		sigs:    sigs,
		logger:  logger,
		version: version,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.setupRoutes(),
	}

	s.logger.Info("starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("server is shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() http.Handler {
	translator := translate.New(s.logger, s.sigs)

	messagesHandler := handlers.NewMessagesHandler(s.logger, s.router, translator)
	tokensHandler := handlers.NewCountTokensHandler(s.logger)
	modelsHandler := handlers.NewModelsHandler(s.logger, s.router)
	healthHandler := handlers.NewHealthHandler(s.logger, s.version)

	set := middleware.NewSet(s.config, s.logger)
	api := set.APIChain()
	public := set.PublicChain()

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Method(http.MethodGet, "/", public.Handler(healthHandler))
	r.Method(http.MethodGet, "/health", public.Handler(healthHandler))
	r.Method(http.MethodGet, "/metrics", public.Handler(promhttp.Handler()))

	r.Method(http.MethodPost, "/v1/messages", api.Handler(messagesHandler))
	r.Method(http.MethodPost, "/v1/messages/count_tokens", api.Handler(tokensHandler))
	r.Method(http.MethodGet, "/v1/models", api.Handler(modelsHandler))

	return r
}
