package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/emberchat/emberd/internal/config"
	"github.com/emberchat/emberd/internal/httpapi"
)

// Server manages the HTTP server lifecycle for the daemon.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer binds the API routes to the configured listen address.
func NewServer(cfg *config.Config, api *httpapi.Server, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown error", zap.Error(err))
	}
}
