// Package api exposes the triage engine over HTTP/JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/logger"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	router *gin.Engine
	cfg    config.ServerConfig
}

func NewServer(svc Service, cfg config.ServerConfig) *Server {
	switch cfg.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(recovery(), requestLogger(), corsMiddleware(cfg.AllowedOrigins))

	h := &handler{svc: svc}
	router.GET("/", h.root)
	router.GET("/health", h.health)
	router.POST("/messages", h.submitMessage)
	router.GET("/messages", h.listConversations)
	router.GET("/messages/:conversationId", h.getConversation)
	router.GET("/queues", h.queues)

	return &Server{router: router, cfg: cfg}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.L.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
