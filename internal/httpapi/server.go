// Package httpapi exposes the Orchestration Kernel over HTTP (§4's
// control surface): agent registration, routing, run execution, run
// status/streaming/abort, spawn, and dead-letter management. Built on
// gin, the same way the teacher's dashboard server is.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orchestrik/kernel/internal/orchestrator"
	"github.com/orchestrik/kernel/pkg/logger"
)

// Server is the kernel's HTTP façade. Zero value is not usable; use
// NewServer.
type Server struct {
	router *gin.Engine
	kernel *orchestrator.Kernel
}

// NewServer builds a gin.Engine wired to kernel and registers every
// route in §4's control surface.
func NewServer(kernel *orchestrator.Kernel, ginMode string) *Server {
	if ginMode != "" {
		gin.SetMode(ginMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{router: r, kernel: kernel}
	s.registerRoutes()
	return s
}

// Engine returns the underlying gin.Engine, mainly for tests that want
// to drive routes with httptest.
func (s *Server) Engine() *gin.Engine { return s.router }

// ListenAndServe starts the HTTP server and shuts it down gracefully
// once ctx is cancelled, mirroring the teacher's dashboard server
// lifecycle.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("httpapi: shutdown triggered")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("httpapi: shutdown error", logger.FieldError, err)
		}
	}()

	logger.Info("httpapi: listening", logger.FieldPath, addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
