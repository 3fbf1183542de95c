// Package server exposes the update service over HTTP with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nickromney-org/release-update-server/internal/hooks"
	"github.com/nickromney-org/release-update-server/internal/updater"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

// Options configures the HTTP layer
type Options struct {
	// APIUsername enables basic auth on /api when set
	APIUsername string
	APIPassword string

	// TrustProxy honours X-Forwarded-Proto and X-Forwarded-Host when
	// building absolute URLs, and X-Forwarded-For for client addresses
	TrustProxy bool

	Logger *zerolog.Logger
}

// Server routes requests to an update service
type Server struct {
	svc    *updater.Service
	opts   Options
	engine *gin.Engine
	logger zerolog.Logger
}

// New builds the router. Basic auth is added to the api hook when a username
// is configured.
func New(svc *updater.Service, opts Options) *Server {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Server{
		svc:    svc,
		opts:   opts,
		engine: gin.New(),
		logger: logger,
	}

	if opts.APIUsername != "" {
		svc.Hooks().Before(hooks.EventAPI, basicAuth(opts.APIUsername, opts.APIPassword))
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine
	if !s.opts.TrustProxy {
		// Only fails for malformed CIDRs
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(StructuredLogger(s.logger))
	r.Use(gin.Recovery())
	r.Use(s.renderErrors())

	r.GET("/", s.download)
	r.GET("/download", s.download)
	r.GET("/download/*rest", s.download)

	r.GET("/update", s.updateRedirect)
	r.GET("/update/:platform/:version", s.update)
	r.GET("/update/:platform/:version/RELEASES", s.updateWindows)

	r.GET("/notes", s.notes)
	r.GET("/notes/:version", s.notes)

	r.POST("/refresh", s.refresh)

	api := r.Group("/api", s.apiAccess())
	api.GET("/status", s.apiStatus)
	api.GET("/versions", s.apiVersions)
	api.GET("/channels", s.apiChannels)
	api.GET("/resolve", s.apiResolve)
	api.GET("/refresh", s.apiRefresh)

	r.NoRoute(s.notFound)
}

// Handler returns the router as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("serving HTTP")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
