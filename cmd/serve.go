package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/nickromney-org/release-update-server/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.IntP("port", "p", 8080, "port to listen on")
	flags.Bool("trust-proxy", false, "honour X-Forwarded-* headers")
	flags.Bool("prefetch", true, "list releases before accepting requests")
	_ = v.BindPFlag("port", flags.Lookup("port"))
	_ = v.BindPFlag("trust_proxy", flags.Lookup("trust-proxy"))
	_ = v.BindPFlag("cache.prefetch", flags.Lookup("prefetch"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialise %s backend: %w", cfg.Backend, err)
	}

	gin.SetMode(gin.ReleaseMode)
	logger := log.Logger
	srv := server.New(svc, server.Options{
		APIUsername: cfg.APIUsername,
		APIPassword: cfg.APIPassword,
		TrustProxy:  cfg.TrustProxy,
		Logger:      &logger,
	})

	log.Info().
		Str("backend", cfg.Backend).
		Dur("cache_ttl", cfg.CacheTTL).
		Bool("signed_urls", cfg.SignedURLs).
		Bool("api_auth", cfg.APIUsername != "").
		Msg("release server ready")

	return srv.Run(ctx, fmt.Sprintf(":%d", cfg.Port))
}
