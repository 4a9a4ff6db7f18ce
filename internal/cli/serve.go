// Package cli holds the cobra subcommands of the concierge binary.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-concierge-backend/internal/app"
	"github.com/tbourn/go-concierge-backend/internal/config"
	"github.com/tbourn/go-concierge-backend/internal/observability"
	"github.com/tbourn/go-concierge-backend/internal/sysutil"
)

// Version is stamped at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// NewServeCommand returns the "serve" subcommand.
func NewServeCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Start the concierge HTTP server: webhooks, service request API, dashboards and the realtime channel.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(envFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	return cmd
}

// bootstrap loads the dotenv file (when present), reads configuration and
// installs the process logger.
func bootstrap(envFile string) (config.Config, zerolog.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return config.Config{}, zerolog.Nop(), fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	log := sysutil.ConfigureLogging(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	return cfg, log, nil
}

func serve(parent context.Context, cfg config.Config, log zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", Version).Str("db_driver", cfg.DBDriver).Msg("starting concierge")

	gin.SetMode(cfg.GinMode)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	a, err := app.New(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("server exited gracefully")
	return nil
}
