package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roadsight/billboard-proxy/internal/config"
	"github.com/roadsight/billboard-proxy/internal/logging"
	"github.com/roadsight/billboard-proxy/internal/metrics"
	"github.com/roadsight/billboard-proxy/internal/server"
)

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*cfgFile)
		},
	}
}

func runServe(cfgFile string) error {
	cfg, v, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	if cfg.OpenAI.APIKey == "" {
		slog.Warn("OPENAI_API_KEY is not set; analysis requests will be answered with 500")
	}

	srv := server.New(cfg, metrics.New(cfg.Stats.Window))
	config.Watch(v, srv.Reload)

	slog.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port, "provider", cfg.OpenAI.Provider)
	return srv.Run()
}
