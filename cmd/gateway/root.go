package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/table-booking-gateway/internal/config"
	"github.com/tbourn/table-booking-gateway/internal/sysutil"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "gateway",
	Short:         "WhatsApp table-booking gateway",
	Long:          "Receives WhatsApp messages, answers restaurant booking requests with a tool-using agent, and replies through the Graph API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gateway %s\n", Version)
		},
	}
}

// loadConfig reads the environment and configures the global logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}
	sysutil.ConfigureLogging(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, nil)
	log.Debug().
		Str("version", Version).
		Str("queue_backend", cfg.Queue.Backend).
		Bool("postgres", cfg.IsPostgres()).
		Msg("configuration loaded")
	return cfg, nil
}
