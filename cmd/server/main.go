package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newleaf-app/newleaf-rtc/internal/app"
	"github.com/newleaf-app/newleaf-rtc/internal/config"
	"github.com/newleaf-app/newleaf-rtc/internal/log"
)

var (
	flagAddr     string
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "newleaf-rtc",
	Short: "Realtime presence, chat and call-signaling server",
	RunE: func(cmd *cobra.Command, args []string) error {
		bootLog := log.New("info")

		cfg, cfgPath, err := config.Load(bootLog, flagConfig)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if flagAddr != "" {
			cfg.Addr = flagAddr
		}
		if flagLogLevel != "" {
			cfg.LogLevel = flagLogLevel
		}

		logger := log.New(cfg.LogLevel)
		logger.Info().Str("config", cfgPath).Str("addr", cfg.Addr).Msg("starting server")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		application, err := app.New(&cfg, logger)
		if err != nil {
			return fmt.Errorf("init app: %w", err)
		}

		if err := application.Run(ctx); err != nil {
			return fmt.Errorf("server exited: %w", err)
		}
		logger.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", "", "HTTP listen address (overrides config)")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
