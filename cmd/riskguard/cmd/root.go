package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/riskguard/config"
	"github.com/rustyeddy/riskguard/internal/app"
	"github.com/rustyeddy/riskguard/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "riskguard",
	Short: "Protective risk controls for an automated trading system",
	Long: `Riskguard watches positions and orders for an automated trading system.

It provides:
  - Fixed and trailing stop-losses that liquidate on a breaching tick
  - Pre-trade order checks and a daily-loss circuit breaker
  - Streaming SMA, EMA, RSI, MACD and Bollinger indicators
  - A durable, queryable audit trail of every risk event`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath string
	logLevel   string

	cfg       *config.Config
	log       zerolog.Logger
	logCloser io.Closer
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer func() {
		if logCloser != nil {
			logCloser.Close()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
}

func setup(cmd *cobra.Command, args []string) error {
	cfg = config.Default()
	if configPath != "" {
		c, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, logCloser = logging.New(cfg.Log)
	return nil
}

// openApp builds the services for one command; callers must Close it.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open riskguard: %w", err)
	}
	return a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close:", err)
	}
}
