package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/registry-submit/internal/logging"
	"github.com/nhle/registry-submit/internal/model"
)

var cfgFile string

func main() {
	// A missing .env is fine; the environment and config file still apply.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "regsubmit",
		Short: "Submit phone numbers to the national registry form",
		Long: `regsubmit reads phone numbers from a Google Sheet, submits them to the
registry form in batches, confirms each batch with the one-time passcode
emailed to the configured mailbox, and writes the feedback ids back to
the sheet.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/regsubmit/config.yaml)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(configureCmd())

	return rootCmd
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return model.DefaultConfigPath()
}

// loadConfig reads and validates the configuration.
func loadConfig() (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger logs to stderr and to the per-day log folder.
func setupLogger(cfg *model.AppConfig) (zerolog.Logger, func(), error) {
	logger, closer, err := logging.Setup(logging.Config{
		Level:   cfg.Log.Level,
		Dir:     cfg.Log.Dir,
		Console: os.Stderr,
	}, time.Now())
	if err != nil {
		return zerolog.Nop(), func() {}, err
	}
	return logger, func() { _ = closer.Close() }, nil
}
