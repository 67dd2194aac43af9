package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/registry-submit/internal/browser"
	"github.com/nhle/registry-submit/internal/credential"
	"github.com/nhle/registry-submit/internal/form"
	"github.com/nhle/registry-submit/internal/logging"
	"github.com/nhle/registry-submit/internal/mailbox"
	"github.com/nhle/registry-submit/internal/metrics"
	"github.com/nhle/registry-submit/internal/model"
	"github.com/nhle/registry-submit/internal/otp"
	"github.com/nhle/registry-submit/internal/report"
	"github.com/nhle/registry-submit/internal/run"
	"github.com/nhle/registry-submit/internal/sheet"
	"github.com/nhle/registry-submit/internal/store"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Submit every row of the input sheet",
		Long: `Read the input sheet, submit its rows in batches through the registry
form and merge the captured feedback ids into the results range.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closeLog, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			return runSubmit(cmd.Context(), cfg, logger)
		},
	}
}

func runSubmit(ctx context.Context, cfg *model.AppConfig, logger zerolog.Logger) error {
	lock, err := run.AcquireLock(cfg.Run.LockFile)
	if err != nil {
		if errors.Is(err, run.ErrLocked) {
			return fmt.Errorf("another run is in progress: %w", err)
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn().Err(err).Msg("releasing run lock")
		}
	}()

	password, err := credential.Lookup(cfg.Mailbox.Password, credential.MailboxPasswordKey+cfg.Mailbox.Username)
	if err != nil {
		return model.Fatal("run.credentials", fmt.Errorf("mailbox password: %w", err))
	}

	sheetCfg, err := sheetConfig(cfg)
	if err != nil {
		return err
	}
	client, err := sheet.NewClient(ctx, sheetCfg, logging.Component(logger, "sheet"))
	if err != nil {
		return err
	}

	rows, err := client.ReadRows(ctx)
	if err != nil {
		return model.Fatal("run.read", err)
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		m.Serve(ctx, cfg.Metrics.Addr, logging.Component(logger, "metrics"))
	}

	opts := []run.Option{
		run.WithLogger(logger),
		run.WithMetrics(m),
	}
	if ledger, err := openLedger(cfg.Store.Path); err != nil {
		logger.Warn().Err(err).Msg("running without ledger")
	} else {
		defer ledger.Close()
		opts = append(opts, run.WithLedger(ledger))
	}

	controller := run.New(runConfig(cfg), openMailbox(cfg, password), launchBrowser(cfg, logger), client, opts...)

	summary, err := controller.Run(ctx, rows)
	if len(summary.Records) > 0 {
		fmt.Println(report.Results(summary.Records))
	}
	fmt.Printf("%d batches: %d succeeded, %d failed, %d skipped\n",
		summary.Batches, summary.Succeeded, summary.Failed, summary.Skipped)

	return err
}

func runConfig(cfg *model.AppConfig) run.Config {
	return run.Config{
		BatchSize:           cfg.Run.BatchSize,
		PauseBetweenBatches: cfg.Run.PauseBetweenBatches,
		PersistTimeout:      cfg.Run.PersistTimeout,
		Otp: otp.Config{
			Sender:       cfg.Mailbox.Sender,
			PollInterval: cfg.Mailbox.PollInterval,
			MaxPolls:     cfg.Mailbox.MaxPolls,
		},
		Form: form.Config{
			URL:             cfg.Form.URL,
			Profile:         cfg.Form.Profile,
			PageLoadTimeout: cfg.Form.PageLoadTimeout,
			FieldTimeout:    cfg.Form.FieldTimeout,
			FeedbackTimeout: cfg.Form.FeedbackTimeout,
			DateSkew:        cfg.Mailbox.DateSkew,
		},
	}
}

func openMailbox(cfg *model.AppConfig, password string) run.MailboxOpener {
	return func(ctx context.Context) (run.Mailbox, error) {
		s, err := mailbox.Open(ctx, mailbox.Config{
			Host:     cfg.Mailbox.Host,
			Port:     cfg.Mailbox.Port,
			Username: cfg.Mailbox.Username,
			Password: password,
			TLS:      cfg.Mailbox.TLS,
			Mailbox:  cfg.Mailbox.Mailbox,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func launchBrowser(cfg *model.AppConfig, logger zerolog.Logger) run.BrowserLauncher {
	return func(ctx context.Context) (run.Browser, error) {
		c, err := browser.Launch(ctx, browser.Config{
			Headless: cfg.Browser.Headless,
			ExecPath: cfg.Browser.ExecPath,
		}, logging.Component(logger, "browser"))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// sheetConfig resolves the sheet credentials. A credentials file wins over
// a service account stored in the keyring, which wins over an API key.
func sheetConfig(cfg *model.AppConfig) (sheet.Config, error) {
	sc := sheet.Config{
		SpreadsheetID: cfg.Sheet.SpreadsheetID,
		InputRange:    cfg.Sheet.InputRange,
		OutputRange:   cfg.Sheet.OutputRange,
		APIKey:        cfg.Sheet.APIKey,
	}

	if cfg.Sheet.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.Sheet.CredentialsFile)
		if err != nil {
			return sc, model.Fatal("sheet.credentials", fmt.Errorf("reading %s: %w", cfg.Sheet.CredentialsFile, err))
		}
		sc.CredentialsJSON = data
		return sc, nil
	}

	stored, err := credential.Get(credential.SheetCredentialsKey)
	switch {
	case err == nil:
		sc.CredentialsJSON = []byte(stored)
	case errors.Is(err, credential.ErrNotFound):
	default:
		if sc.APIKey == "" {
			return sc, model.Fatal("sheet.credentials", err)
		}
	}
	return sc, nil
}

func openLedger(path string) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return store.NewSQLiteStore(path)
}
