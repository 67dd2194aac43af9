// Package run sequences a whole submission run.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/registry-submit/internal/batch"
	"github.com/nhle/registry-submit/internal/form"
	"github.com/nhle/registry-submit/internal/metrics"
	"github.com/nhle/registry-submit/internal/model"
	"github.com/nhle/registry-submit/internal/otp"
	"github.com/nhle/registry-submit/internal/results"
	"github.com/nhle/registry-submit/internal/store"
)

// Mailbox is an open mailbox session owned by the run.
type Mailbox interface {
	otp.Mailbox
	Close() error
}

// Browser is the form page owned by the run.
type Browser interface {
	form.Page
	Close() error
}

// Sink receives the result set once the run has torn down.
type Sink interface {
	WriteResults(ctx context.Context, records []model.ResultRecord) error
}

// MailboxOpener opens the run's single mailbox session.
type MailboxOpener func(ctx context.Context) (Mailbox, error)

// BrowserLauncher starts the run's browser.
type BrowserLauncher func(ctx context.Context) (Browser, error)

// Config holds everything a run needs besides its collaborators.
type Config struct {
	BatchSize           int
	PauseBetweenBatches time.Duration

	// PersistTimeout bounds the final write, which also runs after an
	// operator abort.
	PersistTimeout time.Duration

	Otp  otp.Config
	Form form.Config
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Batches    int
	Succeeded  int
	Failed     int
	Skipped    int
	Records    []model.ResultRecord
}

// Controller runs batches strictly one after another through one browser
// and one mailbox session.
type Controller struct {
	cfg           Config
	openMailbox   MailboxOpener
	launchBrowser BrowserLauncher
	sink          Sink

	ledger  store.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the run logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithLedger records runs and attempts in s.
func WithLedger(s store.Store) Option {
	return func(c *Controller) { c.ledger = s }
}

// WithMetrics records batch outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSleep replaces the pause between batches and between OTP polls.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// New creates a Controller. sink may be nil to skip persistence.
func New(
	cfg Config,
	openMailbox MailboxOpener,
	launchBrowser BrowserLauncher,
	sink Sink,
	opts ...Option,
) *Controller {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = time.Minute
	}
	c := &Controller{
		cfg:           cfg,
		openMailbox:   openMailbox,
		launchBrowser: launchBrowser,
		sink:          sink,
		logger:        zerolog.Nop(),
		now:           time.Now,
		sleep:         sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run submits rows in batches. Batch failures are logged and the run goes
// on; fatal errors and cancellation stop it. The mailbox and the browser
// are always closed before the collected results are handed to the sink.
func (c *Controller) Run(ctx context.Context, rows []model.Row) (Summary, error) {
	summary := Summary{
		RunID:     uuid.NewString(),
		StartedAt: c.now().UTC(),
	}
	log := c.logger.With().Str("run_id", summary.RunID).Logger()

	batches, err := batch.Plan(rows, c.cfg.BatchSize)
	if err != nil {
		return summary, model.Fatal("run.plan", err)
	}
	summary.Batches = len(batches)
	log.Info().Int("rows", len(rows)).Int("batches", len(batches)).Msg("batches planned")

	if c.ledger != nil {
		if err := c.ledger.StartRun(ctx, summary.RunID, summary.StartedAt); err != nil {
			log.Warn().Err(err).Msg("ledger unavailable")
		}
	}

	collector := results.NewCollector(log)
	runErr := c.process(ctx, log, batches, collector, &summary)

	summary.FinishedAt = c.now().UTC()
	summary.Records = collector.Records()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PersistTimeout)
	defer cancel()

	persistErr := c.persist(persistCtx, log, summary)

	log.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("records", len(summary.Records)).
		Msg("run finished")

	return summary, errors.Join(runErr, persistErr)
}

// process owns the browser and the mailbox session for the batch loop.
func (c *Controller) process(
	ctx context.Context,
	log zerolog.Logger,
	batches []model.Batch,
	collector *results.Collector,
	summary *Summary,
) error {
	if len(batches) == 0 {
		log.Info().Msg("nothing to submit")
		return nil
	}

	browser, err := c.launchBrowser(ctx)
	if err != nil {
		return model.Fatal("run.browser", err)
	}

	var mailbox Mailbox
	defer func() { c.teardown(log, mailbox, browser) }()

	mailbox, err = c.openMailbox(ctx)
	if err != nil {
		if model.KindOf(err) != model.KindFatal {
			err = model.Fatal("run.mailbox", err)
		}
		log.Error().Err(err).Msg("mailbox login failed")
		return err
	}

	waiter := otp.New(mailbox, c.cfg.Otp,
		otp.WithLogger(log.With().Str("component", "otp").Logger()),
		otp.WithSleep(c.sleep),
	)
	orchestrator := form.New(browser, waiter, c.cfg.Form,
		form.WithLogger(log.With().Str("component", "form").Logger()),
		form.WithClock(c.now),
	)

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted before batch %d/%d: %w", i+1, len(batches), err)
		}

		blog := log.With().Int("batch", b.Index+1).Logger()
		blog.Info().Msgf("Processing Batch %d/%d", b.Index+1, len(batches))

		if len(batch.Eligible(b)) == 0 {
			blog.Warn().Err(model.ErrNoEligibleNumber).Msg("skipping batch")
			summary.Skipped++
			c.metrics.ObserveSkip()
			continue
		}

		attempt := orchestrator.Submit(ctx, b)
		end := c.now().UTC()

		records := 0
		if attempt.Succeeded() {
			records = collector.RecordSuccess(b, attempt.FeedbackID, end)
			summary.Succeeded++
		} else {
			collector.RecordFailure(b, attempt.Err)
			summary.Failed++
		}
		c.metrics.ObserveAttempt(attempt, records, end)
		c.saveAttempt(ctx, blog, summary.RunID, attempt)

		if attempt.Err != nil && model.KindOf(attempt.Err) == model.KindFatal {
			return attempt.Err
		}

		if i < len(batches)-1 && c.cfg.PauseBetweenBatches > 0 {
			if err := c.sleep(ctx, c.cfg.PauseBetweenBatches); err != nil {
				return fmt.Errorf("run interrupted after batch %d/%d: %w", i+1, len(batches), err)
			}
		}
	}

	return nil
}

// teardown closes the mailbox, then the browser.
func (c *Controller) teardown(log zerolog.Logger, mailbox Mailbox, browser Browser) {
	if mailbox != nil {
		if err := mailbox.Close(); err != nil {
			log.Warn().Err(err).Msg("closing mailbox")
		}
	}
	if browser != nil {
		if err := browser.Close(); err != nil {
			log.Warn().Err(err).Msg("closing browser")
		}
	}
}

func (c *Controller) saveAttempt(ctx context.Context, log zerolog.Logger, runID string, a *model.SubmissionAttempt) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.SaveAttempt(context.WithoutCancel(ctx), runID, a); err != nil {
		log.Warn().Err(err).Msg("saving attempt to ledger")
	}
}

// persist hands non-empty results to the sink and closes the ledger entry.
func (c *Controller) persist(ctx context.Context, log zerolog.Logger, summary Summary) error {
	if c.ledger != nil {
		if err := c.ledger.SaveResults(ctx, summary.RunID, summary.Records); err != nil {
			log.Warn().Err(err).Msg("saving results to ledger")
		}
		err := c.ledger.FinishRun(ctx, summary.RunID, store.RunSummary{
			FinishedAt: summary.FinishedAt,
			Batches:    summary.Batches,
			Succeeded:  summary.Succeeded,
			Failed:     summary.Failed,
			Skipped:    summary.Skipped,
		})
		if err != nil {
			log.Warn().Err(err).Msg("finishing run in ledger")
		}
	}

	if len(summary.Records) == 0 || c.sink == nil {
		return nil
	}
	if err := c.sink.WriteResults(ctx, summary.Records); err != nil {
		return fmt.Errorf("persisting %d results: %w", len(summary.Records), err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
