// Package form drives one batch through the registration form.
package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/registry-submit/internal/batch"
	"github.com/nhle/registry-submit/internal/model"
)

// Page is a browser tab positioned on the registration form. Every wait
// for a control is bounded by the given timeout.
type Page interface {
	Open(ctx context.Context, url string, timeout time.Duration) error
	Reload(ctx context.Context, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	Choose(ctx context.Context, selector, value string, timeout time.Duration) error
	ReadText(ctx context.Context, selector string, timeout time.Duration) (string, error)
}

// OtpWaiter blocks until a passcode delivered after notBefore arrives.
type OtpWaiter interface {
	Wait(ctx context.Context, notBefore time.Time) (string, error)
}

// Config holds the form location, its static values and timing.
type Config struct {
	URL     string
	Profile model.FormProfile

	// PageLoadTimeout bounds navigation and reloads. Zero falls back to
	// FieldTimeout.
	PageLoadTimeout time.Duration
	FieldTimeout    time.Duration
	FeedbackTimeout time.Duration

	// DateSkew is subtracted from the OTP request instant to form the
	// not-before bound handed to the waiter. Zero uses the instant itself.
	DateSkew time.Duration

	Selectors Selectors
}

// Orchestrator sequences one SubmissionAttempt per batch.
type Orchestrator struct {
	page   Page
	waiter OtpWaiter
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger for state transitions.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. A zero cfg.Selectors is replaced by
// DefaultSelectors.
func New(page Page, waiter OtpWaiter, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = cfg.FieldTimeout
	}
	o := &Orchestrator{
		page:   page,
		waiter: waiter,
		cfg:    cfg,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type step struct {
	to model.SubmissionState
	fn func(context.Context, *model.SubmissionAttempt) error
}

// Submit runs b through the form and returns the attempt in a terminal
// state. Failures are recorded on the attempt and never returned.
func (o *Orchestrator) Submit(ctx context.Context, b model.Batch) *model.SubmissionAttempt {
	attempt := model.NewAttempt(b, o.now().UTC())
	log := o.logger.With().Int("batch", b.Index+1).Logger()

	steps := []step{
		{model.StateFormLoaded, o.loadForm},
		{model.StateFieldsFilled, o.fillNumbers},
		{model.StateOtpRequested, o.requestOtp},
		{model.StateOtpReceived, o.awaitOtp},
		{model.StateOtpSubmitted, o.submitOtp},
	}

	for _, s := range steps {
		if err := s.fn(ctx, attempt); err != nil {
			o.abort(log, attempt, err)
			return attempt
		}
		attempt.Advance(s.to)
		log.Debug().Str("state", attempt.State.String()).Msg("state reached")
	}

	feedback, err := o.captureFeedback(ctx)
	if err != nil {
		o.abort(log, attempt, err)
		return attempt
	}
	attempt.Capture(feedback)
	log.Info().
		Str("state", attempt.State.String()).
		Str("feedback_id", feedback).
		Int("filled", attempt.Filled).
		Msg("feedback captured")

	return attempt
}

func (o *Orchestrator) abort(log zerolog.Logger, a *model.SubmissionAttempt, err error) {
	a.Abort(err)
	log.Error().
		Err(err).
		Str("state", a.FailedIn.String()).
		Int("filled", a.Filled).
		Msg("batch aborted")
}

// loadForm opens the form. The first load rarely becomes interactive, so
// the page is always reloaded once, and once more if the start control
// still does not respond.
func (o *Orchestrator) loadForm(ctx context.Context, _ *model.SubmissionAttempt) error {
	if err := o.page.Open(ctx, o.cfg.URL, o.cfg.PageLoadTimeout); err != nil {
		return model.BatchLocal("form.load", fmt.Errorf("opening %s: %w", o.cfg.URL, err))
	}
	if err := o.page.Reload(ctx, o.cfg.PageLoadTimeout); err != nil {
		return model.BatchLocal("form.load", fmt.Errorf("reloading: %w", err))
	}

	err := o.page.Click(ctx, o.cfg.Selectors.Start, o.cfg.FieldTimeout)
	if err == nil {
		return nil
	}
	o.logger.Debug().Err(err).Msg("form not ready after first load, reloading")

	if err := o.page.Reload(ctx, o.cfg.PageLoadTimeout); err != nil {
		return model.BatchLocal("form.load", fmt.Errorf("reloading: %w", err))
	}
	if err := o.page.Click(ctx, o.cfg.Selectors.Start, o.cfg.FieldTimeout); err != nil {
		return model.BatchLocal("form.load", fmt.Errorf("form did not become ready: %w", err))
	}
	return nil
}

// fillNumbers enters each eligible phone number into its ordinal slot,
// revealing a new slot between entries.
func (o *Orchestrator) fillNumbers(ctx context.Context, a *model.SubmissionAttempt) error {
	phones := batch.Eligible(a.Batch)
	if len(phones) > model.MaxBatchSize {
		phones = phones[:model.MaxBatchSize]
	}
	if len(phones) == 0 {
		return model.BatchLocal("form.fill", model.ErrNoEligibleNumber)
	}

	sel := o.cfg.Selectors
	for i, phone := range phones {
		if err := o.page.Fill(ctx, sel.phone(i), phone, o.cfg.FieldTimeout); err != nil {
			return model.BatchLocal("form.fill",
				fmt.Errorf("entering number %d of %d: %w", i+1, len(phones), err))
		}
		a.Filled++

		if i == len(phones)-1 {
			break
		}
		if err := o.page.Click(ctx, sel.AddNumber, o.cfg.FieldTimeout); err != nil {
			return model.BatchLocal("form.fill",
				fmt.Errorf("fill truncated after %d of %d numbers: %w", a.Filled, len(phones), err))
		}
	}
	return nil
}

// requestOtp enters the profile values and triggers the OTP email.
func (o *Orchestrator) requestOtp(ctx context.Context, a *model.SubmissionAttempt) error {
	for _, f := range o.cfg.Selectors.staticFields(o.cfg.Profile) {
		if f.value == "" {
			continue
		}

		var err error
		if f.choose {
			err = o.page.Choose(ctx, f.selector, f.value, o.cfg.FieldTimeout)
		} else {
			err = o.page.Fill(ctx, f.selector, f.value, o.cfg.FieldTimeout)
		}
		if err != nil {
			return model.BatchLocal("form.profile", fmt.Errorf("setting %s: %w", f.selector, err))
		}
	}

	a.OtpRequestedAt = o.now().UTC()
	if err := o.page.Click(ctx, o.cfg.Selectors.SendCode, o.cfg.FieldTimeout); err != nil {
		return model.BatchLocal("form.request_otp", fmt.Errorf("requesting passcode: %w", err))
	}
	return nil
}

func (o *Orchestrator) awaitOtp(ctx context.Context, a *model.SubmissionAttempt) error {
	notBefore := a.OtpRequestedAt.Add(-o.cfg.DateSkew)

	code, err := o.waiter.Wait(ctx, notBefore)
	if err != nil {
		return err
	}
	a.OTP = code
	return nil
}

func (o *Orchestrator) submitOtp(ctx context.Context, a *model.SubmissionAttempt) error {
	sel := o.cfg.Selectors
	if err := o.page.Fill(ctx, sel.Passcode, a.OTP, o.cfg.FieldTimeout); err != nil {
		return model.BatchLocal("form.submit", fmt.Errorf("entering passcode: %w", err))
	}
	if err := o.page.Click(ctx, sel.Submit, o.cfg.FieldTimeout); err != nil {
		return model.BatchLocal("form.submit", fmt.Errorf("submitting: %w", err))
	}
	return nil
}

func (o *Orchestrator) captureFeedback(ctx context.Context) (string, error) {
	text, err := o.page.ReadText(ctx, o.cfg.Selectors.Feedback, o.cfg.FeedbackTimeout)
	if err != nil {
		return "", model.BatchLocal("form.feedback", fmt.Errorf("waiting for feedback id: %w", err))
	}

	feedback := strings.TrimSpace(text)
	if feedback == "" {
		return "", model.BatchLocal("form.feedback", errors.New("feedback id is empty"))
	}
	return feedback, nil
}
