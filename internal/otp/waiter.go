package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/nhle/registry-submit/internal/model"
)

// Mailbox is the part of a mailbox session the waiter polls.
// *mailbox.Session satisfies it.
type Mailbox interface {
	Search(ctx context.Context, sender string) ([]uint32, error)
	FetchHeaderDate(ctx context.Context, id uint32) (time.Time, error)
	FetchFull(ctx context.Context, id uint32) (model.EmailMessage, error)
}

// Config controls one waiter.
type Config struct {
	// Sender is the From address OTP messages arrive from.
	Sender string

	PollInterval time.Duration

	// MaxPolls bounds the wait. Zero polls until ctx is cancelled.
	MaxPolls int
}

// Waiter polls a mailbox for the passcode sent after an OTP request.
type Waiter struct {
	mailbox Mailbox
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	sleep   func(context.Context, time.Duration) error
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithLogger sets the logger used for per-poll diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Waiter) { w.logger = l }
}

// WithSleep replaces the pause between polls.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(w *Waiter) { w.sleep = fn }
}

// New creates a Waiter reading from mb.
func New(mb Mailbox, cfg Config, opts ...Option) *Waiter {
	w := &Waiter{
		mailbox: mb,
		cfg:     cfg,
		logger:  zerolog.Nop(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(w)
	}

	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "imap-search",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return w
}

// Wait blocks until a message from the configured sender, delivered
// strictly after notBefore, yields a passcode. It fails with
// model.ErrOtpTimeout once MaxPolls polls have passed without one.
func (w *Waiter) Wait(ctx context.Context, notBefore time.Time) (string, error) {
	notBefore = notBefore.UTC()

	for poll := 1; w.cfg.MaxPolls == 0 || poll <= w.cfg.MaxPolls; poll++ {
		if err := ctx.Err(); err != nil {
			return "", model.BatchLocal("otp.wait", err)
		}

		log := w.logger.With().Int("poll", poll).Logger()

		code, err := w.poll(ctx, notBefore, log)
		switch {
		case err == nil && code != "":
			log.Info().Msg("passcode received")
			return code, nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return "", model.BatchLocal("otp.wait", fmt.Errorf("mailbox search unavailable: %w", err))
		case err != nil:
			log.Warn().Err(err).Str("kind", model.KindOf(err).String()).Msg("poll failed")
		default:
			log.Debug().Time("not_before", notBefore).Msg("no passcode yet")
		}

		if w.cfg.MaxPolls != 0 && poll == w.cfg.MaxPolls {
			break
		}
		if err := w.sleep(ctx, w.cfg.PollInterval); err != nil {
			return "", model.BatchLocal("otp.wait", err)
		}
	}

	return "", model.BatchLocal("otp.wait",
		fmt.Errorf("%w after %d polls", model.ErrOtpTimeout, w.cfg.MaxPolls))
}

// poll runs one search. An empty code with a nil error means no eligible
// message has arrived yet.
func (w *Waiter) poll(ctx context.Context, notBefore time.Time, log zerolog.Logger) (string, error) {
	out, err := w.breaker.Execute(func() (interface{}, error) {
		return w.mailbox.Search(ctx, w.cfg.Sender)
	})
	if err != nil {
		return "", err
	}
	ids, _ := out.([]uint32)
	if len(ids) == 0 {
		return "", nil
	}

	var (
		newest   uint32
		newestAt time.Time
		found    bool
	)
	for _, id := range ids {
		at, err := w.mailbox.FetchHeaderDate(ctx, id)
		if err != nil {
			log.Debug().Err(err).Uint32("uid", id).Msg("skipping message")
			continue
		}
		if !at.After(notBefore) {
			continue
		}
		// Strict comparison keeps the first discovered message on ties.
		if !found || at.After(newestAt) {
			newest, newestAt, found = id, at, true
		}
	}
	if !found {
		return "", nil
	}

	msg, err := w.mailbox.FetchFull(ctx, newest)
	if err != nil {
		return "", err
	}

	code, err := Extract(msg.Subject)
	if err != nil {
		return "", err
	}
	return code, nil
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
