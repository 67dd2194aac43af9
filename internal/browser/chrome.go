// Package browser drives a local Chrome instance through the DevTools
// protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

var errBrowserClosed = errors.New("browser is closed")

// Config controls how Chrome is launched.
type Config struct {
	Headless bool

	// ExecPath overrides Chrome discovery when set.
	ExecPath string
}

// Chrome is one browser tab. It implements form.Page and is not safe for
// concurrent use.
type Chrome struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      zerolog.Logger
	closed      bool
}

// launchFlags mirror the switches the registry form has been exercised
// with: no GPU, sandbox, extensions, popups, images or infobars.
func launchFlags(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("start-maximized", true),
		chromedp.Flag("disable-software-rasterizer", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Launch starts Chrome and opens a blank tab. The browser lives until
// Close is called, independent of ctx.
func Launch(ctx context.Context, cfg Config, logger zerolog.Logger) (*Chrome, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), launchFlags(cfg)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...interface{}) {
			logger.Debug().Msgf(format, args...)
		}),
	)

	// The first Run starts the browser process.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	logger.Info().Bool("headless", cfg.Headless).Msg("browser started")
	return &Chrome{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger,
	}, nil
}

// run executes actions on the tab, bounded by timeout (when positive) and
// by the caller's ctx.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if c.closed {
		return errBrowserClosed
	}

	opCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(opCtx, timeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(opCtx, actions...)
}

// Open navigates to url and waits for the document to load.
func (c *Chrome) Open(ctx context.Context, url string, timeout time.Duration) error {
	if err := c.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// Reload reloads the current page.
func (c *Chrome) Reload(ctx context.Context, timeout time.Duration) error {
	if err := c.run(ctx, timeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reloading: %w", err)
	}
	return nil
}

// Click waits for selector to be visible and clicks it.
func (c *Chrome) Click(ctx context.Context, selector string, timeout time.Duration) error {
	err := c.run(ctx, timeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("clicking %s: %w", selector, err)
	}
	return nil
}

// Fill waits for selector to be present and types value into it.
func (c *Chrome) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	err := c.run(ctx, timeout,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("filling %s: %w", selector, err)
	}
	return nil
}

// Choose selects the option with the given value in a <select> element and
// fires its change event.
func (c *Chrome) Choose(ctx context.Context, selector, value string, timeout time.Duration) error {
	script := fmt.Sprintf(
		`document.querySelector(%s).dispatchEvent(new Event("change", {bubbles: true}))`,
		strconv.Quote(selector),
	)
	var dispatched bool
	err := c.run(ctx, timeout,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
		chromedp.Evaluate(script, &dispatched),
	)
	if err != nil {
		return fmt.Errorf("choosing %q in %s: %w", value, selector, err)
	}
	return nil
}

// ReadText waits for selector to be visible and returns its text.
func (c *Chrome) ReadText(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	var text string
	err := c.run(ctx, timeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Text(selector, &text, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", selector, err)
	}
	return text, nil
}

// Close shuts the tab and the browser process. Calling it again is a no-op.
func (c *Chrome) Close() error {
	if c == nil || c.closed {
		return nil
	}
	c.closed = true

	err := chromedp.Cancel(c.ctx)
	c.cancelTab()
	c.cancelAlloc()
	c.logger.Info().Msg("browser closed")
	if err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}
	return nil
}
