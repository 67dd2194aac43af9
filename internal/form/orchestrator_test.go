package form

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/registry-submit/internal/model"
)

type pageMock struct {
	calls []string
	fills map[string]string

	// failures maps "op selector" to the number of times it fails before
	// succeeding. A negative count fails forever.
	failures map[string]int

	feedback string

	// loadTimeouts records the timeout of every Open and Reload.
	loadTimeouts []time.Duration
}

func newPageMock() *pageMock {
	return &pageMock{
		fills:    map[string]string{},
		failures: map[string]int{},
		feedback: "  FB-2024-0001 \n",
	}
}

func (p *pageMock) fail(key string) error {
	n, ok := p.failures[key]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		p.failures[key] = n - 1
	}
	return fmt.Errorf("%s: timeout", key)
}

func (p *pageMock) Open(_ context.Context, url string, timeout time.Duration) error {
	p.calls = append(p.calls, "open "+url)
	p.loadTimeouts = append(p.loadTimeouts, timeout)
	return p.fail("open")
}

func (p *pageMock) Reload(_ context.Context, timeout time.Duration) error {
	p.calls = append(p.calls, "reload")
	p.loadTimeouts = append(p.loadTimeouts, timeout)
	return p.fail("reload")
}

func (p *pageMock) Click(_ context.Context, selector string, _ time.Duration) error {
	p.calls = append(p.calls, "click "+selector)
	return p.fail("click " + selector)
}

func (p *pageMock) Fill(_ context.Context, selector, value string, _ time.Duration) error {
	p.calls = append(p.calls, "fill "+selector)
	if err := p.fail("fill " + selector); err != nil {
		return err
	}
	p.fills[selector] = value
	return nil
}

func (p *pageMock) Choose(_ context.Context, selector, value string, _ time.Duration) error {
	p.calls = append(p.calls, "choose "+selector)
	if err := p.fail("choose " + selector); err != nil {
		return err
	}
	p.fills[selector] = value
	return nil
}

func (p *pageMock) ReadText(_ context.Context, selector string, _ time.Duration) (string, error) {
	p.calls = append(p.calls, "read "+selector)
	if err := p.fail("read " + selector); err != nil {
		return "", err
	}
	return p.feedback, nil
}

func (p *pageMock) count(call string) int {
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

type waiterMock struct {
	code      string
	err       error
	notBefore time.Time
	calls     int
}

func (w *waiterMock) Wait(_ context.Context, notBefore time.Time) (string, error) {
	w.calls++
	w.notBefore = notBefore
	return w.code, w.err
}

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		URL: "https://registry.example.com/register",
		Profile: model.FormProfile{
			Category:    "telemarketing",
			ContactName: "Jane Doe",
			State:       "FL",
		},
		PageLoadTimeout: 5 * time.Second,
		FieldTimeout:    time.Second,
		FeedbackTimeout: 3 * time.Second,
	}
}

func newTestOrchestrator(page Page, waiter OtpWaiter, opts ...Option) *Orchestrator {
	return newConfiguredOrchestrator(page, waiter, testConfig(), opts...)
}

func newConfiguredOrchestrator(page Page, waiter OtpWaiter, cfg Config, opts ...Option) *Orchestrator {
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(page, waiter, cfg, opts...)
}

func batchOf(phones ...string) model.Batch {
	rows := make([]model.Row, len(phones))
	for i, p := range phones {
		rows[i] = model.NewRow(p)
	}
	return model.Batch{Index: 0, Rows: rows}
}

func TestSubmitCapturesFeedback(t *testing.T) {
	page := newPageMock()
	waiter := &waiterMock{code: "048213"}
	o := newTestOrchestrator(page, waiter)

	a := o.Submit(context.Background(), batchOf("5551110001", "['5551110002']", "5551110003"))

	require.True(t, a.Succeeded(), "attempt error: %v", a.Err)
	assert.Equal(t, model.StateFeedbackCaptured, a.State)
	assert.Equal(t, "FB-2024-0001", a.FeedbackID)
	assert.Equal(t, "048213", a.OTP)
	assert.Equal(t, 3, a.Filled)
	assert.NoError(t, a.Err)

	assert.Equal(t, "5551110001", page.fills["#enterprise_phone_0"])
	assert.Equal(t, "5551110002", page.fills["#enterprise_phone_1"])
	assert.Equal(t, "5551110003", page.fills["#enterprise_phone_2"])
	assert.Equal(t, 2, page.count("click #add-number-command"))
	assert.Equal(t, "telemarketing", page.fills["#enterprise_category"])
	assert.Equal(t, "FL", page.fills["#enterprise_company_address_state"])
	assert.Equal(t, "048213", page.fills["#captcha"])
	assert.Equal(t, 1, page.count("click #submitButton"))
	assert.Zero(t, page.count("fill #enterprise_contact_email"), "empty profile values are skipped")
}

func TestSubmitCallOrder(t *testing.T) {
	page := newPageMock()
	o := newTestOrchestrator(page, &waiterMock{code: "1"})

	o.Submit(context.Background(), batchOf("5551110001"))

	require.GreaterOrEqual(t, len(page.calls), 5)
	assert.Equal(t, []string{
		"open https://registry.example.com/register",
		"reload",
		"click #nextButton",
		"fill #enterprise_phone_0",
	}, page.calls[:4])
	assert.Equal(t, "read .feedback-id", page.calls[len(page.calls)-1])
	assert.Zero(t, page.count("click #add-number-command"))
}

func TestSubmitHandsRequestTimeToWaiter(t *testing.T) {
	waiter := &waiterMock{code: "1"}
	o := newTestOrchestrator(newPageMock(), waiter)

	a := o.Submit(context.Background(), batchOf("5551110001"))

	assert.True(t, now.Equal(a.OtpRequestedAt))
	assert.True(t, now.Equal(waiter.notBefore))
}

func TestSubmitWidensBoundOnlyWithExplicitSkew(t *testing.T) {
	waiter := &waiterMock{code: "1"}
	cfg := testConfig()
	cfg.DateSkew = 2 * time.Second
	o := newConfiguredOrchestrator(newPageMock(), waiter, cfg)

	o.Submit(context.Background(), batchOf("5551110001"))

	assert.True(t, now.Add(-2*time.Second).Equal(waiter.notBefore))
}

func TestSubmitBoundsPageLoads(t *testing.T) {
	page := newPageMock()
	page.failures["click #nextButton"] = 1
	o := newTestOrchestrator(page, &waiterMock{code: "1"})

	o.Submit(context.Background(), batchOf("5551110001"))

	require.Len(t, page.loadTimeouts, 3)
	for _, timeout := range page.loadTimeouts {
		assert.Equal(t, 5*time.Second, timeout)
	}
}

func TestSubmitPageLoadTimeoutFallsBackToFieldTimeout(t *testing.T) {
	page := newPageMock()
	cfg := testConfig()
	cfg.PageLoadTimeout = 0
	o := newConfiguredOrchestrator(page, &waiterMock{code: "1"}, cfg)

	o.Submit(context.Background(), batchOf("5551110001"))

	require.NotEmpty(t, page.loadTimeouts)
	assert.Equal(t, time.Second, page.loadTimeouts[0])
}

func TestSubmitAbortsWhenNavigationTimesOut(t *testing.T) {
	page := newPageMock()
	page.failures["open"] = -1
	waiter := &waiterMock{code: "1"}
	o := newTestOrchestrator(page, waiter)

	a := o.Submit(context.Background(), batchOf("5551110001"))

	assert.Equal(t, model.StateAborted, a.State)
	assert.Equal(t, model.StateStart, a.FailedIn)
	assert.Zero(t, waiter.calls)
}

func TestSubmitRetriesFirstLoadOnce(t *testing.T) {
	page := newPageMock()
	page.failures["click #nextButton"] = 1
	o := newTestOrchestrator(page, &waiterMock{code: "1"})

	a := o.Submit(context.Background(), batchOf("5551110001"))

	assert.True(t, a.Succeeded())
	assert.Equal(t, 2, page.count("reload"))
	assert.Equal(t, 2, page.count("click #nextButton"))
}

func TestSubmitAbortsWhenFormNeverLoads(t *testing.T) {
	page := newPageMock()
	page.failures["click #nextButton"] = -1
	waiter := &waiterMock{code: "1"}
	o := newTestOrchestrator(page, waiter)

	a := o.Submit(context.Background(), batchOf("5551110001"))

	assert.Equal(t, model.StateAborted, a.State)
	assert.Equal(t, model.StateStart, a.FailedIn)
	assert.Empty(t, a.FeedbackID)
	assert.Equal(t, 2, page.count("click #nextButton"))
	assert.Zero(t, waiter.calls)
}

func TestSubmitTruncatesWhenSlotCannotBeAdded(t *testing.T) {
	page := newPageMock()
	page.failures["click #add-number-command"] = -1
	o := newTestOrchestrator(page, &waiterMock{code: "1"})

	a := o.Submit(context.Background(), batchOf("5551110001", "5551110002", "5551110003"))

	assert.Equal(t, model.StateAborted, a.State)
	assert.Equal(t, model.StateFormLoaded, a.FailedIn)
	assert.Equal(t, 1, a.Filled)
	assert.Contains(t, a.Err.Error(), "fill truncated after 1 of 3 numbers")
	assert.Zero(t, page.count("click #send-verification-code"))
}

func TestSubmitOtpTimeoutAbortsBatch(t *testing.T) {
	var buf bytes.Buffer
	page := newPageMock()
	waiter := &waiterMock{err: model.BatchLocal("otp.wait", model.ErrOtpTimeout)}
	o := newTestOrchestrator(page, waiter, WithLogger(zerolog.New(&buf)))

	a := o.Submit(context.Background(), batchOf("5551110001", "5551110002"))

	assert.Equal(t, model.StateAborted, a.State)
	assert.Equal(t, model.StateOtpRequested, a.FailedIn)
	assert.ErrorIs(t, a.Err, model.ErrOtpTimeout)
	assert.Empty(t, a.FeedbackID)
	assert.Empty(t, a.OTP)
	assert.Zero(t, page.count("click #submitButton"))
	assert.Contains(t, buf.String(), `"state":"otp_requested"`)
	assert.Contains(t, buf.String(), "batch aborted")
}

func TestSubmitAbortsWithoutFeedback(t *testing.T) {
	page := newPageMock()
	page.failures["read .feedback-id"] = -1
	o := newTestOrchestrator(page, &waiterMock{code: "1"})

	a := o.Submit(context.Background(), batchOf("5551110001"))

	assert.Equal(t, model.StateAborted, a.State)
	assert.Equal(t, model.StateOtpSubmitted, a.FailedIn)
	assert.Empty(t, a.FeedbackID)
}

func TestSubmitRejectsBlankFeedback(t *testing.T) {
	page := newPageMock()
	page.feedback = "   "
	o := newTestOrchestrator(page, &waiterMock{code: "1"})

	a := o.Submit(context.Background(), batchOf("5551110001"))

	assert.False(t, a.Succeeded())
	assert.Empty(t, a.FeedbackID)
}

func TestSubmitWithoutEligibleNumbers(t *testing.T) {
	page := newPageMock()
	o := newTestOrchestrator(page, &waiterMock{code: "1"})

	a := o.Submit(context.Background(), batchOf("n/a", ""))

	assert.Equal(t, model.StateAborted, a.State)
	assert.True(t, errors.Is(a.Err, model.ErrNoEligibleNumber))
	assert.Zero(t, a.Filled)
}

func TestSubmitCapsAtMaxBatchSize(t *testing.T) {
	phones := make([]string, model.MaxBatchSize+3)
	for i := range phones {
		phones[i] = fmt.Sprintf("555%07d", i)
	}
	page := newPageMock()
	o := newTestOrchestrator(page, &waiterMock{code: "1"})

	a := o.Submit(context.Background(), batchOf(phones...))

	assert.True(t, a.Succeeded())
	assert.Equal(t, model.MaxBatchSize, a.Filled)
	assert.Equal(t, model.MaxBatchSize-1, page.count("click #add-number-command"))
}
