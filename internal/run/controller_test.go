package run

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/registry-submit/internal/form"
	"github.com/nhle/registry-submit/internal/mailbox"
	"github.com/nhle/registry-submit/internal/model"
	"github.com/nhle/registry-submit/internal/otp"
	"github.com/nhle/registry-submit/tests/testutil"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	events []string
}

func (r *recorder) add(e string) { r.events = append(r.events, e) }

type browserMock struct {
	rec *recorder

	// failFeedback lists 1-based submissions whose feedback never shows.
	failFeedback map[int]bool
	submissions  int
}

func (b *browserMock) Open(context.Context, string, time.Duration) error { return nil }
func (b *browserMock) Reload(context.Context, time.Duration) error       { return nil }

func (b *browserMock) Click(_ context.Context, selector string, _ time.Duration) error {
	if selector == "#submitButton" {
		b.submissions++
	}
	return nil
}

func (b *browserMock) Fill(context.Context, string, string, time.Duration) error   { return nil }
func (b *browserMock) Choose(context.Context, string, string, time.Duration) error { return nil }

func (b *browserMock) ReadText(context.Context, string, time.Duration) (string, error) {
	if b.failFeedback[b.submissions] {
		return "", errors.New("feedback-id not visible")
	}
	return fmt.Sprintf("FB-%d", b.submissions), nil
}

func (b *browserMock) Close() error {
	b.rec.add("browser.close")
	return nil
}

type mailboxMock struct {
	rec *recorder

	// deliveredAt is the Date of the only OTP message in the mailbox.
	deliveredAt time.Time

	// emptySearches counts leading searches that find nothing.
	emptySearches int
	searches      int
}

func (m *mailboxMock) Search(context.Context, string) ([]uint32, error) {
	m.searches++
	if m.searches <= m.emptySearches {
		return nil, nil
	}
	return []uint32{7}, nil
}

func (m *mailboxMock) FetchHeaderDate(context.Context, uint32) (time.Time, error) {
	return m.deliveredAt, nil
}

func (m *mailboxMock) FetchFull(context.Context, uint32) (model.EmailMessage, error) {
	return model.EmailMessage{ID: 7, ReceivedAt: m.deliveredAt, Subject: "Your verification code: 048213"}, nil
}

func (m *mailboxMock) Close() error {
	m.rec.add("mailbox.close")
	return nil
}

type sinkMock struct {
	rec     *recorder
	records []model.ResultRecord
	calls   int
	ctxErr  error
}

func (s *sinkMock) WriteResults(ctx context.Context, records []model.ResultRecord) error {
	s.rec.add("sink.write")
	s.calls++
	s.ctxErr = ctx.Err()
	s.records = append(s.records, records...)
	return nil
}

type fixture struct {
	rec      *recorder
	browser  *browserMock
	mailbox  *mailboxMock
	sink     *sinkMock
	launches int
	opens    int
	openErr  error
}

func newFixture() *fixture {
	rec := &recorder{}
	return &fixture{
		rec:     rec,
		browser: &browserMock{rec: rec, failFeedback: map[int]bool{}},
		mailbox: &mailboxMock{rec: rec, deliveredAt: t0.Add(time.Second)},
		sink:    &sinkMock{rec: rec},
	}
}

func (f *fixture) controller(batchSize int, opts ...Option) *Controller {
	cfg := Config{
		BatchSize:           batchSize,
		PauseBetweenBatches: 500 * time.Millisecond,
		Otp:                 otp.Config{Sender: "no-reply@example.com", PollInterval: time.Second, MaxPolls: 2},
		Form: form.Config{
			URL:             "https://registry.example.com",
			Profile:         model.FormProfile{Category: "telemarketing"},
			PageLoadTimeout: time.Second,
			FieldTimeout:    time.Second,
			FeedbackTimeout: time.Second,
		},
	}
	opts = append([]Option{
		WithClock(func() time.Time { return t0 }),
		WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	}, opts...)

	return New(cfg,
		func(context.Context) (Mailbox, error) {
			f.opens++
			if f.openErr != nil {
				return nil, f.openErr
			}
			return f.mailbox, nil
		},
		func(context.Context) (Browser, error) {
			f.launches++
			return f.browser, nil
		},
		f.sink,
		opts...,
	)
}

func phoneRows(n int) []model.Row {
	rows := make([]model.Row, n)
	for i := range rows {
		rows[i] = model.NewRow(fmt.Sprintf("555%07d", i))
	}
	return rows
}

func TestRunSubmitsEveryBatchThenPersists(t *testing.T) {
	f := newFixture()

	summary, err := f.controller(20).Run(context.Background(), phoneRows(25))

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Len(t, summary.Records, 25)
	assert.Equal(t, "FB-1", summary.Records[0].FeedbackID)
	assert.Equal(t, "FB-2", summary.Records[24].FeedbackID)
	assert.Equal(t, "5550000024", summary.Records[24].PhoneNumber)
	assert.Equal(t, []string{"mailbox.close", "browser.close", "sink.write"}, f.rec.events)
	assert.Equal(t, 1, f.opens)
	assert.Equal(t, 1, f.launches)
}

func TestRunContinuesAfterBatchFailure(t *testing.T) {
	f := newFixture()
	f.browser.failFeedback[1] = true

	summary, err := f.controller(2).Run(context.Background(), phoneRows(4))

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, f.sink.records, 2)
	assert.Equal(t, "5550000002", f.sink.records[0].PhoneNumber)
	assert.Equal(t, "FB-2", f.sink.records[0].FeedbackID)
}

func TestRunSkipsBatchWithoutEligibleNumbers(t *testing.T) {
	f := newFixture()
	rows := []model.Row{model.NewRow("n/a"), model.NewRow(""), model.NewRow("5551110001")}

	summary, err := f.controller(2).Run(context.Background(), rows)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, f.browser.submissions)
	require.Len(t, summary.Records, 1)
	assert.Equal(t, "FB-1", summary.Records[0].FeedbackID)
}

func TestRunAuthFailureClosesBrowser(t *testing.T) {
	f := newFixture()
	f.openErr = &mailbox.AuthError{Username: "ops@example.com", Message: "invalid credentials"}

	summary, err := f.controller(20).Run(context.Background(), phoneRows(3))

	require.Error(t, err)
	assert.True(t, mailbox.IsAuthError(err))
	assert.Equal(t, model.KindFatal, model.KindOf(err))
	assert.Zero(t, summary.Succeeded)
	assert.Equal(t, []string{"browser.close"}, f.rec.events)
	assert.Zero(t, f.sink.calls)
}

func TestRunDoesNotPersistEmptyResults(t *testing.T) {
	f := newFixture()
	f.browser.failFeedback[1] = true
	f.browser.failFeedback[2] = true

	summary, err := f.controller(1).Run(context.Background(), phoneRows(2))

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Empty(t, summary.Records)
	assert.Zero(t, f.sink.calls)
	assert.Equal(t, []string{"mailbox.close", "browser.close"}, f.rec.events)
}

func TestRunEmptyInputOpensNothing(t *testing.T) {
	f := newFixture()

	summary, err := f.controller(20).Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Zero(t, summary.Batches)
	assert.Zero(t, f.launches)
	assert.Zero(t, f.opens)
	assert.Empty(t, f.rec.events)
}

func TestRunAbortStillTearsDownAndPersists(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := f.controller(2, WithSleep(func(ctx context.Context, d time.Duration) error {
		if d == 500*time.Millisecond {
			cancel()
		}
		return ctx.Err()
	}))

	summary, err := c.Run(ctx, phoneRows(6))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, []string{"mailbox.close", "browser.close", "sink.write"}, f.rec.events)
	assert.Len(t, f.sink.records, 2)
	assert.NoError(t, f.sink.ctxErr)
}

func TestRunRejectsInvalidBatchSize(t *testing.T) {
	f := newFixture()

	_, err := f.controller(0).Run(context.Background(), phoneRows(2))

	require.Error(t, err)
	assert.Equal(t, model.KindFatal, model.KindOf(err))
	assert.Zero(t, f.launches)
}

func TestRunWritesLedger(t *testing.T) {
	f := newFixture()
	f.browser.failFeedback[2] = true
	s := testutil.NewTestStore(t)

	summary, err := f.controller(2, WithLedger(s)).Run(context.Background(), phoneRows(3))
	require.NoError(t, err)

	ctx := context.Background()
	attempts, err := s.GetAttemptsForRun(ctx, summary.RunID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "feedback_captured", attempts[0].State)
	assert.Equal(t, "aborted", attempts[1].State)
	assert.Equal(t, "otp_submitted", attempts[1].FailedIn)

	stored, err := s.GetResultsForRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	runs, err := s.GetRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].Failed)
}

func TestRunRejectsPasscodeSentBeforeRequest(t *testing.T) {
	f := newFixture()
	f.mailbox.deliveredAt = t0.Add(-time.Second)

	summary, err := f.controller(20).Run(context.Background(), phoneRows(2))

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Succeeded)
	assert.Empty(t, summary.Records)
	assert.Zero(t, f.browser.submissions)
	assert.Zero(t, f.sink.calls)
}

func TestRunContinuesAfterOtpTimeout(t *testing.T) {
	f := newFixture()
	f.mailbox.emptySearches = 2

	summary, err := f.controller(2).Run(context.Background(), phoneRows(4))

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 3, f.mailbox.searches)
	assert.Equal(t, 1, f.browser.submissions)

	require.Len(t, f.sink.records, 2)
	assert.Equal(t, "5550000002", f.sink.records[0].PhoneNumber)
	assert.Equal(t, "5550000003", f.sink.records[1].PhoneNumber)
	assert.Equal(t, "FB-1", f.sink.records[0].FeedbackID)
}
