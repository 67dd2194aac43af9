package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var started = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAttemptCaptureIsTerminal(t *testing.T) {
	a := NewAttempt(Batch{Index: 2, Rows: []Row{NewRow("5551110001")}}, started)
	a.Advance(StateFormLoaded)
	a.Advance(StateOtpSubmitted)
	a.Capture("FB-1")

	assert.True(t, a.Succeeded())
	assert.Equal(t, "FB-1", a.FeedbackID)

	a.Advance(StateFormLoaded)
	a.Abort(errors.New("late failure"))
	a.Capture("FB-2")

	assert.Equal(t, StateFeedbackCaptured, a.State)
	assert.Equal(t, "FB-1", a.FeedbackID)
	assert.NoError(t, a.Err)
}

func TestAttemptAbortRecordsState(t *testing.T) {
	a := NewAttempt(Batch{}, started)
	a.Advance(StateFormLoaded)
	a.Advance(StateFieldsFilled)
	a.Advance(StateOtpRequested)
	a.Abort(ErrOtpTimeout)

	assert.False(t, a.Succeeded())
	assert.Equal(t, StateAborted, a.State)
	assert.Equal(t, StateOtpRequested, a.FailedIn)
	assert.Empty(t, a.FeedbackID)

	a.Capture("FB-1")
	assert.Empty(t, a.FeedbackID)
}

func TestAttemptRecord(t *testing.T) {
	a := NewAttempt(Batch{Index: 4, Rows: []Row{NewRow("1"), NewRow("2")}}, started)
	a.Filled = 2
	a.OtpRequestedAt = started.Add(3 * time.Second)
	a.Advance(StateOtpReceived)
	a.Abort(errors.New("passcode field missing"))

	rec := a.Record("att-1", "run-1")

	assert.Equal(t, "att-1", rec.ID)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, 4, rec.BatchIndex)
	assert.Equal(t, 2, rec.Rows)
	assert.Equal(t, "aborted", rec.State)
	assert.Equal(t, "otp_received", rec.FailedIn)
	assert.Equal(t, "passcode field missing", rec.Error)
	assert.True(t, rec.OtpRequestedAt.Valid)
}

func TestRecordOfSuccessHasNoFailedState(t *testing.T) {
	a := NewAttempt(Batch{}, started)
	a.Capture("FB-9")

	rec := a.Record("att-2", "run-1")

	assert.Equal(t, "feedback_captured", rec.State)
	assert.Empty(t, rec.FailedIn)
	assert.Empty(t, rec.Error)
	assert.False(t, rec.OtpRequestedAt.Valid)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"plain", errors.New("boom"), KindBatch},
		{"fatal", Fatal("op", errors.New("boom")), KindFatal},
		{"wrapped fatal", fmt.Errorf("outer: %w", Fatal("op", errors.New("boom"))), KindFatal},
		{"message", MessageLocal("op", ErrExtraction), KindMessage},
		{"data", DataLocal("op", errors.New("bad phone")), KindData},
		{"batch", BatchLocal("op", ErrOtpTimeout), KindBatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindedErrorsUnwrap(t *testing.T) {
	err := BatchLocal("otp.wait", ErrOtpTimeout)

	assert.ErrorIs(t, err, ErrOtpTimeout)
	assert.Equal(t, "otp.wait: otp not received within max polls", err.Error())
	assert.Equal(t, "fatal", KindFatal.String())
}

func TestRowPhoneAndSerialized(t *testing.T) {
	assert.Equal(t, "", NewRow().Phone())
	row := NewRow("5551110001", "2024-02-01 10:00:00+00:00")
	assert.Equal(t, "5551110001", row.Phone())
	assert.Equal(t, "5551110001 2024-02-01 10:00:00+00:00", row.Serialized())
}
