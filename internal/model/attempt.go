package model

import "time"

// SubmissionState is a step of the per-batch submission state machine.
type SubmissionState int

const (
	StateStart SubmissionState = iota
	StateFormLoaded
	StateFieldsFilled
	StateOtpRequested
	StateOtpReceived
	StateOtpSubmitted
	StateFeedbackCaptured
	StateAborted
)

func (s SubmissionState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateFormLoaded:
		return "form_loaded"
	case StateFieldsFilled:
		return "fields_filled"
	case StateOtpRequested:
		return "otp_requested"
	case StateOtpReceived:
		return "otp_received"
	case StateOtpSubmitted:
		return "otp_submitted"
	case StateFeedbackCaptured:
		return "feedback_captured"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave s.
func (s SubmissionState) Terminal() bool {
	return s == StateFeedbackCaptured || s == StateAborted
}

// SubmissionAttempt tracks one batch from form load to a terminal state.
type SubmissionAttempt struct {
	Batch Batch

	// StartedAt is when the attempt began navigating to the form.
	StartedAt time.Time

	// OtpRequestedAt is when OTP dispatch was triggered; zero until then.
	OtpRequestedAt time.Time

	// OTP is the passcode entered into the form, empty until received.
	OTP string

	// FeedbackID is the confirmation identifier. It is set only when
	// State is StateFeedbackCaptured.
	FeedbackID string

	// State is the last state reached.
	State SubmissionState

	// FailedIn is the state the attempt was in when it aborted.
	FailedIn SubmissionState

	// Filled counts phone numbers entered into the form.
	Filled int

	// Err holds the abort reason.
	Err error
}

// NewAttempt starts an attempt for batch at the given instant.
func NewAttempt(batch Batch, startedAt time.Time) *SubmissionAttempt {
	return &SubmissionAttempt{
		Batch:     batch,
		StartedAt: startedAt,
		State:     StateStart,
	}
}

// Advance moves the attempt to the next non-terminal state.
func (a *SubmissionAttempt) Advance(next SubmissionState) {
	if a.State.Terminal() {
		return
	}
	a.State = next
}

// Capture records the feedback identifier and marks the attempt successful.
func (a *SubmissionAttempt) Capture(feedbackID string) {
	if a.State.Terminal() {
		return
	}
	a.FeedbackID = feedbackID
	a.State = StateFeedbackCaptured
}

// Abort marks the attempt failed in its current state.
func (a *SubmissionAttempt) Abort(err error) {
	if a.State.Terminal() {
		return
	}
	a.FailedIn = a.State
	a.State = StateAborted
	a.Err = err
}

// Succeeded reports whether a feedback identifier was captured.
func (a *SubmissionAttempt) Succeeded() bool {
	return a.State == StateFeedbackCaptured
}
