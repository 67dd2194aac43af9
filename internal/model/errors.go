package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies how far an error is allowed to propagate.
type ErrorKind int

const (
	// KindBatch aborts the current batch; the run continues.
	KindBatch ErrorKind = iota
	// KindFatal aborts the whole run.
	KindFatal
	// KindMessage skips one mailbox message; polling continues.
	KindMessage
	// KindData skips one input row; the batch continues.
	KindData
)

func (k ErrorKind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindBatch:
		return "batch"
	case KindMessage:
		return "message"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Sentinel errors shared across packages.
var (
	ErrOtpTimeout       = errors.New("otp not received within max polls")
	ErrExtraction       = errors.New("subject carries no passcode")
	ErrNoEligibleNumber = errors.New("batch has no eligible phone number")
)

// Error attaches an ErrorKind and the failing operation to an error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err. Errors that carry no kind are batch-local.
func KindOf(err error) ErrorKind {
	var k interface{ ErrorKind() ErrorKind }
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindBatch
}

// ErrorKind implements the interface inspected by KindOf.
func (e *Error) ErrorKind() ErrorKind {
	return e.Kind
}

// Fatal wraps err as a run-aborting error.
func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// BatchLocal wraps err as a batch-aborting error.
func BatchLocal(op string, err error) error {
	return &Error{Kind: KindBatch, Op: op, Err: err}
}

// MessageLocal wraps err as an error confined to one mailbox message.
func MessageLocal(op string, err error) error {
	return &Error{Kind: KindMessage, Op: op, Err: err}
}

// DataLocal wraps err as an error confined to one input row.
func DataLocal(op string, err error) error {
	return &Error{Kind: KindData, Op: op, Err: err}
}
