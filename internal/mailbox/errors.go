package mailbox

import (
	"errors"
	"fmt"

	"github.com/nhle/registry-submit/internal/model"
)

// AuthError indicates that the IMAP server rejected the credentials.
// It is fatal for the run.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mailbox auth error (%s): %s", e.Username, e.Message)
}

// ErrorKind marks authentication failures as fatal.
func (e *AuthError) ErrorKind() model.ErrorKind {
	return model.KindFatal
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// QueryError reports a failed sender search.
type QueryError struct {
	Sender string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("searching messages from %s: %v", e.Sender, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ErrorKind marks search failures as batch-local.
func (e *QueryError) ErrorKind() model.ErrorKind { return model.KindBatch }

// ParseError reports a message without a usable delivery timestamp.
type ParseError struct {
	UID uint32
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing date of message UID %d: %v", e.UID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrorKind marks date parse failures as message-local.
func (e *ParseError) ErrorKind() model.ErrorKind { return model.KindMessage }

// FetchError reports a failed message retrieval.
type FetchError struct {
	UID uint32
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching message UID %d: %v", e.UID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrorKind marks fetch failures as message-local.
func (e *FetchError) ErrorKind() model.ErrorKind { return model.KindMessage }
