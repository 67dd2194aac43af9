package model

import "time"

// EmailMessage is the subset of a mailbox message needed to recover an OTP.
type EmailMessage struct {
	// ID is the message UID within the selected mailbox.
	ID uint32 `json:"id"`

	// ReceivedAt is the delivery timestamp, always normalized to UTC.
	ReceivedAt time.Time `json:"received_at"`

	// Subject is the decoded subject line.
	Subject string `json:"subject"`
}
