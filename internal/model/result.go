package model

import "time"

// StatusSubmitted marks a phone number accepted by the registration form.
const StatusSubmitted = "submitted"

// ResultRecord is the persisted outcome for one phone number of a
// successfully submitted batch.
type ResultRecord struct {
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	Status      string    `json:"status" db:"status"`
	RecordedAt  time.Time `json:"recorded_at" db:"recorded_at"`
	FeedbackID  string    `json:"feedback_id" db:"feedback_id"`
}
