package model

import (
	"database/sql"
	"time"
)

// RunRecord summarizes one run in the local ledger.
type RunRecord struct {
	ID         string       `db:"id"`
	StartedAt  time.Time    `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
	Batches    int          `db:"batches"`
	Succeeded  int          `db:"succeeded"`
	Failed     int          `db:"failed"`
	Skipped    int          `db:"skipped"`
}

// AttemptRecord is the ledger row of one SubmissionAttempt.
type AttemptRecord struct {
	ID             string       `db:"id"`
	RunID          string       `db:"run_id"`
	BatchIndex     int          `db:"batch_index"`
	Rows           int          `db:"row_count"`
	Filled         int          `db:"filled"`
	State          string       `db:"state"`
	FailedIn       string       `db:"failed_in"`
	FeedbackID     string       `db:"feedback_id"`
	Error          string       `db:"error"`
	StartedAt      time.Time    `db:"started_at"`
	OtpRequestedAt sql.NullTime `db:"otp_requested_at"`
}

// Record converts a terminal attempt into its ledger row.
func (a *SubmissionAttempt) Record(id, runID string) AttemptRecord {
	rec := AttemptRecord{
		ID:         id,
		RunID:      runID,
		BatchIndex: a.Batch.Index,
		Rows:       a.Batch.Len(),
		Filled:     a.Filled,
		State:      a.State.String(),
		FeedbackID: a.FeedbackID,
		StartedAt:  a.StartedAt.UTC(),
	}
	if a.State == StateAborted {
		rec.FailedIn = a.FailedIn.String()
	}
	if a.Err != nil {
		rec.Error = a.Err.Error()
	}
	if !a.OtpRequestedAt.IsZero() {
		rec.OtpRequestedAt = sql.NullTime{Time: a.OtpRequestedAt.UTC(), Valid: true}
	}
	return rec
}
