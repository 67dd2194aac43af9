package store

import (
	"context"
	"time"

	"github.com/nhle/registry-submit/internal/model"
)

// RunSummary holds the counters written when a run finishes.
type RunSummary struct {
	FinishedAt time.Time
	Batches    int
	Succeeded  int
	Failed     int
	Skipped    int
}

// Store defines the persistence interface for the local run ledger.
type Store interface {
	// === Runs ===

	StartRun(ctx context.Context, id string, startedAt time.Time) error
	FinishRun(ctx context.Context, id string, summary RunSummary) error
	GetRuns(ctx context.Context, limit int) ([]model.RunRecord, error)

	// === Attempts ===

	SaveAttempt(ctx context.Context, runID string, attempt *model.SubmissionAttempt) error
	RecentAttempts(ctx context.Context, limit int) ([]model.AttemptRecord, error)
	GetAttemptsForRun(ctx context.Context, runID string) ([]model.AttemptRecord, error)

	// === Results ===

	SaveResults(ctx context.Context, runID string, records []model.ResultRecord) error
	GetResultsForRun(ctx context.Context, runID string) ([]model.ResultRecord, error)

	Close() error
}
