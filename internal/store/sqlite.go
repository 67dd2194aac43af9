package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/registry-submit/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Pragmas and in-memory databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// StartRun records the beginning of a run.
func (s *SQLiteStore) StartRun(ctx context.Context, id string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, started_at) VALUES (?, ?)",
		id, startedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("starting run %s: %w", id, err)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, summary RunSummary) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, batches = ?, succeeded = ?, failed = ?, skipped = ?
		WHERE id = ?`,
		summary.FinishedAt.UTC(), summary.Batches,
		summary.Succeeded, summary.Failed, summary.Skipped,
		id,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finishing run %s: run not found", id)
	}
	return nil
}

// GetRuns returns the most recent runs, newest first.
func (s *SQLiteStore) GetRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	query := "SELECT * FROM runs ORDER BY started_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var runs []model.RunRecord
	if err := s.db.SelectContext(ctx, &runs, query); err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	return runs, nil
}

// SaveAttempt stores a terminal attempt of the given run.
func (s *SQLiteStore) SaveAttempt(
	ctx context.Context,
	runID string,
	attempt *model.SubmissionAttempt,
) error {
	rec := attempt.Record(uuid.New().String(), runID)

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO attempts (
			id, run_id, batch_index, row_count, filled,
			state, failed_in, feedback_id, error,
			started_at, otp_requested_at
		) VALUES (
			:id, :run_id, :batch_index, :row_count, :filled,
			:state, :failed_in, :feedback_id, :error,
			:started_at, :otp_requested_at
		)`, rec)
	if err != nil {
		return fmt.Errorf("saving attempt for batch %d: %w", attempt.Batch.Index+1, err)
	}
	return nil
}

// RecentAttempts returns the latest attempts across all runs, newest first.
func (s *SQLiteStore) RecentAttempts(ctx context.Context, limit int) ([]model.AttemptRecord, error) {
	query := "SELECT * FROM attempts ORDER BY started_at DESC, batch_index DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var attempts []model.AttemptRecord
	if err := s.db.SelectContext(ctx, &attempts, query); err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	return attempts, nil
}

// GetAttemptsForRun returns the attempts of one run in batch order.
func (s *SQLiteStore) GetAttemptsForRun(ctx context.Context, runID string) ([]model.AttemptRecord, error) {
	var attempts []model.AttemptRecord
	err := s.db.SelectContext(ctx, &attempts,
		"SELECT * FROM attempts WHERE run_id = ? ORDER BY batch_index", runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying attempts for run %s: %w", runID, err)
	}
	return attempts, nil
}

// SaveResults appends the result records of a run in order.
func (s *SQLiteStore) SaveResults(
	ctx context.Context,
	runID string,
	records []model.ResultRecord,
) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.GetContext(ctx, &next,
		"SELECT COALESCE(MAX(seq), -1) + 1 FROM results WHERE run_id = ?", runID,
	)
	if err != nil {
		return fmt.Errorf("reading result sequence: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO results (run_id, seq, phone_number, status, recorded_at, feedback_id)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing result statement: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		_, err := stmt.ExecContext(ctx,
			runID, next+i, r.PhoneNumber, r.Status, r.RecordedAt.UTC(), r.FeedbackID,
		)
		if err != nil {
			return fmt.Errorf("saving result for %s: %w", r.PhoneNumber, err)
		}
	}

	return tx.Commit()
}

// GetResultsForRun returns the result records of a run in insertion order.
func (s *SQLiteStore) GetResultsForRun(ctx context.Context, runID string) ([]model.ResultRecord, error) {
	var records []model.ResultRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT phone_number, status, recorded_at, feedback_id
		FROM results WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying results for run %s: %w", runID, err)
	}
	return records, nil
}
