package bulk

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/zbulk/db"
	"github.com/teranos/zbulk/errors"
)

// Store persists bulk runs and per-item outcomes in SQLite.
// It implements Recorder and serves resume sets from history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store over a migrated database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// BeginRun inserts a run row
func (s *Store) BeginRun(ctx context.Context, run RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bulk_runs (
			id, connection_id, profile_name, job_type, status,
			total_items, skipped_items, concurrency, delay_ms, stop_after_failures,
			items_digest, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Key.ConnectionID,
		run.Key.ProfileName,
		run.Key.JobType,
		string(RunStatusRunning),
		run.Summary.Total,
		run.Summary.Skipped,
		run.Concurrency,
		run.DelayMS,
		run.StopAfterFailures,
		run.ItemsDigest,
		run.StartedAt.UTC(),
	)
	if err != nil {
		return storeErr(err, "failed to insert run %s", run.ID)
	}
	return nil
}

// RecordOutcome stores one item outcome and bumps the run's counters
func (s *Store) RecordOutcome(ctx context.Context, runID string, key JobKey, o Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "failed to begin outcome tx")
	}
	defer tx.Rollback()

	details := sql.NullString{String: o.Details, Valid: o.Details != ""}
	reason := sql.NullString{String: string(o.FailureReason), Valid: o.FailureReason != ""}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bulk_item_outcomes (
			run_id, profile_name, job_type, row_number, identifier,
			success, details, failure_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, key.ProfileName, key.JobType, o.Row, o.Identifier,
		o.Success, details, reason, s.now().UTC(),
	); err != nil {
		return errors.Wrapf(err, "failed to insert outcome for row %d", o.Row)
	}

	counter := "failed"
	if o.Success {
		counter = "succeeded"
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE bulk_runs SET `+counter+` = `+counter+` + 1 WHERE id = ?`, runID); err != nil {
		return errors.Wrapf(err, "failed to update run %s counters", runID)
	}

	return errors.Wrap(tx.Commit(), "failed to commit outcome")
}

// FinishRun stores the terminal status and final counts
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus, summary Summary, errMsg string) error {
	msg := sql.NullString{String: errMsg, Valid: errMsg != ""}
	res, err := s.db.ExecContext(ctx, `
		UPDATE bulk_runs
		SET status = ?, total_items = ?, skipped_items = ?, succeeded = ?, failed = ?,
		    error = ?, finished_at = ?
		WHERE id = ?`,
		string(status), summary.Total, summary.Skipped, summary.Succeeded, summary.Failed,
		msg, s.now().UTC(), runID,
	)
	if err != nil {
		return storeErr(err, "failed to finish run %s", runID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("run %s", runID)
	}
	return nil
}

// SucceededIdentifiers returns every identifier that succeeded for a profile
// and job type. This is the server-side resume set.
//
// A non-empty itemsDigest narrows it to runs over that exact item list, which
// is the only scope where row-number identifiers mean the same rows.
func (s *Store) SucceededIdentifiers(ctx context.Context, profileName, jobType, itemsDigest string) (ResumeSet, error) {
	return s.queryIdentifiers(ctx, `
		SELECT DISTINCT o.identifier FROM bulk_item_outcomes o
		JOIN bulk_runs r ON r.id = o.run_id
		WHERE o.profile_name = ? AND o.job_type = ? AND o.success = 1
		  AND (? = '' OR r.items_digest = ?)`,
		profileName, jobType, itemsDigest, itemsDigest)
}

// RunSucceededIdentifiers returns the identifiers that succeeded in one run
func (s *Store) RunSucceededIdentifiers(ctx context.Context, runID string) (ResumeSet, error) {
	return s.queryIdentifiers(ctx, `
		SELECT DISTINCT identifier FROM bulk_item_outcomes
		WHERE run_id = ? AND success = 1`, runID)
}

func (s *Store) queryIdentifiers(ctx context.Context, query string, args ...interface{}) (ResumeSet, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query succeeded identifiers")
	}
	defer rows.Close()

	set := NewResumeSet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan identifier")
		}
		set.Add(id)
	}
	return set, errors.Wrap(rows.Err(), "failed to iterate identifiers")
}

// RunFilter narrows ListRuns
type RunFilter struct {
	ProfileName string
	JobType     string
	Status      RunStatus
	Limit       int // 0 = 50
}

const runColumns = `id, connection_id, profile_name, job_type, status,
	total_items, skipped_items, succeeded, failed,
	concurrency, delay_ms, stop_after_failures, items_digest, error, started_at, finished_at`

// ListRuns returns runs newest first
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	var where []string
	var args []interface{}
	if filter.ProfileName != "" {
		where = append(where, "profile_name = ?")
		args = append(args, filter.ProfileName)
	}
	if filter.JobType != "" {
		where = append(where, "job_type = ?")
		args = append(args, filter.JobType)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + runColumns + ` FROM bulk_runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, errors.Wrap(rows.Err(), "failed to iterate runs")
}

// GetRun returns one run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM bulk_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("run %s", id)
	}
	return run, err
}

// ListOutcomes returns a run's outcomes in row order
func (s *Store) ListOutcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT row_number, identifier, success, details, failure_reason
		FROM bulk_item_outcomes WHERE run_id = ? ORDER BY row_number, id`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list outcomes")
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		var details, reason sql.NullString
		if err := rows.Scan(&o.Row, &o.Identifier, &o.Success, &details, &reason); err != nil {
			return nil, errors.Wrap(err, "failed to scan outcome")
		}
		o.Details = details.String
		o.FailureReason = FailureReason(reason.String)
		outcomes = append(outcomes, o)
	}
	return outcomes, errors.Wrap(rows.Err(), "failed to iterate outcomes")
}

// storeErr wraps err; a closed database surfaces as db.ErrDatabaseClosed
func storeErr(err error, format string, args ...interface{}) error {
	if db.IsDatabaseClosed(err) {
		return errors.Wrapf(db.ErrDatabaseClosed, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var status string
	var errMsg sql.NullString
	var finished sql.NullTime

	err := row.Scan(
		&run.ID, &run.Key.ConnectionID, &run.Key.ProfileName, &run.Key.JobType, &status,
		&run.Summary.Total, &run.Summary.Skipped, &run.Summary.Succeeded, &run.Summary.Failed,
		&run.Concurrency, &run.DelayMS, &run.StopAfterFailures, &run.ItemsDigest, &errMsg, &run.StartedAt, &finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan run")
	}

	run.Status = RunStatus(status)
	run.Error = errMsg.String
	run.Summary.Processed = run.Summary.Succeeded + run.Summary.Failed
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
