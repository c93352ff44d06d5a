package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CreateRun records the start of a script run.
func (s *SQLiteStore) CreateRun(ctx context.Context, script, tenant, trigger string) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	run := &Run{
		ID:        generateID(),
		Script:    script,
		Tenant:    tenant,
		Trigger:   trigger,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("script", script), slog.String("trigger", trigger))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, script, tenant, trigger, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Script, run.Tenant, run.Trigger, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run as finished with the given status.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, errKind, errMsg string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_kind = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), nullString(errKind), nullString(errMsg), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

const runColumns = `id, script, tenant, trigger, status, error_kind, error, started_at, completed_at`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. An empty script
// lists runs of every script; limit <= 0 means no limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, script string, limit int) ([]*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE (? = '' OR script = ?)
		 ORDER BY started_at DESC LIMIT ?`,
		script, script, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var status string
	var errKind, errMsg sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.Script, &run.Tenant, &run.Trigger, &status,
		&errKind, &errMsg, &run.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.ErrorKind = errKind.String
	run.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}
