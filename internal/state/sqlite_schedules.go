package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReplaceSchedules swaps every schedule owned by owner for the given set
// in one transaction.
func (s *SQLiteStore) ReplaceSchedules(ctx context.Context, owner string, schedules []Schedule) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE owner = ?`, owner); err != nil {
		return fmt.Errorf("failed to delete schedules for %s: %w", owner, err)
	}

	now := time.Now().UTC()
	for _, sc := range schedules {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schedules (owner, seq, cron, line, created_at) VALUES (?, ?, ?, ?, ?)`,
			owner, sc.Seq, sc.Cron, sc.Line, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert schedule %s#%d: %w", owner, sc.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("schedules replaced", slog.String("owner", owner), slog.Int("count", len(schedules)))
	return nil
}

// ListSchedules returns all persisted schedules ordered by owner and sequence.
func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]Schedule, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT owner, seq, cron, line, created_at FROM schedules ORDER BY owner, seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		if err := rows.Scan(&sc.Owner, &sc.Seq, &sc.Cron, &sc.Line, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
