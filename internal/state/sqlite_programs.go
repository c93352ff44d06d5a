package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SaveProgram inserts or replaces the cached compilation of a script.
func (s *SQLiteStore) SaveProgram(ctx context.Context, p *Program) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	lineMap, err := json.Marshal(p.LineMap)
	if err != nil {
		return fmt.Errorf("failed to encode line map: %w", err)
	}
	meta := p.Meta
	if len(meta) == 0 {
		meta = json.RawMessage("{}")
	}
	if p.CompiledAt.IsZero() {
		p.CompiledAt = time.Now().UTC()
	}

	s.logger.Debug("saving program", slog.String("name", p.Name), slog.String("hash", p.SourceHash))

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO programs (name, path, mod_time, source_hash, code, line_map, meta, compiled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   path = excluded.path,
		   mod_time = excluded.mod_time,
		   source_hash = excluded.source_hash,
		   code = excluded.code,
		   line_map = excluded.line_map,
		   meta = excluded.meta,
		   compiled_at = excluded.compiled_at`,
		p.Name, p.Path, p.ModTime.UTC(), p.SourceHash, p.Code, string(lineMap), string(meta), p.CompiledAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save program %s: %w", p.Name, err)
	}
	return nil
}

const programColumns = `name, path, mod_time, source_hash, code, line_map, meta, compiled_at`

// GetProgram returns the cached program, or nil when none is stored.
func (s *SQLiteStore) GetProgram(ctx context.Context, name string) (*Program, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE name = ?`, name)
	p, err := scanProgram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get program %s: %w", name, err)
	}
	return p, nil
}

// ListPrograms returns every cached program ordered by name.
func (s *SQLiteStore) ListPrograms(ctx context.Context) ([]*Program, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+programColumns+` FROM programs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	defer rows.Close()

	var out []*Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan program: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProgram drops a cached program and its schedules.
func (s *SQLiteStore) DeleteProgram(ctx context.Context, name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM programs WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete program %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE owner = ?`, name); err != nil {
		return fmt.Errorf("failed to delete schedules for %s: %w", name, err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgram(row rowScanner) (*Program, error) {
	p := &Program{}
	var lineMap, meta string
	if err := row.Scan(&p.Name, &p.Path, &p.ModTime, &p.SourceHash, &p.Code, &lineMap, &meta, &p.CompiledAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(lineMap), &p.LineMap); err != nil {
		return nil, fmt.Errorf("decode line map: %w", err)
	}
	p.Meta = json.RawMessage(meta)
	return p, nil
}
