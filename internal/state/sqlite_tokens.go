package state

import (
	"context"
	"fmt"
	"time"
)

// GetTokens returns the cached bearer tokens of a tenant keyed by
// credential name.
func (s *SQLiteStore) GetTokens(ctx context.Context, tenant string) (map[string]Token, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, token, expiry FROM tokens WHERE tenant = ?`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Token)
	for rows.Next() {
		var name string
		var tok Token
		if err := rows.Scan(&name, &tok.Value, &tok.Expiry); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		out[name] = tok
	}
	return out, rows.Err()
}

// SaveTokens upserts the given tokens. Tokens not in the map are kept.
func (s *SQLiteStore) SaveTokens(ctx context.Context, tenant string, tokens map[string]Token) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for name, tok := range tokens {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tokens (tenant, name, token, expiry, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(tenant, name) DO UPDATE SET
			   token = excluded.token, expiry = excluded.expiry, updated_at = excluded.updated_at`,
			tenant, name, tok.Value, tok.Expiry, now,
		)
		if err != nil {
			return fmt.Errorf("failed to save token %s: %w", name, err)
		}
	}
	return tx.Commit()
}
