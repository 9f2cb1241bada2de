package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) CreateAPIToken(ctx context.Context, t APIToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (token_hash, user_id, role, created_at) VALUES (?, ?, ?, ?)`,
		t.TokenHash, t.UserID, t.Role, formatTime(t.CreatedAt),
	)
	return err
}

// GetAPIToken looks a token up by the hex sha256 of its plaintext.
func (s *Store) GetAPIToken(ctx context.Context, tokenHash string) (APIToken, error) {
	var t APIToken
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT token_hash, user_id, role, created_at FROM api_tokens WHERE token_hash = ?`, tokenHash,
	).Scan(&t.TokenHash, &t.UserID, &t.Role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return APIToken{}, ErrNotFound
	}
	if err != nil {
		return APIToken{}, err
	}
	if t.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return APIToken{}, err
	}
	return t, nil
}
