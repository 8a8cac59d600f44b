package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TouchSecretCache records that a provider's credential was fetched from the
// keychain at now and is valid until expiresAt. Only cache metadata is
// persisted — never the secret value itself, consistent with the scrubbing
// invariant that no secret-shaped string is ever written to the store.
func (s *Store) TouchSecretCache(ctx context.Context, provider string, expiresAt time.Time) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets_cache (provider, cached_at, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET cached_at = excluded.cached_at, expires_at = excluded.expires_at
	`, provider, now, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("touch secret cache for %s: %w", provider, err)
	}
	return nil
}

// SecretCacheFresh reports whether provider's cached credential has not yet
// expired, used by `status`/`doctor` to show keychain presence without
// re-querying the keychain on every probe.
func (s *Store) SecretCacheFresh(ctx context.Context, provider string) (bool, error) {
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM secrets_cache WHERE provider = ?`, provider).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("secret cache fresh for %s: %w", provider, err)
	}
	return time.Now().UTC().Before(expiresAt), nil
}
