package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LoadState is the lifecycle state of an ExtensionRecord.
type LoadState string

const (
	LoadStateUnloaded    LoadState = "unloaded"
	LoadStateLoaded      LoadState = "loaded"
	LoadStateQuarantined LoadState = "quarantined"
)

// ExtensionRecord is the durable mirror of a loaded (or previously loaded)
// WASM plugin or native tool, kept for restart-cap and crash-count tracking
// across daemon restarts.
type ExtensionRecord struct {
	Name         string
	Version      string
	ArtifactPath string
	ContentHash  string
	Signature    string
	LoadState    LoadState
	CrashCount   int
	UpdatedAt    time.Time
}

// UpsertExtension writes or updates an extension record.
func (s *Store) UpsertExtension(ctx context.Context, rec ExtensionRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugins (name, version, artifact_path, content_hash, signature, load_state, crash_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			artifact_path = excluded.artifact_path,
			content_hash = excluded.content_hash,
			signature = excluded.signature,
			load_state = excluded.load_state,
			crash_count = excluded.crash_count,
			updated_at = excluded.updated_at
	`, rec.Name, rec.Version, rec.ArtifactPath, rec.ContentHash, rec.Signature, rec.LoadState, rec.CrashCount, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert extension %s: %w", rec.Name, err)
	}
	return nil
}

// SetExtensionCrashCount updates only the crash counter and load state,
// called on every crash-and-restart cycle and on quarantine/manual-restart
// transitions.
func (s *Store) SetExtensionCrashCount(ctx context.Context, name string, count int, state LoadState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plugins SET crash_count = ?, load_state = ?, updated_at = ? WHERE name = ?`,
		count, state, time.Now().UTC(), name,
	)
	if err != nil {
		return fmt.Errorf("set crash count for %s: %w", name, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("extension not found: %s", name)
	}
	return nil
}

// GetExtension fetches one extension record by name.
func (s *Store) GetExtension(ctx context.Context, name string) (*ExtensionRecord, error) {
	var rec ExtensionRecord
	var signature sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT name, version, artifact_path, content_hash, signature, load_state, crash_count, updated_at FROM plugins WHERE name = ?`,
		name,
	).Scan(&rec.Name, &rec.Version, &rec.ArtifactPath, &rec.ContentHash, &signature, &rec.LoadState, &rec.CrashCount, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("extension not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get extension %s: %w", name, err)
	}
	rec.Signature = signature.String
	return &rec, nil
}

// ListExtensions returns every known extension record, for the `plugins
// list` CLI command and doctor diagnostics.
func (s *Store) ListExtensions(ctx context.Context) ([]*ExtensionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version, artifact_path, content_hash, signature, load_state, crash_count, updated_at FROM plugins ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list extensions: %w", err)
	}
	defer rows.Close()

	var out []*ExtensionRecord
	for rows.Next() {
		var rec ExtensionRecord
		var signature sql.NullString
		if err := rows.Scan(&rec.Name, &rec.Version, &rec.ArtifactPath, &rec.ContentHash, &signature, &rec.LoadState, &rec.CrashCount, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan extension row: %w", err)
		}
		rec.Signature = signature.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}
