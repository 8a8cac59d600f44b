package store

import (
	"context"
	"fmt"
	"time"
)

// RecordRateWindow writes an opportunistic audit snapshot of a rate-limit
// window's observed count. The in-memory limiter (internal/ratelimit) is
// always the source of truth for admission decisions; this table exists only
// for `doctor` inspection and post-hoc audit, per the concurrency model's
// "persisted opportunistically for audit" rate limiter note.
func (s *Store) RecordRateWindow(ctx context.Context, source, tier string, windowStart time.Time, count int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limits (source, tier, window_start, count) VALUES (?, ?, ?, ?)
		ON CONFLICT(source, tier, window_start) DO UPDATE SET count = excluded.count
	`, source, tier, windowStart.UTC(), count)
	if err != nil {
		return fmt.Errorf("record rate window: %w", err)
	}
	return nil
}

// RateWindowSnapshot is one audited observation of a (source, tier) window.
type RateWindowSnapshot struct {
	Source      string
	Tier        string
	WindowStart time.Time
	Count       int
}

// RecentRateWindows returns the most recent audit snapshots for a source,
// newest first, used by `doctor` and `status`.
func (s *Store) RecentRateWindows(ctx context.Context, source string, limit int) ([]RateWindowSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, tier, window_start, count FROM rate_limits WHERE source = ? ORDER BY window_start DESC LIMIT ?`,
		source, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent rate windows: %w", err)
	}
	defer rows.Close()

	var out []RateWindowSnapshot
	for rows.Next() {
		var snap RateWindowSnapshot
		if err := rows.Scan(&snap.Source, &snap.Tier, &snap.WindowStart, &snap.Count); err != nil {
			return nil, fmt.Errorf("scan rate window: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
