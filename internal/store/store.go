// Package store provides the embedded relational persistence layer: the
// durable task/step log, the plugin load-state table, the secret cache, and
// the rate-limit audit snapshot, all backed by a single WAL-mode SQLite
// database. Adapted from the schema-init/transactional-insert pattern in
// the teacher's memory/backend/sqlitevec package.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store wraps the daemon's single embedded database connection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the SQLite database at path with
// write-ahead logging, foreign-key enforcement, and synchronous writes, then
// ensures the schema exists.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = ":memory:"
	}

	dsn := path
	if path != ":memory:" {
		q := url.Values{}
		q.Set("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "foreign_keys(1)")
		q.Add("_pragma", "synchronous(FULL)")
		dsn = path + "?" + q.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The FK pragma and writer serialization below require a single
	// connection; WAL still allows concurrent readers via SQLite's own
	// connection pooling underneath modernc.org/sqlite.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle, flushing the WAL first.
func (s *Store) Close() error {
	if err := s.FlushWAL(); err != nil {
		s.logger.Warn("flush wal before close failed", "error", err)
	}
	return s.db.Close()
}

// FlushWAL checkpoints the write-ahead log into the main database file,
// invoked during graceful shutdown per the concurrency model.
func (s *Store) FlushWAL() error {
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("flush wal: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			status TEXT NOT NULL,
			provider TEXT,
			duration_ms INTEGER,
			created_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at)`,
		`CREATE TABLE IF NOT EXISTS task_steps (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE(task_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_steps_task ON task_steps(task_id, seq)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS task_steps_fts USING fts5(
			content, content='task_steps', content_rowid='rowid'
		)`,
		// Mirror maintenance triggers. The insert trigger guards on the parent
		// task's continued existence so a late insert racing a task purge
		// cannot leave an FTS row with no backing task_steps row, which would
		// violate the FK invariant on rollback.
		`CREATE TRIGGER IF NOT EXISTS task_steps_ai AFTER INSERT ON task_steps
		 WHEN EXISTS (SELECT 1 FROM tasks WHERE tasks.id = new.task_id)
		 BEGIN
			INSERT INTO task_steps_fts(rowid, content) VALUES (new.rowid, new.content);
		 END`,
		`CREATE TRIGGER IF NOT EXISTS task_steps_ad AFTER DELETE ON task_steps
		 BEGIN
			INSERT INTO task_steps_fts(task_steps_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		 END`,
		`CREATE TABLE IF NOT EXISTS plugins (
			name TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			artifact_path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			signature TEXT,
			load_state TEXT NOT NULL,
			crash_count INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS secrets_cache (
			provider TEXT PRIMARY KEY,
			cached_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rate_limits (
			source TEXT NOT NULL,
			tier TEXT NOT NULL,
			window_start DATETIME NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (source, tier, window_start)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w (stmt=%.40s...)", err, stmt)
		}
	}
	return nil
}

// DB exposes the underlying handle for packages (tasks, plugins) that need
// direct query access within this single-store design.
func (s *Store) DB() *sql.DB {
	return s.db
}
