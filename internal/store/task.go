package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether status is a terminal state: once reached, no
// further steps may be appended to the task.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// StepKind categorizes a TaskStep's content.
type StepKind string

const (
	StepUserMessage      StepKind = "user_message"
	StepAssistantMessage StepKind = "assistant_message"
	StepToolCall         StepKind = "tool_call"
	StepToolResult       StepKind = "tool_result"
)

// Task is the durable record of one agent-core run.
type Task struct {
	ID          string
	Prompt      string
	Status      TaskStatus
	Provider    string
	DurationMS  int64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// TaskStep is one append-only entry in a task's ordered step log.
type TaskStep struct {
	ID        string
	TaskID    string
	Seq       int
	Kind      StepKind
	Content   string
	CreatedAt time.Time
}

var (
	// ErrTaskNotFound indicates no task exists with the given id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskTerminal indicates an attempt to mutate a task whose status is
	// already completed or failed.
	ErrTaskTerminal = errors.New("task is in a terminal state")
)

// CreateTask persists a new task in status pending and returns its id.
func (s *Store) CreateTask(ctx context.Context, prompt string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, prompt, status, created_at) VALUES (?, ?, ?, ?)`,
		id, prompt, TaskStatusPending, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return id, nil
}

// SetTaskRunning transitions a task from pending to running.
func (s *Store) SetTaskRunning(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ? WHERE id = ? AND status = ?`,
		TaskStatusRunning, taskID, TaskStatusPending,
	)
	if err != nil {
		return fmt.Errorf("set task running: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

// FinalizeTask sets the task's terminal status exactly once. Calling it on an
// already-terminal task returns ErrTaskTerminal and makes no change.
func (s *Store) FinalizeTask(ctx context.Context, taskID string, status TaskStatus, provider string, duration time.Duration) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finalize task: %q is not a terminal status", status)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, provider = ?, duration_ms = ?, completed_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		status, provider, duration.Milliseconds(), now,
		taskID, TaskStatusCompleted, TaskStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("finalize task: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		var existing TaskStatus
		if scanErr := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&existing); scanErr != nil {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return ErrTaskTerminal
	}
	return nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	var provider sql.NullString
	var durationMS sql.NullInt64
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, prompt, status, provider, duration_ms, created_at, completed_at FROM tasks WHERE id = ?`,
		taskID,
	).Scan(&t.ID, &t.Prompt, &t.Status, &provider, &durationMS, &t.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	t.Provider = provider.String
	t.DurationMS = durationMS.Int64
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// ListTasks returns the most recent limit tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt, status, provider, duration_ms, created_at, completed_at
		 FROM tasks ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		var t Task
		var provider sql.NullString
		var durationMS sql.NullInt64
		var completedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Prompt, &t.Status, &provider, &durationMS, &t.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t.Provider = provider.String
		t.DurationMS = durationMS.Int64
		if completedAt.Valid {
			t.CompletedAt = &completedAt.Time
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// AppendStep inserts the next step for a task at the next gap-free sequence
// number, refusing if the task is already terminal or absent.
func (s *Store) AppendStep(ctx context.Context, taskID string, kind StepKind, content string) (*TaskStep, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append step tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status TaskStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("append step: check task status: %w", err)
	}
	if status.IsTerminal() {
		return nil, ErrTaskTerminal
	}

	var nextSeq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM task_steps WHERE task_id = ?`, taskID).Scan(&nextSeq); err != nil {
		return nil, fmt.Errorf("append step: next seq: %w", err)
	}

	step := &TaskStep{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Seq:       nextSeq,
		Kind:      kind,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_steps (id, task_id, seq, kind, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		step.ID, step.TaskID, step.Seq, step.Kind, step.Content, step.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append step: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append step: commit: %w", err)
	}
	return step, nil
}

// ReplaySteps returns the ordered step log for a past task.
func (s *Store) ReplaySteps(ctx context.Context, taskID string) ([]*TaskStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, seq, kind, content, created_at FROM task_steps WHERE task_id = ? ORDER BY seq ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("replay steps: %w", err)
	}
	defer rows.Close()

	var out []*TaskStep
	for rows.Next() {
		var st TaskStep
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Seq, &st.Kind, &st.Content, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// SearchSteps runs a full-text search query against step content across all
// tasks via the FTS5 mirror table.
func (s *Store) SearchSteps(ctx context.Context, query string, limit int) ([]*TaskStep, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts.id, ts.task_id, ts.seq, ts.kind, ts.content, ts.created_at
		 FROM task_steps_fts f
		 JOIN task_steps ts ON ts.rowid = f.rowid
		 WHERE f.content MATCH ?
		 ORDER BY rank LIMIT ?`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search steps: %w", err)
	}
	defer rows.Close()

	var out []*TaskStep
	for rows.Next() {
		var st TaskStep
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Seq, &st.Kind, &st.Content, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
