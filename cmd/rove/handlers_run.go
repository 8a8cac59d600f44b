package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/OvrisHQ/rove/internal/agent"
	"github.com/OvrisHQ/rove/internal/config"
	"github.com/OvrisHQ/rove/internal/gateway"
	"github.com/OvrisHQ/rove/internal/sessions"
	"github.com/OvrisHQ/rove/internal/store"
	"github.com/OvrisHQ/rove/pkg/models"
	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command Handler
// =============================================================================

// taskStoreForConfig opens the durable task log at the database path derived
// from the loaded config's workspace directory.
func taskStoreForConfig(cfg *config.Config) (*store.Store, error) {
	dir := strings.TrimSpace(cfg.Workspace.Path)
	if dir == "" {
		dir = ".rove"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	return store.Open(filepath.Join(dir, "tasks.db"), slog.Default().With("component", "task-store"))
}

// runTask submits a task to an agent runtime, waits for completion, and
// prints the final response. Every inbound message, assistant reply, and
// tool result is appended to the durable task log as it happens.
func runTask(cmd *cobra.Command, configPath, providerID, sessionKey, prompt string, timeout time.Duration) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	provider, modelID, err := buildLLMProvider(cfg, providerID)
	if err != nil {
		return fmt.Errorf("failed to initialize provider: %w", err)
	}

	taskStore, err := taskStoreForConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer taskStore.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	taskID, err := taskStore.CreateTask(ctx, prompt)
	if err != nil {
		return fmt.Errorf("failed to record task: %w", err)
	}
	if _, err := taskStore.AppendStep(ctx, taskID, store.StepUserMessage, prompt); err != nil {
		return fmt.Errorf("failed to record task step: %w", err)
	}
	if err := taskStore.SetTaskRunning(ctx, taskID); err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}

	sessionStore := sessions.NewMemoryStore()
	key := sessionKey
	if key == "" {
		key = "cli-run-" + taskID
	}
	session, err := sessionStore.GetOrCreate(ctx, key, "cli", models.ChannelType("cli"), taskID)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	runtime := agent.NewRuntime(provider, sessionStore)

	msg := &models.Message{
		SessionID: session.ID,
		Channel:   models.ChannelType("cli"),
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   prompt,
	}

	chunks, err := runtime.Process(ctx, session, msg)
	status := store.TaskStatusCompleted
	started := time.Now()
	if err != nil {
		_ = taskStore.FinalizeTask(ctx, taskID, store.TaskStatusFailed, modelID, time.Since(started))
		return fmt.Errorf("failed to start task: %w", err)
	}

	var reply strings.Builder
	var runErr error
	for chunk := range chunks {
		if chunk.Error != nil {
			runErr = chunk.Error
			continue
		}
		if chunk.Text != "" {
			reply.WriteString(chunk.Text)
			fmt.Fprint(out, chunk.Text)
		}
		if chunk.ToolEvent != nil && chunk.ToolEvent.Stage == models.ToolEventSucceeded {
			_, _ = taskStore.AppendStep(ctx, taskID, store.StepToolCall,
				fmt.Sprintf("%s(%s)", chunk.ToolEvent.ToolName, string(chunk.ToolEvent.Input)))
		}
		if chunk.ToolResult != nil {
			_, _ = taskStore.AppendStep(ctx, taskID, store.StepToolResult, chunk.ToolResult.Content)
		}
	}
	fmt.Fprintln(out)

	if reply.Len() > 0 {
		if _, stepErr := taskStore.AppendStep(ctx, taskID, store.StepAssistantMessage, reply.String()); stepErr != nil {
			slog.Warn("failed to record assistant step", "error", stepErr)
		}
	}
	if runErr != nil {
		status = store.TaskStatusFailed
	}
	if err := taskStore.FinalizeTask(ctx, taskID, status, modelID, time.Since(started)); err != nil {
		slog.Warn("failed to finalize task", "error", err)
	}
	if runErr != nil {
		return fmt.Errorf("task %s failed: %w", taskID, runErr)
	}
	return nil
}

// =============================================================================
// Daemon Lifecycle Handlers
// =============================================================================

// runStart forks a detached "rove serve" child process and waits for it to
// acquire the gateway singleton lock before returning.
func runStart(cmd *cobra.Command, configPath string, debug bool) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	stateDir := strings.TrimSpace(cfg.Workspace.Path)
	if stateDir == "" {
		stateDir = ".rove"
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	if pid, alive := gateway.RunningPID(stateDir, configPath); alive {
		fmt.Fprintf(out, "gateway already running (pid %d)\n", pid)
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	serveArgs := []string{"serve", "--config", configPath}
	if debug {
		serveArgs = append(serveArgs, "--debug")
	}

	logPath := filepath.Join(stateDir, "gateway.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(self, serveArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	_ = child.Process.Release()

	lockPath := gateway.LockFilePath(stateDir, configPath)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if pid, alive := gateway.RunningPID(stateDir, configPath); alive {
			fmt.Fprintf(out, "gateway started (pid %d), logs at %s\n", pid, logPath)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}
	return fmt.Errorf("gateway did not acquire lock %s within 10s; check %s", lockPath, logPath)
}

// runStop sends SIGTERM to the gateway daemon recorded in the lock file and
// waits briefly for it to exit.
func runStop(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	stateDir := strings.TrimSpace(cfg.Workspace.Path)
	if stateDir == "" {
		stateDir = ".rove"
	}

	pid, alive := gateway.RunningPID(stateDir, configPath)
	if !alive {
		fmt.Fprintln(out, "gateway is not running")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if _, stillAlive := gateway.RunningPID(stateDir, configPath); !stillAlive {
			fmt.Fprintf(out, "gateway stopped (pid %d)\n", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("gateway (pid %d) did not stop within 30s", pid)
}

// =============================================================================
// Task History Handlers
// =============================================================================

// runHistory lists the most recent tasks from the durable task log.
func runHistory(cmd *cobra.Command, configPath string, limit int) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	taskStore, err := taskStoreForConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer taskStore.Close()

	tasks, err := taskStore.ListTasks(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no tasks recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROVIDER\tCREATED\tPROMPT")
	for _, t := range tasks {
		prompt := t.Prompt
		if len(prompt) > 60 {
			prompt = prompt[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Status, t.Provider, t.CreatedAt.Format(time.RFC3339), prompt)
	}
	return w.Flush()
}

// runReplayTask prints every recorded step of a task, in order.
func runReplayTask(cmd *cobra.Command, configPath, taskID string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	taskStore, err := taskStoreForConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer taskStore.Close()

	task, err := taskStore.GetTask(cmd.Context(), taskID)
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}
	steps, err := taskStore.ReplaySteps(cmd.Context(), taskID)
	if err != nil {
		return fmt.Errorf("failed to replay task: %w", err)
	}

	fmt.Fprintf(out, "task %s (%s, provider %s)\n", task.ID, task.Status, task.Provider)
	for _, step := range steps {
		fmt.Fprintf(out, "[%d] %s: %s\n", step.Seq, step.Kind, step.Content)
	}
	return nil
}
