package main

import (
	"time"

	"github.com/OvrisHQ/rove/internal/profile"
	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command
// =============================================================================

// buildRunCmd creates the "run" command, the primary one-shot entrypoint:
// submit a task, wait for it to finish, print the result.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		provider   string
		timeout    time.Duration
		sessionKey string
	)

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Submit a task to an agent and print the result",
		Long: `Submit a task to an agent, block until it completes, and print the result.

The task runs through the same tool-dispatch pipeline as the gateway: tool
calls are schema-validated, risk-assessed, and rate-limited before they
execute. Every step is appended to the task log, so "rove history" and
"rove replay" can inspect it afterward.`,
		Example: `  rove run "summarize the open PRs in this repo"
  rove run --provider openai --timeout 5m "draft a release announcement"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runTask(cmd, configPath, provider, sessionKey, args[0], timeout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider to use (defaults to llm.default_provider)")
	cmd.Flags().StringVar(&sessionKey, "session", "", "Session key to append to (defaults to a new one-off session)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time to wait for the task to complete")
	return cmd
}

// =============================================================================
// Daemon Lifecycle Commands
// =============================================================================

// buildStartCmd creates the "start" command: launch the gateway as a
// detached background process and return once it reports ready.
func buildStartCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway as a background daemon",
		Long: `Start the Rove gateway detached from the current terminal.

"start" is equivalent to running "rove serve" in the background: it forks a
child process, waits for it to acquire the gateway singleton lock, and
returns. Use "rove stop" to terminate it and "rove status" to check on it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runStart(cmd, configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging in the daemon")
	return cmd
}

// buildStopCmd creates the "stop" command: terminate a gateway daemon
// started with "rove start".
func buildStopCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runStop(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Task History Commands
// =============================================================================

// buildHistoryCmd creates the "history" command: list recent tasks from the
// durable task log.
func buildHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runHistory(cmd, configPath, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of tasks to list")
	return cmd
}

// buildReplayTaskCmd creates the "replay" command: print every step recorded
// for a given task ID, in order.
func buildReplayTaskCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "replay <task-id>",
		Short: "Replay the recorded steps of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runReplayTask(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	return cmd
}
