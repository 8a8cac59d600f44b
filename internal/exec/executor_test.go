package exec

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutorRunsAllowlistedProgram(t *testing.T) {
	e := NewExecutor([]string{"echo"})
	result, err := e.Run(context.Background(), "echo", []string{"hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestExecutorRejectsNonAllowlisted(t *testing.T) {
	e := NewExecutor([]string{"echo"})
	_, err := e.Run(context.Background(), "cat", []string{"/etc/passwd"})
	if !errors.Is(err, ErrProgramNotAllowed) {
		t.Errorf("err = %v, want ErrProgramNotAllowed", err)
	}
}

func TestExecutorRejectsShellMetacharInArgv(t *testing.T) {
	e := NewExecutor([]string{"echo"})
	_, err := e.Run(context.Background(), "echo", []string{"hi; rm -rf /"})
	if err == nil {
		t.Fatal("expected error for shell metacharacter in argv")
	}
}

func TestExecutorRejectsShellInvocation(t *testing.T) {
	e := NewExecutor([]string{"bash"})
	_, err := e.Run(context.Background(), "bash", []string{"-c", "echo hi"})
	if !errors.Is(err, ErrShellInvocation) {
		t.Errorf("err = %v, want ErrShellInvocation", err)
	}
}

func TestExecutorTimesOutLongRunningCommand(t *testing.T) {
	e := NewExecutor([]string{"sleep"})
	start := time.Now()
	overrideTimeoutForTest(t, 200*time.Millisecond)
	_, err := e.Run(context.Background(), "sleep", []string{"5"})
	if !errors.Is(err, ErrCommandTimedOut) {
		t.Fatalf("err = %v, want ErrCommandTimedOut", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took too long to trigger: %v", elapsed)
	}
}

// overrideTimeoutForTest temporarily shortens CommandTimeout so the timeout
// test does not need to wait the full 60 seconds; restored via t.Cleanup.
func overrideTimeoutForTest(t *testing.T, d time.Duration) {
	t.Helper()
	original := CommandTimeout
	CommandTimeout = d
	t.Cleanup(func() { CommandTimeout = original })
}
