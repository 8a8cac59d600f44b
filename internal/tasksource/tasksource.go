// Package tasksource defines the narrow boundary every task-submitting
// transport implements, regardless of whether it is a terminal, a chat
// bot, or an HTTP/WS client: Receive one TaskInput, eventually Send back
// one TaskResult. Individual transports live in their own files in this
// package; the richer per-channel protocol handling (attachments,
// reactions, threading) stays in internal/channels and is not
// re-specified here.
package tasksource

import (
	"context"
	"errors"
	"time"
)

// Origin identifies which transport a TaskInput arrived on.
type Origin string

const (
	OriginCLI      Origin = "cli"
	OriginTelegram Origin = "telegram"
	OriginWS       Origin = "ws"
	OriginREST     Origin = "rest"
)

// ErrClosed is returned by Receive once the underlying transport has
// shut down and no further input will arrive.
var ErrClosed = errors.New("tasksource: closed")

// TaskInput is a single request to run an agent task, in transport-neutral form.
type TaskInput struct {
	// Text is the user's prompt.
	Text string

	// Origin names the transport this input arrived on.
	Origin Origin

	// ConfirmationChannel identifies where a security-gate confirmation
	// prompt should be sent back to, if this task later needs one.
	// Empty means confirmations are not supported on this transport.
	ConfirmationChannel string

	// SessionID correlates this input with a prior conversation, if any.
	SessionID string
}

// TaskResult is the outcome of running a task, in transport-neutral form.
type TaskResult struct {
	// Text is the final assistant message.
	Text string

	// Provider is the name of the LLM provider that produced the result.
	Provider string

	// Duration is how long the task took end to end.
	Duration time.Duration

	// Err is set if the task failed; Text is the error's user-facing form.
	Err error
}

// Source is the contract every task-submitting transport implements.
type Source interface {
	// Receive blocks until a TaskInput is available, ctx is cancelled, or
	// the transport closes (returning ErrClosed).
	Receive(ctx context.Context) (TaskInput, error)

	// Send delivers a TaskResult back to whichever caller submitted the
	// TaskInput that produced it.
	Send(ctx context.Context, result TaskResult) error
}
