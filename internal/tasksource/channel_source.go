package tasksource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/OvrisHQ/rove/internal/channels"
	"github.com/OvrisHQ/rove/pkg/models"
)

// ChannelSource adapts any internal/channels.FullAdapter (Telegram,
// Discord, Slack, ...) to the Source interface. A single adapter instance
// multiplexes many conversations, but the TaskInput/TaskResult boundary
// is strictly request/response: Send must be called with the result for
// the most recently Received input before the next Receive is issued,
// matching how the agent loop drives one task to completion at a time.
type ChannelSource struct {
	adapter channels.FullAdapter
	origin  Origin

	mu      sync.Mutex
	pending *models.Message // the inbound message a Send() call replies to
}

// NewChannelSource wraps a channel adapter for use as a task source. The
// origin should match the adapter's transport (OriginTelegram, etc.); it
// is recorded on each TaskInput.
func NewChannelSource(adapter channels.FullAdapter, origin Origin) *ChannelSource {
	return &ChannelSource{adapter: adapter, origin: origin}
}

// Receive waits for the adapter's next inbound message and converts it.
func (s *ChannelSource) Receive(ctx context.Context) (TaskInput, error) {
	select {
	case <-ctx.Done():
		return TaskInput{}, ctx.Err()
	case msg, ok := <-s.adapter.Messages():
		if !ok {
			return TaskInput{}, ErrClosed
		}

		s.mu.Lock()
		s.pending = msg
		s.mu.Unlock()

		return TaskInput{
			Text:                msg.Content,
			Origin:              s.origin,
			SessionID:           msg.SessionID,
			ConfirmationChannel: msg.ChannelID,
		}, nil
	}
}

// Send delivers the result back through the adapter, addressed to the
// conversation of the most recently received message.
func (s *ChannelSource) Send(ctx context.Context, result TaskResult) error {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()

	if pending == nil {
		return fmt.Errorf("tasksource: Send called with no pending inbound message")
	}

	text := result.Text
	if result.Err != nil {
		text = fmt.Sprintf("error: %v", result.Err)
	}

	reply := &models.Message{
		SessionID: pending.SessionID,
		Channel:   pending.Channel,
		ChannelID: pending.ChannelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now(),
	}
	if result.Duration > 0 {
		reply.Metadata = map[string]any{
			"provider":    result.Provider,
			"duration_ms": result.Duration.Milliseconds(),
		}
	}

	return s.adapter.Send(ctx, reply)
}
