package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/OvrisHQ/rove/internal/bus"
	"github.com/OvrisHQ/rove/internal/tasksource"
	"github.com/OvrisHQ/rove/pkg/models"
)

// mountTaskAPI wires a tasksource.RESTSource into mux at cfg.TaskAPI.Path and
// starts the pump goroutine that drives it against the gateway's runtime.
// No-op when the endpoint is disabled.
func (s *Server) mountTaskAPI(ctx context.Context, mux *http.ServeMux) {
	if s == nil || s.config == nil || !s.config.TaskAPI.Enabled {
		return
	}
	path := strings.TrimSpace(s.config.TaskAPI.Path)
	if path == "" {
		path = "/api/v1/tasks"
	}

	source := tasksource.NewRESTSource(s.config.TaskAPI.QueueSize)
	mux.Handle(path, source)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTaskSourcePump(ctx, source)
	}()
}

// runTaskSourcePump repeatedly receives a task, runs it through the gateway
// runtime, and sends back the result, until ctx is cancelled or the source
// reports it is closed.
func (s *Server) runTaskSourcePump(ctx context.Context, source tasksource.Source) {
	for {
		input, err := source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("task source receive failed", "error", err)
			return
		}

		result := s.runTaskInput(ctx, input)
		if s.bus != nil {
			status := "completed"
			if result.Err != nil {
				status = "failed"
			}
			s.bus.Publish(bus.Event{Topic: bus.TopicTaskFinished, Data: &bus.TaskFinished{TaskID: input.SessionID, Status: status}})
		}
		if err := source.Send(ctx, result); err != nil {
			s.logger.Warn("task source send failed", "error", err)
		}
	}
}

// runTaskInput drives one TaskInput to completion and collects its result.
func (s *Server) runTaskInput(ctx context.Context, input tasksource.TaskInput) tasksource.TaskResult {
	started := time.Now()

	runtime, err := s.ensureRuntime(ctx)
	if err != nil {
		return tasksource.TaskResult{Err: err, Duration: time.Since(started)}
	}

	key := input.SessionID
	if key == "" {
		key = "tasksource-" + string(input.Origin)
	}
	session, err := s.sessions.GetOrCreate(ctx, key, "task-api", models.ChannelType(string(input.Origin)), key)
	if err != nil {
		return tasksource.TaskResult{Err: err, Duration: time.Since(started)}
	}

	msg := &models.Message{
		SessionID: session.ID,
		Channel:   models.ChannelType(string(input.Origin)),
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   input.Text,
	}

	chunks, err := runtime.Process(ctx, session, msg)
	if err != nil {
		return tasksource.TaskResult{Err: err, Duration: time.Since(started)}
	}

	var reply strings.Builder
	var runErr error
	for chunk := range chunks {
		if chunk.Error != nil {
			runErr = chunk.Error
			continue
		}
		reply.WriteString(chunk.Text)
	}

	return tasksource.TaskResult{
		Text:     reply.String(),
		Provider: s.defaultModel,
		Duration: time.Since(started),
		Err:      runErr,
	}
}
