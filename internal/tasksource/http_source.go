package tasksource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// RESTSource turns HTTP POST requests into TaskInputs, holding each
// request open until the matching Send delivers its TaskResult. Mount
// ServeHTTP on a route (e.g. "/api/v1/tasks") the way
// internal/gateway/http_server.go mounts its other handlers. Like
// ChannelSource, Send always replies to the most recently Received
// request — callers must finish one task before the next Receive.
type RESTSource struct {
	queue chan pendingRESTRequest

	mu      sync.Mutex
	pending chan TaskResult
}

type pendingRESTRequest struct {
	input  TaskInput
	respCh chan TaskResult
}

type restTaskRequest struct {
	Text                string `json:"text"`
	SessionID           string `json:"session_id,omitempty"`
	ConfirmationChannel string `json:"confirmation_channel,omitempty"`
}

type restTaskResponse struct {
	Text     string `json:"text"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewRESTSource builds a RESTSource. queueSize bounds how many requests
// may be waiting for Receive before ServeHTTP blocks new ones.
func NewRESTSource(queueSize int) *RESTSource {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &RESTSource{queue: make(chan pendingRESTRequest, queueSize)}
}

// ServeHTTP decodes a task request, enqueues it, and blocks until the
// corresponding Send (or request cancellation) produces a response.
func (s *RESTSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req restTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	respCh := make(chan TaskResult, 1)
	input := TaskInput{
		Text:                req.Text,
		Origin:              OriginREST,
		SessionID:           req.SessionID,
		ConfirmationChannel: req.ConfirmationChannel,
	}

	select {
	case s.queue <- pendingRESTRequest{input: input, respCh: respCh}:
	case <-r.Context().Done():
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
		return
	}

	select {
	case result := <-respCh:
		resp := restTaskResponse{Text: result.Text, Provider: result.Provider}
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	case <-r.Context().Done():
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
	}
}

// Receive returns the next queued REST request.
func (s *RESTSource) Receive(ctx context.Context) (TaskInput, error) {
	select {
	case <-ctx.Done():
		return TaskInput{}, ctx.Err()
	case req, ok := <-s.queue:
		if !ok {
			return TaskInput{}, ErrClosed
		}
		s.mu.Lock()
		s.pending = req.respCh
		s.mu.Unlock()
		return req.input, nil
	}
}

// Send delivers result to the HTTP handler blocked on the most recently
// received request.
func (s *RESTSource) Send(ctx context.Context, result TaskResult) error {
	s.mu.Lock()
	respCh := s.pending
	s.pending = nil
	s.mu.Unlock()

	if respCh == nil {
		return fmt.Errorf("tasksource: Send called with no pending request")
	}

	select {
	case respCh <- result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WSSource turns one long-lived WebSocket connection into a sequential
// task source: one {"text": "..."} frame in, one result frame out,
// matching internal/gateway/ws_control_plane.go's frame-based protocol
// but narrowed to the TaskInput/TaskResult boundary.
type WSSource struct {
	conn *websocket.Conn
}

type wsTaskFrame struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

type wsResultFrame struct {
	Text     string `json:"text"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewWSSource wraps an already-upgraded WebSocket connection.
func NewWSSource(conn *websocket.Conn) *WSSource {
	return &WSSource{conn: conn}
}

// Receive reads the next JSON task frame from the connection.
func (s *WSSource) Receive(ctx context.Context) (TaskInput, error) {
	var frame wsTaskFrame
	if err := s.conn.ReadJSON(&frame); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return TaskInput{}, ErrClosed
		}
		return TaskInput{}, err
	}
	return TaskInput{Text: frame.Text, Origin: OriginWS, SessionID: frame.SessionID}, nil
}

// Send writes the result as a JSON frame on the connection.
func (s *WSSource) Send(ctx context.Context, result TaskResult) error {
	frame := wsResultFrame{Text: result.Text, Provider: result.Provider}
	if result.Err != nil {
		frame.Error = result.Err.Error()
	}
	return s.conn.WriteJSON(frame)
}
