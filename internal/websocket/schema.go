package websocket

import "github.com/markscan/omr-backend/internal/model"

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventProgress Event = "progress"
	EventDone     Event = "done"
	EventError    Event = "error"
)

// ProgressResponse carries one live progress snapshot of a session.
type ProgressResponse struct {
	Event    Event                 `json:"event"`
	Progress model.SessionProgress `json:"progress"`
}

// DoneResponse closes the stream once the session reaches a terminal state.
type DoneResponse struct {
	Event  Event               `json:"event"`
	Status model.SessionStatus `json:"status"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}
