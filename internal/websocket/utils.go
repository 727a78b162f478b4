package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// WriteError sends an error event and ignores write failures, as the
// connection is usually being torn down.
func WriteError(conn *websocket.Conn, msg string) {
	_ = WriteTyped(conn, ErrorResponse{Event: EventError, Error: msg})
}
