package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/config"
	"github.com/markscan/omr-backend/internal/model"
	"github.com/markscan/omr-backend/internal/session"
	ws "github.com/markscan/omr-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams live session progress over WebSocket.
type WSHandler struct {
	rdb         *redis.Client
	coordinator *session.Coordinator
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, coordinator *session.Coordinator, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:         rdb,
		coordinator: coordinator,
		log:         log.With().Str("component", "ws_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// SessionProgressStream godoc
// WS /ws/v1/sessions/:session_id/stream
// Upgrades to WebSocket and pushes progress snapshots as workers publish
// them, closing once the session reaches a terminal status.
func (h *WSHandler) SessionProgressStream(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("session_id", sessionID.String()).Logger()
	ctx := c.Request.Context()

	// Subscribe before serving the cached snapshot so no update published
	// in between is lost.
	sub := h.rdb.Subscribe(ctx, config.CacheKey.SessionProgressChannel(sessionID.String()))
	defer sub.Close()

	// Serve the latest snapshot first: live coordinator if present,
	// otherwise the Redis cache left by a previous run.
	if progress, err := h.coordinator.Progress(sessionID); err == nil {
		if h.pushProgress(conn, progress, wsLog) {
			return
		}
	} else if raw, err := h.rdb.Get(ctx, config.CacheKey.SessionProgressKey(sessionID.String())).Result(); err == nil {
		var progress model.SessionProgress
		if json.Unmarshal([]byte(raw), &progress) == nil {
			if h.pushProgress(conn, progress, wsLog) {
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var progress model.SessionProgress
			if err := json.Unmarshal([]byte(msg.Payload), &progress); err != nil {
				wsLog.Warn().Err(err).Msg("Bad progress payload on channel")
				ws.WriteError(conn, "malformed progress payload")
				continue
			}
			if h.pushProgress(conn, progress, wsLog) {
				return
			}
		}
	}
}

// pushProgress writes one snapshot and reports whether the stream is done,
// either because the session finished or the client went away.
func (h *WSHandler) pushProgress(conn *websocket.Conn, progress model.SessionProgress, log zerolog.Logger) (done bool) {
	if err := ws.WriteTyped(conn, ws.ProgressResponse{Event: ws.EventProgress, Progress: progress}); err != nil {
		log.Debug().Err(err).Msg("Client write failed, closing stream")
		return true
	}

	switch progress.Status {
	case model.SessionStatusCompleted, model.SessionStatusCancelled, model.SessionStatusFailed:
		_ = ws.WriteTyped(conn, ws.DoneResponse{Event: ws.EventDone, Status: progress.Status})
		return true
	}
	return false
}
