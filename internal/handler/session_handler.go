package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/export"
	"github.com/markscan/omr-backend/internal/model"
	"github.com/markscan/omr-backend/internal/repository"
	"github.com/markscan/omr-backend/internal/response"
	"github.com/markscan/omr-backend/internal/session"
	"github.com/markscan/omr-backend/internal/validator"
)

// SessionHandler handles batch evaluation sessions.
type SessionHandler struct {
	coordinator *session.Coordinator
	sessionRepo *repository.SessionRepository
	log         zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(coordinator *session.Coordinator, sessionRepo *repository.SessionRepository, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		coordinator: coordinator,
		sessionRepo: sessionRepo,
		log:         log.With().Str("component", "session_handler").Logger(),
	}
}

// Submit godoc
// POST /api/v1/sessions
// Starts a batch evaluation of the submitted sheet files.
func (h *SessionHandler) Submit(c *gin.Context) {
	var req model.SubmitSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	keyID, err := uuid.Parse(req.AnswerKeyID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, err := h.coordinator.Submit(c.Request.Context(), keyID, req.Files)
	if err != nil {
		var sysErr *model.SystemicError
		if errors.As(err, &sysErr) {
			h.log.Warn().Err(err).Msg("Session rejected")
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrSessionNotStarted)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"session": sess})
}

// Progress godoc
// GET /api/v1/sessions/:session_id/progress
// Returns the live progress snapshot without blocking workers.
func (h *SessionHandler) Progress(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	progress, err := h.coordinator.Progress(id)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"progress": progress})
}

// Stats godoc
// GET /api/v1/sessions/:session_id/stats
// Returns aggregate statistics over the session's successful jobs.
func (h *SessionHandler) Stats(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	stats, err := h.coordinator.Stats(id)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}

// Cancel godoc
// POST /api/v1/sessions/:session_id/cancel
// Stops scheduling pending jobs; in-flight jobs run to completion.
func (h *SessionHandler) Cancel(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.coordinator.Cancel(id); err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"cancelled": true})
}

// Jobs godoc
// GET /api/v1/sessions/:session_id/jobs
// Lists the session's sheet jobs with their current state and results.
func (h *SessionHandler) Jobs(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	jobs, err := h.coordinator.Jobs(id)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"jobs": jobs})
}

// List godoc
// GET /api/v1/sessions
// Lists sessions from persistence, newest first.
func (h *SessionHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}

	sessions, total, err := h.sessionRepo.ListSessions(c.Request.Context(), page, perPage)
	if err != nil {
		h.log.Error().Err(err).Msg("List sessions failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	totalPages := int(total) / perPage
	if int(total)%perPage != 0 {
		totalPages++
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"sessions": sessions}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	})
}

// Export godoc
// GET /api/v1/sessions/:session_id/export?format=csv|json
// Streams the session's stored results as a downloadable document.
func (h *SessionHandler) Export(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	jobs, err := h.sessionRepo.SessionResults(c.Request.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", id.String()).Msg("Load session results failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	format := c.DefaultQuery("format", "json")
	switch format {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=session_%s.csv", id))
		if err := export.WriteCSV(c.Writer, jobs); err != nil {
			h.log.Error().Err(err).Msg("CSV export failed")
		}
	case "json":
		c.Header("Content-Type", "application/json")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=session_%s.json", id))
		if err := export.WriteJSON(c.Writer, id.String(), jobs); err != nil {
			h.log.Error().Err(err).Msg("JSON export failed")
		}
	default:
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
	}
}

// sessionID parses the :session_id path parameter, failing the request on
// malformed input.
func (h *SessionHandler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
