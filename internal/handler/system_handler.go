package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/repository"
	"github.com/markscan/omr-backend/internal/response"
	"github.com/markscan/omr-backend/internal/session"
)

// SystemHandler exposes overall processing status.
type SystemHandler struct {
	coordinator *session.Coordinator
	sessionRepo *repository.SessionRepository
	log         zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(coordinator *session.Coordinator, sessionRepo *repository.SessionRepository, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		coordinator: coordinator,
		sessionRepo: sessionRepo,
		log:         log.With().Str("component", "system_handler").Logger(),
	}
}

// Status godoc
// GET /api/v1/status
// Reports queue depth, in-flight work and today's completion/error counts.
func (h *SystemHandler) Status(c *gin.Context) {
	pending, processing := h.coordinator.QueueSnapshot()

	completedToday, failedToday, err := h.sessionRepo.DailyCounts(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Load daily counts failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	errorRate := 0.0
	if total := completedToday + failedToday; total > 0 {
		errorRate = float64(failedToday) / float64(total)
	}

	response.Success(c, http.StatusOK, gin.H{
		"queue_length":    pending,
		"processing":      processing,
		"completed_today": completedToday,
		"failed_today":    failedToday,
		"error_rate":      errorRate,
	})
}
