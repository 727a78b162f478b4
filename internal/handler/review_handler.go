package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/model"
	"github.com/markscan/omr-backend/internal/repository"
	"github.com/markscan/omr-backend/internal/response"
	"github.com/markscan/omr-backend/internal/review"
	"github.com/markscan/omr-backend/internal/session"
	"github.com/markscan/omr-backend/internal/validator"
)

// ReviewHandler handles the manual correction workflow for flagged sheets.
type ReviewHandler struct {
	workflow    *review.Workflow
	coordinator *session.Coordinator
	jobRepo     *repository.SheetJobRepository
	log         zerolog.Logger
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(workflow *review.Workflow, coordinator *session.Coordinator, jobRepo *repository.SheetJobRepository, log zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		workflow:    workflow,
		coordinator: coordinator,
		jobRepo:     jobRepo,
		log:         log.With().Str("component", "review_handler").Logger(),
	}
}

// Review godoc
// POST /api/v1/jobs/:job_id/review
// Applies a manual correction to a flagged job and re-scores it.
func (h *ReviewHandler) Review(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	var req model.ReviewRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	job, err := h.workflow.Review(c.Request.Context(), jobID, req.CorrectedAnswers, req.ReviewerID)
	if err != nil {
		h.failReview(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"job": job})
}

// Finalize godoc
// POST /api/v1/jobs/:job_id/finalize
// Locks a reviewed result against further edits.
func (h *ReviewHandler) Finalize(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.workflow.Finalize(c.Request.Context(), jobID)
	if err != nil {
		h.failReview(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"job": job})
}

// GetJob godoc
// GET /api/v1/jobs/:job_id
// Returns a job from the live coordinator, falling back to persistence for
// sessions that have left memory.
func (h *ReviewHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	if job, ok := h.coordinator.Job(jobID); ok {
		response.Success(c, http.StatusOK, gin.H{"job": job})
		return
	}

	job, err := h.jobRepo.GetByID(c.Request.Context(), jobID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"job": job})
}

// ListNeedsReview godoc
// GET /api/v1/jobs/needs-review
// Lists jobs awaiting manual correction.
func (h *ReviewHandler) ListNeedsReview(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}

	jobs, total, err := h.jobRepo.ListNeedsReview(c.Request.Context(), page, perPage)
	if err != nil {
		h.log.Error().Err(err).Msg("List needs-review jobs failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	totalPages := int(total) / perPage
	if int(total)%perPage != 0 {
		totalPages++
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"jobs": jobs}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	})
}

func (h *ReviewHandler) jobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// failReview maps workflow errors onto response codes.
func (h *ReviewHandler) failReview(c *gin.Context, err error) {
	var transErr *model.InvalidStateTransitionError
	var cfgErr *model.ConfigError
	var malErr *model.MalformedInputError

	switch {
	case errors.As(err, &transErr):
		response.Fail(c, http.StatusConflict, response.ErrInvalidTransition)
	case errors.As(err, &cfgErr):
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrInvalidConfig, violationFields(cfgErr))
	case errors.As(err, &malErr):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrMalformedInput)
	default:
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	}
}
