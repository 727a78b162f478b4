package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/model"
	"github.com/markscan/omr-backend/internal/registry"
	"github.com/markscan/omr-backend/internal/repository"
	"github.com/markscan/omr-backend/internal/response"
	"github.com/markscan/omr-backend/internal/validator"
)

// TemplateHandler handles sheet template registration and lookup.
type TemplateHandler struct {
	registry *registry.TemplateRegistry
	repo     *repository.TemplateRepository
	log      zerolog.Logger
}

// NewTemplateHandler creates a new TemplateHandler.
func NewTemplateHandler(reg *registry.TemplateRegistry, repo *repository.TemplateRepository, log zerolog.Logger) *TemplateHandler {
	return &TemplateHandler{
		registry: reg,
		repo:     repo,
		log:      log.With().Str("component", "template_handler").Logger(),
	}
}

// Register godoc
// POST /api/v1/templates
// Validates and registers a new sheet template version.
func (h *TemplateHandler) Register(c *gin.Context) {
	var req model.RegisterTemplateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	tmpl, err := h.registry.Register(model.Template{
		Name:               req.Name,
		QuestionCount:      req.QuestionCount,
		OptionsPerQuestion: req.OptionsPerQuestion,
		SubjectAreas:       req.SubjectAreas,
	})
	if err != nil {
		var cfgErr *model.ConfigError
		if errors.As(err, &cfgErr) {
			response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrInvalidConfig, violationFields(cfgErr))
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if err := h.repo.Create(c.Request.Context(), tmpl); err != nil {
		h.log.Error().Err(err).Str("template_id", tmpl.ID.String()).Msg("Persist template failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"template": tmpl})
}

// Get godoc
// GET /api/v1/templates/:template_id
func (h *TemplateHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("template_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	tmpl, ok := h.registry.Get(id)
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"template": tmpl})
}

// List godoc
// GET /api/v1/templates
func (h *TemplateHandler) List(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"templates": h.registry.List()})
}

// violationFields converts a ConfigError's violation list into the
// field-map shape of the response envelope.
func violationFields(err *model.ConfigError) map[string]string {
	fields := make(map[string]string, len(err.Violations))
	for i, v := range err.Violations {
		fields["violation_"+strconv.Itoa(i+1)] = v
	}
	return fields
}
