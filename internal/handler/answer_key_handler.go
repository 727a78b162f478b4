package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/config"
	"github.com/markscan/omr-backend/internal/model"
	"github.com/markscan/omr-backend/internal/registry"
	"github.com/markscan/omr-backend/internal/repository"
	"github.com/markscan/omr-backend/internal/response"
	"github.com/markscan/omr-backend/internal/validator"
)

// AnswerKeyHandler handles answer key registration and lookup.
type AnswerKeyHandler struct {
	registry *registry.AnswerKeyRegistry
	repo     *repository.AnswerKeyRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewAnswerKeyHandler creates a new AnswerKeyHandler.
func NewAnswerKeyHandler(reg *registry.AnswerKeyRegistry, repo *repository.AnswerKeyRepository, rdb *redis.Client, log zerolog.Logger) *AnswerKeyHandler {
	return &AnswerKeyHandler{
		registry: reg,
		repo:     repo,
		rdb:      rdb,
		log:      log.With().Str("component", "answer_key_handler").Logger(),
	}
}

// Register godoc
// POST /api/v1/answer-keys
// Validates the key against its bound template and registers a new version.
func (h *AnswerKeyHandler) Register(c *gin.Context) {
	var req model.RegisterAnswerKeyRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	templateID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	key, err := h.registry.Register(model.AnswerKey{
		TemplateID:    templateID,
		Name:          req.Name,
		QuestionCount: req.QuestionCount,
		Answers:       req.Answers,
		Rules:         req.Rules,
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

	if err := h.repo.Create(c.Request.Context(), key); err != nil {
		if errors.Is(err, repository.ErrDuplicateKeyVersion) {
			response.Fail(c, http.StatusConflict, response.ErrConflict)
			return
		}
		h.log.Error().Err(err).Str("answer_key_id", key.ID.String()).Msg("Persist answer key failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	// Cache the registered key so a restarted instance can serve lookups
	// before the Postgres prewarm finishes.
	if raw, err := json.Marshal(key); err == nil {
		if err := h.rdb.Set(c.Request.Context(), config.CacheKey.AnswerKeyKey(key.ID.String()), raw, 0).Err(); err != nil {
			h.log.Warn().Err(err).Msg("Cache answer key failed")
		}
	}

	response.Success(c, http.StatusCreated, gin.H{"answer_key": key})
}

// Get godoc
// GET /api/v1/answer-keys/:key_id
func (h *AnswerKeyHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("key_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	key, ok := h.registry.Get(id)
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"answer_key": key})
}

// List godoc
// GET /api/v1/answer-keys
func (h *AnswerKeyHandler) List(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"answer_keys": h.registry.List()})
}
