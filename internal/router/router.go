package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/markscan/omr-backend/internal/config"
	"github.com/markscan/omr-backend/internal/handler"
	"github.com/markscan/omr-backend/internal/middleware"
	"github.com/markscan/omr-backend/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Template  *handler.TemplateHandler
	AnswerKey *handler.AnswerKeyHandler
	Session   *handler.SessionHandler
	Review    *handler.ReviewHandler
	System    *handler.SystemHandler
	WS        *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for session submission (30 requests per minute per IP).
	submitLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Template Group ─────────────────────────────────────────────
	templates := router.Group("/api/v1/templates")
	{
		templates.POST("", handlers.Template.Register)
		templates.GET("", handlers.Template.List)
		templates.GET("/:template_id", handlers.Template.Get)
	}

	// ─── 2. Answer Key Group ───────────────────────────────────────────
	answerKeys := router.Group("/api/v1/answer-keys")
	{
		answerKeys.POST("", handlers.AnswerKey.Register)
		answerKeys.GET("", handlers.AnswerKey.List)
		answerKeys.GET("/:key_id", handlers.AnswerKey.Get)
	}

	// ─── 3. Session Group ──────────────────────────────────────────────
	sessions := router.Group("/api/v1/sessions")
	{
		sessions.POST("", submitLimiter.Middleware(), handlers.Session.Submit)
		sessions.GET("", handlers.Session.List)
		sessions.GET("/:session_id/progress", handlers.Session.Progress)
		sessions.GET("/:session_id/stats", handlers.Session.Stats)
		sessions.GET("/:session_id/jobs", handlers.Session.Jobs)
		sessions.GET("/:session_id/export", handlers.Session.Export)
		sessions.POST("/:session_id/cancel", handlers.Session.Cancel)
	}

	// ─── 4. Review Group ───────────────────────────────────────────────
	jobs := router.Group("/api/v1/jobs")
	{
		jobs.GET("/needs-review", handlers.Review.ListNeedsReview)
		jobs.GET("/:job_id", handlers.Review.GetJob)
		jobs.POST("/:job_id/review", handlers.Review.Review)
		jobs.POST("/:job_id/finalize", handlers.Review.Finalize)
	}

	// ─── 5. System Group ───────────────────────────────────────────────
	router.GET("/api/v1/status", handlers.System.Status)

	// ─── 6. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/sessions/:session_id/stream", handlers.WS.SessionProgressStream)
	}

	return router
}
