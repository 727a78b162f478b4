package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/config"
	"github.com/markscan/omr-backend/internal/database"
	"github.com/markscan/omr-backend/internal/detector"
	"github.com/markscan/omr-backend/internal/handler"
	"github.com/markscan/omr-backend/internal/logger"
	"github.com/markscan/omr-backend/internal/quality"
	"github.com/markscan/omr-backend/internal/registry"
	"github.com/markscan/omr-backend/internal/repository"
	"github.com/markscan/omr-backend/internal/review"
	"github.com/markscan/omr-backend/internal/router"
	"github.com/markscan/omr-backend/internal/scoring"
	"github.com/markscan/omr-backend/internal/session"
	"github.com/markscan/omr-backend/internal/validator"
	"github.com/markscan/omr-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Int("session_workers", cfg.SessionWorkers).
		Msg("Starting MarkScan Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	templateRepo := repository.NewTemplateRepository(pool)
	keyRepo := repository.NewAnswerKeyRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	jobRepo := repository.NewSheetJobRepository(pool)

	// ─── Initialize Registries ─────────────────────────────────────────
	templates := registry.NewTemplateRegistry(log)
	keys := registry.NewAnswerKeyRegistry(templates, log)

	// Prewarm registries from the database BEFORE accepting traffic so
	// sessions can reference keys registered by previous runs.
	if stored, err := templateRepo.ListAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Template prewarm failed")
	} else {
		for _, tmpl := range stored {
			templates.Restore(tmpl)
		}
		log.Info().Int("count", len(stored)).Msg("Templates restored")
	}
	if stored, err := keyRepo.ListAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Answer key prewarm failed")
	} else {
		for _, key := range stored {
			keys.Restore(key)
		}
		log.Info().Int("count", len(stored)).Msg("Answer keys restored")
	}

	// ─── Initialize Scoring Pipeline ──────────────────────────────────
	engine := scoring.NewEngine()
	classifier := quality.NewClassifier(cfg.ReviewThreshold, cfg.AmbiguityLimit)
	det := detector.NewHTTPDetector(cfg.DetectorURL, log)

	resultQueue := worker.NewResultQueue(rdb)
	publisher := session.NewRedisProgressPublisher(rdb, log)

	coordinator := session.New(
		engine,
		classifier,
		keys,
		templates,
		det,
		sessionRepo,
		resultQueue,
		publisher,
		cfg.SessionWorkers,
		cfg.SheetTimeout,
		log,
	)

	workflow := review.NewWorkflow(
		coordinator,
		engine,
		classifier,
		review.CoordinatorKeys{Coordinator: coordinator, Keys: keys, Templates: templates},
		resultQueue,
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Template:  handler.NewTemplateHandler(templates, templateRepo, log),
		AnswerKey: handler.NewAnswerKeyHandler(keys, keyRepo, rdb, log),
		Session:   handler.NewSessionHandler(coordinator, sessionRepo, log),
		Review:    handler.NewReviewHandler(workflow, coordinator, jobRepo, log),
		System:    handler.NewSystemHandler(coordinator, sessionRepo, log),
		WS:        handler.NewWSHandler(rdb, coordinator, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	persistWorker := worker.NewResultPersistWorker(pool, rdb, log)
	go persistWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the persist queue to drain.
	workerCancel()
	time.Sleep(2 * time.Second)

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
