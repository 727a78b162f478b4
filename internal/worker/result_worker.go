package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/config"
	"github.com/markscan/omr-backend/internal/model"
)

const (
	ResultBatchSize    = 50
	ResultBatchTimeout = 2 * time.Second
	ResultPollTimeout  = 1 * time.Second
)

// ResultQueue is the producing side of the persist queue. The session
// coordinator and review workflow push finished jobs here; the
// ResultPersistWorker drains them into PostgreSQL.
type ResultQueue struct {
	rdb *redis.Client
}

// NewResultQueue creates a queue producer on the given client.
func NewResultQueue(rdb *redis.Client) *ResultQueue {
	return &ResultQueue{rdb: rdb}
}

// Push enqueues a job snapshot for durable persistence.
func (q *ResultQueue) Push(ctx context.Context, job *model.SheetJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ResultPersistWorker drains the persist queue and writes job outcomes to
// PostgreSQL in batches.
type ResultPersistWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewResultPersistWorker creates the worker.
func NewResultPersistWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ResultPersistWorker {
	return &ResultPersistWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "result_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ResultPersistWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultPersistWorker started")

	batch := make([]*model.SheetJob, 0, ResultBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= ResultBatchSize || time.Since(lastFlush) >= ResultBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ResultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var j model.SheetJob
			if err := json.Unmarshal([]byte(item[1]), &j); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &j)
		}
	}
}

// ----------------------------------------------------------------
// Batch update wrapper
// ----------------------------------------------------------------

func (w *ResultPersistWorker) flushSafe(ctx context.Context, batch []*model.SheetJob) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkUpdateJobs(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("bulk job update failed, using fallback")

		for _, j := range batch {
			if err := w.persistSingle(ctx, j); err != nil {
				w.log.Error().Err(err).Str("job_id", j.ID.String()).Msg("Single persist failed, requeueing")
				raw, _ := json.Marshal(j)
				w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw)
			}
		}
	}
}

// ----------------------------------------------------------------
// BULK PostgreSQL UPDATE using UNNEST + alias
// ----------------------------------------------------------------

func (w *ResultPersistWorker) bulkUpdateJobs(ctx context.Context, batch []*model.SheetJob) error {
	n := len(batch)

	ids := make([]uuid.UUID, 0, n)
	statuses := make([]string, 0, n)
	students := make([]string, 0, n)
	results := make([]*string, 0, n)
	errDetails := make([]*string, 0, n)
	reviewedBys := make([]*string, 0, n)
	reviewedAts := make([]*time.Time, 0, n)
	startedAts := make([]*time.Time, 0, n)
	finishedAts := make([]*time.Time, 0, n)
	procMillis := make([]int64, 0, n)

	for _, j := range batch {
		student, err := json.Marshal(j.Student)
		if err != nil {
			return err
		}

		var result *string
		if j.Result != nil {
			raw, err := json.Marshal(j.Result)
			if err != nil {
				return err
			}
			s := string(raw)
			result = &s
		}

		ids = append(ids, j.ID)
		statuses = append(statuses, string(j.Status))
		students = append(students, string(student))
		results = append(results, result)
		errDetails = append(errDetails, nilIfEmpty(j.ErrorDetails))
		reviewedBys = append(reviewedBys, nilIfEmpty(j.ReviewedBy))
		reviewedAts = append(reviewedAts, j.ReviewedAt)
		startedAts = append(startedAts, j.StartedAt)
		finishedAts = append(finishedAts, j.FinishedAt)
		procMillis = append(procMillis, j.ProcessingMillis)
	}

	query := `
		UPDATE sheet_jobs AS j
		SET status = t.status,
		    student = t.student::jsonb,
		    result = t.result::jsonb,
		    error_details = t.error_details,
		    reviewed_by = t.reviewed_by,
		    reviewed_at = t.reviewed_at,
		    started_at = t.started_at,
		    finished_at = t.finished_at,
		    processing_ms = t.processing_ms
		FROM (
			SELECT
				u.id,
				u.status,
				u.student,
				u.result,
				u.error_details,
				u.reviewed_by,
				u.reviewed_at,
				u.started_at,
				u.finished_at,
				u.processing_ms
			FROM UNNEST(
				$1::uuid[],
				$2::text[],
				$3::text[],
				$4::text[],
				$5::text[],
				$6::text[],
				$7::timestamptz[],
				$8::timestamptz[],
				$9::timestamptz[],
				$10::bigint[]
			) AS u (id, status, student, result, error_details, reviewed_by, reviewed_at, started_at, finished_at, processing_ms)
		) AS t
		WHERE j.id = t.id
	`

	_, err := w.pool.Exec(ctx, query,
		ids, statuses, students, results, errDetails, reviewedBys, reviewedAts, startedAts, finishedAts, procMillis)
	return err
}

// ----------------------------------------------------------------
// FALLBACK single update
// ----------------------------------------------------------------

func (w *ResultPersistWorker) persistSingle(ctx context.Context, j *model.SheetJob) error {
	student, err := json.Marshal(j.Student)
	if err != nil {
		return err
	}

	var result []byte
	if j.Result != nil {
		result, err = json.Marshal(j.Result)
		if err != nil {
			return err
		}
	}

	_, err = w.pool.Exec(ctx,
		`UPDATE sheet_jobs
		 SET status = $1,
		     student = $2,
		     result = $3,
		     error_details = $4,
		     reviewed_by = $5,
		     reviewed_at = $6,
		     started_at = $7,
		     finished_at = $8,
		     processing_ms = $9
		 WHERE id = $10`,
		j.Status, student, result, nilIfEmpty(j.ErrorDetails), nilIfEmpty(j.ReviewedBy),
		j.ReviewedAt, j.StartedAt, j.FinishedAt, j.ProcessingMillis, j.ID,
	)
	return err
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
