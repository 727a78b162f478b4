package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markscan/omr-backend/internal/model"
)

// SheetJobRepository handles individual sheet job reads. Writes flow through
// the persist worker's bulk path; this repository exists for job inspection
// after a session has left memory.
type SheetJobRepository struct {
	pool *pgxpool.Pool
}

// NewSheetJobRepository creates a new SheetJobRepository.
func NewSheetJobRepository(pool *pgxpool.Pool) *SheetJobRepository {
	return &SheetJobRepository{pool: pool}
}

// GetByID retrieves one job with its stored result.
func (r *SheetJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SheetJob, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, session_id, file_ref, status, student, result, error_details,
		        reviewed_by, reviewed_at, started_at, finished_at, processing_ms
		 FROM sheet_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ListNeedsReview retrieves the jobs currently flagged for review, oldest
// flagged first, paginated.
func (r *SheetJobRepository) ListNeedsReview(ctx context.Context, page, perPage int) ([]model.SheetJob, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sheet_jobs WHERE status = $1`, model.JobStatusNeedsReview,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, file_ref, status, student, result, error_details,
		        reviewed_by, reviewed_at, started_at, finished_at, processing_ms
		 FROM sheet_jobs
		 WHERE status = $1
		 ORDER BY finished_at ASC
		 LIMIT $2 OFFSET $3`, model.JobStatusNeedsReview, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []model.SheetJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, total, rows.Err()
}
