package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markscan/omr-backend/internal/model"
)

// SessionRepository handles processing session and sheet job persistence.
// It is the pgx-backed implementation of session.Store.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateSession inserts a new processing session.
func (r *SessionRepository) CreateSession(ctx context.Context, s *model.ProcessingSession) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO processing_sessions (id, answer_key_id, template_id, total_files, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.AnswerKeyID, s.TemplateID, s.TotalFiles, s.Status, s.CreatedAt)
	return err
}

// FinishSession records a session's terminal status.
func (r *SessionRepository) FinishSession(ctx context.Context, id uuid.UUID, status model.SessionStatus, finishedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE processing_sessions SET status = $1, finished_at = $2 WHERE id = $3`,
		status, finishedAt, id)
	return err
}

// CreateJobs bulk-inserts the session's pending sheet jobs.
func (r *SessionRepository) CreateJobs(ctx context.Context, jobs []*model.SheetJob) error {
	if len(jobs) == 0 {
		return nil
	}

	n := len(jobs)
	ids := make([]uuid.UUID, 0, n)
	sessionIDs := make([]uuid.UUID, 0, n)
	fileRefs := make([]string, 0, n)
	statuses := make([]string, 0, n)

	for _, j := range jobs {
		ids = append(ids, j.ID)
		sessionIDs = append(sessionIDs, j.SessionID)
		fileRefs = append(fileRefs, j.FileRef)
		statuses = append(statuses, string(j.Status))
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO sheet_jobs (id, session_id, file_ref, status)
		 SELECT * FROM UNNEST($1::uuid[], $2::uuid[], $3::text[], $4::text[])`,
		ids, sessionIDs, fileRefs, statuses)
	return err
}

// GetSession retrieves a session row.
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.ProcessingSession, error) {
	s := &model.ProcessingSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, answer_key_id, template_id, total_files, status, created_at, finished_at
		 FROM processing_sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.AnswerKeyID, &s.TemplateID, &s.TotalFiles, &s.Status, &s.CreatedAt, &s.FinishedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessions retrieves sessions newest first, paginated.
func (r *SessionRepository) ListSessions(ctx context.Context, page, perPage int) ([]model.ProcessingSession, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM processing_sessions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	offset := (page - 1) * perPage
	rows, err := r.pool.Query(ctx,
		`SELECT id, answer_key_id, template_id, total_files, status, created_at, finished_at
		 FROM processing_sessions
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []model.ProcessingSession
	for rows.Next() {
		var s model.ProcessingSession
		if err := rows.Scan(&s.ID, &s.AnswerKeyID, &s.TemplateID, &s.TotalFiles, &s.Status, &s.CreatedAt, &s.FinishedAt); err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, s)
	}
	return sessions, total, rows.Err()
}

// DailyCounts reports jobs completed and failed since local midnight, for
// the system status endpoint.
func (r *SessionRepository) DailyCounts(ctx context.Context) (completed, failed int, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status IN ('COMPLETED', 'NEEDS_REVIEW', 'REVIEWED', 'FINALIZED')),
			COUNT(*) FILTER (WHERE status = 'FAILED')
		 FROM sheet_jobs
		 WHERE finished_at >= date_trunc('day', now())`,
	).Scan(&completed, &failed)
	return completed, failed, err
}

// SessionResults loads the finished jobs of a session with their stored
// results, ordered by submission. Used by the export endpoints.
func (r *SessionRepository) SessionResults(ctx context.Context, sessionID uuid.UUID) ([]model.SheetJob, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, file_ref, status, student, result, error_details,
		        reviewed_by, reviewed_at, started_at, finished_at, processing_ms
		 FROM sheet_jobs
		 WHERE session_id = $1
		 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.SheetJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob decodes one sheet_jobs row, including the JSONB result column.
func scanJob(row rowScanner) (*model.SheetJob, error) {
	j := &model.SheetJob{}
	var student, result []byte
	var errorDetails, reviewedBy *string
	var processingMS *int64

	err := row.Scan(&j.ID, &j.SessionID, &j.FileRef, &j.Status, &student, &result,
		&errorDetails, &reviewedBy, &j.ReviewedAt, &j.StartedAt, &j.FinishedAt, &processingMS)
	if err != nil {
		return nil, err
	}

	if errorDetails != nil {
		j.ErrorDetails = *errorDetails
	}
	if reviewedBy != nil {
		j.ReviewedBy = *reviewedBy
	}
	if processingMS != nil {
		j.ProcessingMillis = *processingMS
	}
	if len(student) > 0 {
		if err := json.Unmarshal(student, &j.Student); err != nil {
			return nil, fmt.Errorf("unmarshal student info: %w", err)
		}
	}
	if len(result) > 0 {
		j.Result = &model.ScoringResult{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("unmarshal scoring result: %w", err)
		}
	}
	return j, nil
}
