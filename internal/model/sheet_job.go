package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates the lifecycle states of a single sheet evaluation.
type JobStatus string

const (
	JobStatusPending     JobStatus = "PENDING"
	JobStatusProcessing  JobStatus = "PROCESSING"
	JobStatusCompleted   JobStatus = "COMPLETED"
	JobStatusFailed      JobStatus = "FAILED"
	JobStatusNeedsReview JobStatus = "NEEDS_REVIEW"
	JobStatusReviewed    JobStatus = "REVIEWED"
	JobStatusFinalized   JobStatus = "FINALIZED"
)

// SheetJob tracks the evaluation of one uploaded sheet within a session. It
// owns at most one ScoringResult, created when the job completes or is
// flagged for review and replaced when a review recomputes it.
type SheetJob struct {
	ID           uuid.UUID      `json:"id"`
	SessionID    uuid.UUID      `json:"session_id"`
	FileRef      string         `json:"file_ref"`
	Status       JobStatus      `json:"status"`
	Student      StudentInfo    `json:"student,omitempty"`
	Result       *ScoringResult `json:"result,omitempty"`
	ErrorDetails string         `json:"error_details,omitempty"`
	ReviewedBy   string         `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time     `json:"reviewed_at,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	// ProcessingMillis is the wall time of the detect+score pipeline,
	// recorded for batch statistics.
	ProcessingMillis int64 `json:"processing_ms,omitempty"`
}

// ReviewRequest is the payload for submitting a manual correction of a
// flagged sheet.
type ReviewRequest struct {
	CorrectedAnswers []DetectedAnswer `json:"corrected_answers" binding:"required,min=1,dive"`
	ReviewerID       string           `json:"reviewer_id" binding:"required,min=1,max=64"`
}
