package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates processing session states. A session completes
// even if every sheet in it failed; FAILED is reserved for the systemic
// case where the session could not start at all.
type SessionStatus string

const (
	SessionStatusQueued     SessionStatus = "QUEUED"
	SessionStatusProcessing SessionStatus = "PROCESSING"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusFailed     SessionStatus = "FAILED"
	SessionStatusCancelled  SessionStatus = "CANCELLED"
)

// ProcessingSession is one batch of sheet evaluations run against a single
// answer key. Counters are maintained by the session coordinator under a
// single point of serialization.
type ProcessingSession struct {
	ID          uuid.UUID     `json:"id"`
	AnswerKeyID uuid.UUID     `json:"answer_key_id"`
	TemplateID  uuid.UUID     `json:"template_id"`
	TotalFiles  int           `json:"total_files"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// SessionProgress is the non-blocking progress snapshot exposed while a
// session runs. ProgressPercentage is always recomputed from the integer
// counters and stays within [0,100].
type SessionProgress struct {
	SessionID          uuid.UUID     `json:"session_id"`
	TotalFiles         int           `json:"total_files"`
	ProcessedFiles     int           `json:"processed_files"`
	SuccessfulFiles    int           `json:"successful_files"`
	FailedFiles        int           `json:"failed_files"`
	ProgressPercentage float64       `json:"progress_percentage"`
	Status             SessionStatus `json:"status"`
}

// SessionStats aggregates results over the successful jobs of a session.
// HasData is false when no job succeeded; the averages are zero in that
// case rather than a division by nothing.
type SessionStats struct {
	AverageScore      float64 `json:"average_score"`
	AverageConfidence float64 `json:"average_confidence"`
	HasData           bool    `json:"has_data"`
	// AverageProcessingMillis is the mean pipeline wall time per sheet,
	// over every job that ran (successful or failed).
	AverageProcessingMillis float64 `json:"average_processing_ms"`
}

// SubmitSessionRequest is the payload for starting a batch evaluation.
// Files carries detector-resolvable references to the uploaded sheets.
type SubmitSessionRequest struct {
	AnswerKeyID string   `json:"answer_key_id" binding:"required,uuid"`
	Files       []string `json:"files" binding:"required,min=1,dive,required"`
}
