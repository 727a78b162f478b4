package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/model"
	"github.com/markscan/omr-backend/internal/quality"
	"github.com/markscan/omr-backend/internal/scoring"
	"github.com/markscan/omr-backend/internal/session"
)

// transitions is the explicit table of allowed review moves. A job that
// completed without flags is terminal and never enters the review path.
var transitions = map[model.JobStatus]map[string]model.JobStatus{
	model.JobStatusNeedsReview: {"review": model.JobStatusReviewed},
	model.JobStatusReviewed:    {"finalize": model.JobStatusFinalized},
}

// Workflow governs manual correction of flagged sheet results. A review
// re-invokes the scoring engine on the corrected marks and replaces the
// job's result; finalize locks the result against further edits.
type Workflow struct {
	coordinator *session.Coordinator
	engine      *scoring.Engine
	classifier  *quality.Classifier
	keys        keyLookup
	sink        session.ResultSink
	log         zerolog.Logger
}

// keyLookup resolves the answer key and template a session was scored with.
type keyLookup interface {
	Lookup(sessionID uuid.UUID) (*model.AnswerKey, *model.Template, bool)
}

// CoordinatorKeys resolves keys through the coordinator's live sessions.
type CoordinatorKeys struct {
	Coordinator *session.Coordinator
	Keys        interface {
		Get(id uuid.UUID) (*model.AnswerKey, bool)
	}
	Templates interface {
		Get(id uuid.UUID) (*model.Template, bool)
	}
}

// Lookup finds the answer key and template bound to the given session.
func (c CoordinatorKeys) Lookup(sessionID uuid.UUID) (*model.AnswerKey, *model.Template, bool) {
	sess, ok := c.Coordinator.Session(sessionID)
	if !ok {
		return nil, nil, false
	}
	key, ok := c.Keys.Get(sess.AnswerKeyID)
	if !ok {
		return nil, nil, false
	}
	tmpl, ok := c.Templates.Get(sess.TemplateID)
	if !ok {
		return nil, nil, false
	}
	return key, tmpl, true
}

// NewWorkflow creates a review Workflow.
func NewWorkflow(coordinator *session.Coordinator, engine *scoring.Engine, classifier *quality.Classifier, keys keyLookup, sink session.ResultSink, log zerolog.Logger) *Workflow {
	return &Workflow{
		coordinator: coordinator,
		engine:      engine,
		classifier:  classifier,
		keys:        keys,
		sink:        sink,
		log:         log.With().Str("component", "review_workflow").Logger(),
	}
}

// Review applies a manual correction to a flagged job: the corrected marks
// are re-scored through the same engine path and the result replaced. Only
// a job in NEEDS_REVIEW accepts a correction.
func (w *Workflow) Review(ctx context.Context, jobID uuid.UUID, corrected []model.DetectedAnswer, reviewerID string) (*model.SheetJob, error) {
	job, ok := w.coordinator.Job(jobID)
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}

	next, err := nextState(job.Status, "review")
	if err != nil {
		return nil, err
	}

	key, tmpl, ok := w.keys.Lookup(job.SessionID)
	if !ok {
		return nil, model.NewConfigError(fmt.Sprintf("answer key for session %s no longer registered", job.SessionID))
	}

	result, err := w.engine.Evaluate(corrected, key, tmpl)
	if err != nil {
		return nil, fmt.Errorf("re-evaluate corrected answers: %w", err)
	}
	w.classifier.Classify(corrected, result)
	// The human replaces the detector here; their correction stands even
	// when the classifier would flag it again.
	result.NeedsReview = false

	now := time.Now()
	var updated *model.SheetJob
	err = w.coordinator.UpdateJob(jobID, func(j *model.SheetJob) error {
		// Re-check under the lock: a concurrent review may have moved it.
		if _, err := nextState(j.Status, "review"); err != nil {
			return err
		}
		j.Result = result
		j.Status = next
		j.ReviewedBy = reviewerID
		j.ReviewedAt = &now
		cp := *j
		updated = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}

	if w.sink != nil {
		if err := w.sink.Push(ctx, updated); err != nil {
			w.log.Error().Err(err).Str("job_id", jobID.String()).Msg("Persist reviewed result failed")
		}
	}

	w.log.Info().
		Str("job_id", jobID.String()).
		Str("reviewer", reviewerID).
		Float64("total_score", result.TotalScore).
		Msg("Job reviewed")

	return updated, nil
}

// Finalize locks a reviewed result against further edits.
func (w *Workflow) Finalize(ctx context.Context, jobID uuid.UUID) (*model.SheetJob, error) {
	var updated *model.SheetJob
	err := w.coordinator.UpdateJob(jobID, func(j *model.SheetJob) error {
		next, err := nextState(j.Status, "finalize")
		if err != nil {
			return err
		}
		j.Status = next
		cp := *j
		updated = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}

	if w.sink != nil {
		if err := w.sink.Push(ctx, updated); err != nil {
			w.log.Error().Err(err).Str("job_id", jobID.String()).Msg("Persist finalized job failed")
		}
	}

	w.log.Info().Str("job_id", jobID.String()).Msg("Job finalized")
	return updated, nil
}

// nextState consults the transition table; anything absent is rejected with
// no state change.
func nextState(current model.JobStatus, action string) (model.JobStatus, error) {
	if moves, ok := transitions[current]; ok {
		if next, ok := moves[action]; ok {
			return next, nil
		}
	}
	return "", &model.InvalidStateTransitionError{JobStatus: current, Attempted: action}
}
