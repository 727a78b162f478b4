package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/detector"
	"github.com/markscan/omr-backend/internal/model"
	"github.com/markscan/omr-backend/internal/quality"
	"github.com/markscan/omr-backend/internal/registry"
	"github.com/markscan/omr-backend/internal/scoring"
)

// Store persists sessions and jobs. The pgx-backed implementation lives in
// internal/repository; tests substitute an in-memory fake.
type Store interface {
	CreateSession(ctx context.Context, s *model.ProcessingSession) error
	FinishSession(ctx context.Context, id uuid.UUID, status model.SessionStatus, finishedAt time.Time) error
	CreateJobs(ctx context.Context, jobs []*model.SheetJob) error
}

// ResultSink receives finished sheet jobs for durable persistence. The
// production sink enqueues to Redis for the persist worker to drain.
type ResultSink interface {
	Push(ctx context.Context, job *model.SheetJob) error
}

// ProgressPublisher fans out progress snapshots to live observers.
type ProgressPublisher interface {
	Publish(ctx context.Context, p model.SessionProgress)
}

// Coordinator runs batches of sheet evaluations. Each submitted session owns
// a bounded worker pool draining its pending jobs; the scoring engine and
// quality classifier are pure and shared across all workers. All counter
// updates for a session happen under that session's single mutex.
type Coordinator struct {
	engine     *scoring.Engine
	classifier *quality.Classifier
	keys       *registry.AnswerKeyRegistry
	templates  *registry.TemplateRegistry
	det        detector.Detector
	store      Store
	sink       ResultSink
	publisher  ProgressPublisher
	log        zerolog.Logger

	workers      int
	sheetTimeout time.Duration

	sessions *stateMap
}

// New creates a Coordinator. workers bounds the per-session pool size;
// sheetTimeout is the deadline for one detect+score pipeline run.
func New(
	engine *scoring.Engine,
	classifier *quality.Classifier,
	keys *registry.AnswerKeyRegistry,
	templates *registry.TemplateRegistry,
	det detector.Detector,
	store Store,
	sink ResultSink,
	publisher ProgressPublisher,
	workers int,
	sheetTimeout time.Duration,
	log zerolog.Logger,
) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		engine:       engine,
		classifier:   classifier,
		keys:         keys,
		templates:    templates,
		det:          det,
		store:        store,
		sink:         sink,
		publisher:    publisher,
		workers:      workers,
		sheetTimeout: sheetTimeout,
		sessions:     newStateMap(),
		log:          log.With().Str("component", "session_coordinator").Logger(),
	}
}

// Submit validates the answer key binding, creates one pending job per file
// and starts the session's worker pool. A validation failure is systemic:
// no job starts and the error is returned synchronously.
func (c *Coordinator) Submit(ctx context.Context, answerKeyID uuid.UUID, files []string) (*model.ProcessingSession, error) {
	key, ok := c.keys.Get(answerKeyID)
	if !ok {
		return nil, &model.SystemicError{
			Reason: "answer key not registered",
			Err:    model.NewConfigError(fmt.Sprintf("answer key %s not found", answerKeyID)),
		}
	}
	tmpl, ok := c.templates.Get(key.TemplateID)
	if !ok {
		return nil, &model.SystemicError{
			Reason: "bound template not registered",
			Err:    model.NewConfigError(fmt.Sprintf("template %s not found", key.TemplateID)),
		}
	}
	if len(files) == 0 {
		return nil, &model.SystemicError{Reason: "no files submitted"}
	}

	sess := &model.ProcessingSession{
		ID:          uuid.New(),
		AnswerKeyID: key.ID,
		TemplateID:  tmpl.ID,
		TotalFiles:  len(files),
		Status:      model.SessionStatusQueued,
		CreatedAt:   time.Now(),
	}

	jobs := make([]*model.SheetJob, len(files))
	for i, f := range files {
		jobs[i] = &model.SheetJob{
			ID:        uuid.New(),
			SessionID: sess.ID,
			FileRef:   f,
			Status:    model.JobStatusPending,
		}
	}

	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, &model.SystemicError{Reason: "persist session", Err: err}
	}
	if err := c.store.CreateJobs(ctx, jobs); err != nil {
		// The session row already exists; settle it so it does not read as
		// QUEUED forever.
		if ferr := c.store.FinishSession(ctx, sess.ID, model.SessionStatusFailed, time.Now()); ferr != nil {
			c.log.Error().Err(ferr).Str("session_id", sess.ID.String()).Msg("Mark session failed after job persist error")
		}
		return nil, &model.SystemicError{Reason: "persist jobs", Err: err}
	}

	st := newSessionState(sess, jobs, key, tmpl)
	c.sessions.put(st)

	c.log.Info().
		Str("session_id", sess.ID.String()).
		Str("answer_key_id", key.ID.String()).
		Int("total_files", sess.TotalFiles).
		Msg("Session submitted")

	c.start(st)
	return sess, nil
}

// start launches the session's worker pool and its completion monitor.
func (c *Coordinator) start(st *sessionState) {
	st.setStatus(model.SessionStatusProcessing)

	for i := 0; i < c.workers; i++ {
		st.wg.Add(1)
		go c.runWorker(st)
	}

	go func() {
		st.wg.Wait()
		c.finish(st)
	}()
}

// runWorker drains the session's pending queue. On cancellation the worker
// exits without starting the job it pulled; in-flight jobs on other workers
// run to completion.
func (c *Coordinator) runWorker(st *sessionState) {
	defer st.wg.Done()

	for job := range st.pending {
		if st.isCancelled() {
			return
		}
		c.processJob(st, job)
	}
}

// processJob runs one sheet through detect → score → classify and records
// the outcome. Failures here are isolated to this job.
func (c *Coordinator) processJob(st *sessionState, job *model.SheetJob) {
	started := time.Now()
	st.markProcessing(job, started)

	ctx, cancel := context.WithTimeout(context.Background(), c.sheetTimeout)
	defer cancel()

	result, student, err := c.evaluateSheet(ctx, st, job)
	elapsed := time.Since(started)

	// The sink receives a copy snapshotted under the session lock; the live
	// job may be rewritten by a concurrent review before the push lands.
	var snapshot *model.SheetJob
	if err != nil {
		snapshot = st.markFailed(job, err, elapsed)
		c.log.Warn().
			Err(err).
			Str("session_id", st.session.ID.String()).
			Str("job_id", job.ID.String()).
			Str("file_ref", job.FileRef).
			Msg("Sheet evaluation failed")
	} else {
		snapshot = st.markDone(job, result, student, elapsed)
	}

	if c.sink != nil {
		if err := c.sink.Push(context.Background(), snapshot); err != nil {
			c.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Result sink push failed")
		}
	}
	c.publishProgress(st)
}

// evaluateSheet is the per-sheet pipeline. The Detect call is the only
// point that may block; engine and classifier never do.
func (c *Coordinator) evaluateSheet(ctx context.Context, st *sessionState, job *model.SheetJob) (*model.ScoringResult, model.StudentInfo, error) {
	detected, student, err := c.det.Detect(ctx, job.FileRef)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, model.StudentInfo{}, &model.TimeoutError{Deadline: c.sheetTimeout}
		}
		return nil, model.StudentInfo{}, fmt.Errorf("detect: %w", err)
	}

	result, err := c.engine.Evaluate(detected, st.key, st.tmpl)
	if err != nil {
		return nil, model.StudentInfo{}, fmt.Errorf("evaluate: %w", err)
	}

	c.classifier.Classify(detected, result)
	return result, student, nil
}

// finish settles the session's terminal status once no worker remains.
func (c *Coordinator) finish(st *sessionState) {
	status := st.finalize()
	now := time.Now()

	if err := c.store.FinishSession(context.Background(), st.session.ID, status, now); err != nil {
		c.log.Error().Err(err).Str("session_id", st.session.ID.String()).Msg("Persist session finish failed")
	}

	c.publishProgress(st)
	c.log.Info().
		Str("session_id", st.session.ID.String()).
		Str("status", string(status)).
		Int("successful", st.successfulCount()).
		Int("failed", st.failedCount()).
		Msg("Session finished")
}

func (c *Coordinator) publishProgress(st *sessionState) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(context.Background(), st.progress())
}

// Cancel stops scheduling pending jobs of the session. In-flight detector
// calls finish naturally; the session becomes CANCELLED once no job remains
// processing.
func (c *Coordinator) Cancel(sessionID uuid.UUID) error {
	st, ok := c.sessions.get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	st.cancel()
	c.log.Info().Str("session_id", sessionID.String()).Msg("Session cancellation requested")
	return nil
}

// Progress returns the session's progress snapshot. It never blocks
// in-flight workers.
func (c *Coordinator) Progress(sessionID uuid.UUID) (model.SessionProgress, error) {
	st, ok := c.sessions.get(sessionID)
	if !ok {
		return model.SessionProgress{}, fmt.Errorf("session %s not found", sessionID)
	}
	return st.progress(), nil
}

// Stats returns aggregate statistics over the session's successful jobs.
func (c *Coordinator) Stats(sessionID uuid.UUID) (model.SessionStats, error) {
	st, ok := c.sessions.get(sessionID)
	if !ok {
		return model.SessionStats{}, fmt.Errorf("session %s not found", sessionID)
	}
	return st.stats(), nil
}

// Jobs returns the session's jobs in submission order.
func (c *Coordinator) Jobs(sessionID uuid.UUID) ([]*model.SheetJob, error) {
	st, ok := c.sessions.get(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return st.jobSnapshots(), nil
}

// Job locates a job across all live sessions.
func (c *Coordinator) Job(jobID uuid.UUID) (*model.SheetJob, bool) {
	return c.sessions.job(jobID)
}

// Session returns the session entity.
func (c *Coordinator) Session(sessionID uuid.UUID) (*model.ProcessingSession, bool) {
	st, ok := c.sessions.get(sessionID)
	if !ok {
		return nil, false
	}
	return st.sessionSnapshot(), true
}

// QueueSnapshot reports pending and processing counts across all live
// sessions, for the system status endpoint.
func (c *Coordinator) QueueSnapshot() (pending, processing int) {
	return c.sessions.queueCounts()
}

// UpdateJob applies fn to the job under its session's lock. Used by the
// review workflow to swap results and transition states atomically with
// respect to the coordinator's own writes.
func (c *Coordinator) UpdateJob(jobID uuid.UUID, fn func(job *model.SheetJob) error) error {
	st, ok := c.sessions.sessionOfJob(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	return st.updateJob(jobID, fn)
}

// WaitIdle blocks until the session has reached a terminal status.
// Intended for tests and shutdown draining, not request paths.
func (c *Coordinator) WaitIdle(sessionID uuid.UUID, pollEvery time.Duration) {
	for {
		st, ok := c.sessions.get(sessionID)
		if !ok {
			return
		}
		s := st.currentStatus()
		if s == model.SessionStatusCompleted || s == model.SessionStatusCancelled || s == model.SessionStatusFailed {
			return
		}
		time.Sleep(pollEvery)
	}
}
