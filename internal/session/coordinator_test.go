package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markscan/omr-backend/internal/model"
	"github.com/markscan/omr-backend/internal/quality"
	"github.com/markscan/omr-backend/internal/registry"
	"github.com/markscan/omr-backend/internal/scoring"
)

// ─── Fakes ──────────────────────────────────────────────────────────

// fakeDetector runs a per-file function, so tests can script success,
// failure and blocking per sheet.
type fakeDetector struct {
	detect func(ctx context.Context, fileRef string) ([]model.DetectedAnswer, model.StudentInfo, error)
}

func (f *fakeDetector) Detect(ctx context.Context, fileRef string) ([]model.DetectedAnswer, model.StudentInfo, error) {
	return f.detect(ctx, fileRef)
}

// memStore records persistence calls in memory.
type memStore struct {
	mu       sync.Mutex
	sessions []*model.ProcessingSession
	finishes map[uuid.UUID]model.SessionStatus
	jobs     int
}

func newMemStore() *memStore {
	return &memStore{finishes: make(map[uuid.UUID]model.SessionStatus)}
}

func (s *memStore) CreateSession(_ context.Context, sess *model.ProcessingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
	return nil
}

func (s *memStore) FinishSession(_ context.Context, id uuid.UUID, status model.SessionStatus, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishes[id] = status
	return nil
}

func (s *memStore) CreateJobs(_ context.Context, jobs []*model.SheetJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs += len(jobs)
	return nil
}

func (s *memStore) finishedStatus(id uuid.UUID) (model.SessionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.finishes[id]
	return st, ok
}

// memSink collects pushed jobs.
type memSink struct {
	mu   sync.Mutex
	jobs []*model.SheetJob
}

func (s *memSink) Push(_ context.Context, job *model.SheetJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs = append(s.jobs, &cp)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// retainingSink keeps the exact pointers it was handed, the way the Redis
// queue sink serializes whatever struct it receives.
type retainingSink struct {
	mu   sync.Mutex
	jobs []*model.SheetJob
}

func (s *retainingSink) Push(_ context.Context, job *model.SheetJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

// failJobsStore accepts the session row but rejects the job batch.
type failJobsStore struct {
	*memStore
}

func (s *failJobsStore) CreateJobs(context.Context, []*model.SheetJob) error {
	return errors.New("connection reset")
}

// memPublisher records the last published snapshot.
type memPublisher struct {
	mu   sync.Mutex
	last model.SessionProgress
}

func (p *memPublisher) Publish(_ context.Context, progress model.SessionProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = progress
}

// ─── Harness ────────────────────────────────────────────────────────

type harness struct {
	coordinator *Coordinator
	store       *memStore
	sink        *memSink
	publisher   *memPublisher
	key         *model.AnswerKey
}

// newHarness builds a coordinator over a registered 5-question key, with
// the given detector and worker count.
func newHarness(t *testing.T, det *fakeDetector, workers int) *harness {
	t.Helper()

	log := zerolog.Nop()
	templates := registry.NewTemplateRegistry(log)
	tmpl, err := templates.Register(model.Template{
		Name:               "basic-5",
		QuestionCount:      5,
		OptionsPerQuestion: 4,
		SubjectAreas: []model.SubjectArea{
			{Name: "General", StartQuestion: 1, EndQuestion: 5, Weight: 1.0},
		},
	})
	if err != nil {
		t.Fatalf("register template: %v", err)
	}

	keys := registry.NewAnswerKeyRegistry(templates, log)
	key, err := keys.Register(model.AnswerKey{
		TemplateID:    tmpl.ID,
		Name:          "basic-5-key",
		QuestionCount: 5,
		Answers:       map[int][]string{1: {"A"}, 2: {"A"}, 3: {"A"}, 4: {"A"}, 5: {"A"}},
		Rules:         model.ScoringRules{PointsPerQuestion: 1},
	})
	if err != nil {
		t.Fatalf("register key: %v", err)
	}

	store := newMemStore()
	sink := &memSink{}
	publisher := &memPublisher{}
	coordinator := New(
		scoring.NewEngine(),
		quality.NewClassifier(0.70, 0.10),
		keys, templates, det, store, sink, publisher,
		workers, time.Second, log,
	)
	return &harness{coordinator: coordinator, store: store, sink: sink, publisher: publisher, key: key}
}

// allCorrect yields a perfect high-confidence sheet.
func allCorrect(confidence float64) []model.DetectedAnswer {
	detected := make([]model.DetectedAnswer, 5)
	for i := range detected {
		detected[i] = model.DetectedAnswer{
			QuestionNumber:  i + 1,
			SelectedOptions: []string{"A"},
			Confidence:      confidence,
		}
	}
	return detected
}

func files(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("sheet-%03d.png", i+1)
	}
	return out
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestSubmitProcessesAllFiles(t *testing.T) {
	det := &fakeDetector{detect: func(_ context.Context, fileRef string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		// Three specific sheets fail; the rest score perfectly.
		switch fileRef {
		case "sheet-002.png", "sheet-005.png", "sheet-008.png":
			return nil, model.StudentInfo{}, errors.New("unreadable image")
		}
		return allCorrect(0.95), model.StudentInfo{Name: "student " + fileRef}, nil
	}}
	h := newHarness(t, det, 4)

	sess, err := h.coordinator.Submit(context.Background(), h.key.ID, files(10))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.coordinator.WaitIdle(sess.ID, time.Millisecond)

	progress, err := h.coordinator.Progress(sess.ID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Status != model.SessionStatusCompleted {
		t.Errorf("status = %q, want COMPLETED", progress.Status)
	}
	if progress.ProcessedFiles != 10 || progress.SuccessfulFiles != 7 || progress.FailedFiles != 3 {
		t.Errorf("processed/successful/failed = %d/%d/%d, want 10/7/3",
			progress.ProcessedFiles, progress.SuccessfulFiles, progress.FailedFiles)
	}
	if progress.ProgressPercentage != 100 {
		t.Errorf("percentage = %v, want 100", progress.ProgressPercentage)
	}

	if status, ok := h.store.finishedStatus(sess.ID); !ok || status != model.SessionStatusCompleted {
		t.Errorf("store finish status = %q (%v), want COMPLETED", status, ok)
	}
	if got := h.sink.count(); got != 10 {
		t.Errorf("sink received %d jobs, want 10", got)
	}
}

func TestFailureIsolation(t *testing.T) {
	det := &fakeDetector{detect: func(_ context.Context, fileRef string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		if fileRef == "sheet-001.png" {
			return nil, model.StudentInfo{}, errors.New("corrupt file")
		}
		return allCorrect(0.95), model.StudentInfo{}, nil
	}}
	h := newHarness(t, det, 2)

	sess, err := h.coordinator.Submit(context.Background(), h.key.ID, files(3))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.coordinator.WaitIdle(sess.ID, time.Millisecond)

	jobs, err := h.coordinator.Jobs(sess.ID)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	for _, j := range jobs {
		switch j.FileRef {
		case "sheet-001.png":
			if j.Status != model.JobStatusFailed {
				t.Errorf("failed sheet status = %q, want FAILED", j.Status)
			}
			if !strings.Contains(j.ErrorDetails, "corrupt file") {
				t.Errorf("error details = %q, want cause preserved", j.ErrorDetails)
			}
			if j.Result != nil {
				t.Error("failed sheet must not carry a result")
			}
		default:
			if j.Status != model.JobStatusCompleted {
				t.Errorf("sibling %s status = %q, want COMPLETED", j.FileRef, j.Status)
			}
			if j.Result == nil || j.Result.TotalScore != 5 {
				t.Errorf("sibling %s result = %+v, want full score", j.FileRef, j.Result)
			}
		}
	}
}

func TestLowConfidenceRoutesToNeedsReview(t *testing.T) {
	det := &fakeDetector{detect: func(_ context.Context, _ string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		return allCorrect(0.50), model.StudentInfo{}, nil
	}}
	h := newHarness(t, det, 1)

	sess, err := h.coordinator.Submit(context.Background(), h.key.ID, files(1))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.coordinator.WaitIdle(sess.ID, time.Millisecond)

	jobs, err := h.coordinator.Jobs(sess.ID)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if jobs[0].Status != model.JobStatusNeedsReview {
		t.Errorf("status = %q, want NEEDS_REVIEW", jobs[0].Status)
	}
	if jobs[0].Result == nil || !jobs[0].Result.NeedsReview {
		t.Errorf("result = %+v, want needs_review set", jobs[0].Result)
	}

	// A flagged sheet still counts as successfully processed.
	progress, _ := h.coordinator.Progress(sess.ID)
	if progress.SuccessfulFiles != 1 || progress.FailedFiles != 0 {
		t.Errorf("successful/failed = %d/%d, want 1/0", progress.SuccessfulFiles, progress.FailedFiles)
	}
}

func TestSubmitUnknownAnswerKey(t *testing.T) {
	det := &fakeDetector{detect: func(_ context.Context, _ string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		return allCorrect(0.95), model.StudentInfo{}, nil
	}}
	h := newHarness(t, det, 1)

	_, err := h.coordinator.Submit(context.Background(), uuid.New(), files(2))
	var sysErr *model.SystemicError
	if !errors.As(err, &sysErr) {
		t.Fatalf("err = %v, want *model.SystemicError", err)
	}
	if h.store.jobs != 0 {
		t.Errorf("store has %d jobs, want none created on systemic failure", h.store.jobs)
	}
}

func TestSubmitNoFiles(t *testing.T) {
	det := &fakeDetector{detect: func(_ context.Context, _ string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		return allCorrect(0.95), model.StudentInfo{}, nil
	}}
	h := newHarness(t, det, 1)

	_, err := h.coordinator.Submit(context.Background(), h.key.ID, nil)
	var sysErr *model.SystemicError
	if !errors.As(err, &sysErr) {
		t.Fatalf("err = %v, want *model.SystemicError", err)
	}
}

func TestCancelSkipsPendingJobs(t *testing.T) {
	started := make(chan string, 16)
	release := make(chan struct{})
	det := &fakeDetector{detect: func(_ context.Context, fileRef string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		started <- fileRef
		<-release
		return allCorrect(0.95), model.StudentInfo{}, nil
	}}
	h := newHarness(t, det, 1)

	sess, err := h.coordinator.Submit(context.Background(), h.key.ID, files(5))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Wait for the single worker to pick up the first sheet, cancel, then
	// let the in-flight call finish.
	<-started
	if err := h.coordinator.Cancel(sess.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	h.coordinator.WaitIdle(sess.ID, time.Millisecond)

	progress, err := h.coordinator.Progress(sess.ID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Status != model.SessionStatusCancelled {
		t.Errorf("status = %q, want CANCELLED", progress.Status)
	}
	// The in-flight sheet ran to completion; nothing else started.
	if progress.ProcessedFiles != 1 {
		t.Errorf("processed = %d, want 1 (in-flight only)", progress.ProcessedFiles)
	}

	jobs, _ := h.coordinator.Jobs(sess.ID)
	pending := 0
	for _, j := range jobs {
		if j.Status == model.JobStatusPending {
			pending++
		}
	}
	if pending != 4 {
		t.Errorf("pending jobs = %d, want 4 untouched", pending)
	}
}

func TestStatsAggregation(t *testing.T) {
	det := &fakeDetector{detect: func(_ context.Context, fileRef string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		if fileRef == "sheet-003.png" {
			return nil, model.StudentInfo{}, errors.New("unreadable image")
		}
		// 4 of 5 correct, confidence 0.90.
		detected := allCorrect(0.90)
		detected[4].SelectedOptions = []string{"B"}
		return detected, model.StudentInfo{}, nil
	}}
	h := newHarness(t, det, 2)

	sess, err := h.coordinator.Submit(context.Background(), h.key.ID, files(3))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.coordinator.WaitIdle(sess.ID, time.Millisecond)

	stats, err := h.coordinator.Stats(sess.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !stats.HasData {
		t.Fatal("HasData = false, want true with successful jobs")
	}
	if stats.AverageScore != 4 {
		t.Errorf("average score = %v, want 4", stats.AverageScore)
	}
	if stats.AverageConfidence != 0.90 {
		t.Errorf("average confidence = %v, want 0.90", stats.AverageConfidence)
	}
}

func TestStatsAllFailed(t *testing.T) {
	det := &fakeDetector{detect: func(_ context.Context, _ string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		return nil, model.StudentInfo{}, errors.New("unreadable image")
	}}
	h := newHarness(t, det, 2)

	sess, err := h.coordinator.Submit(context.Background(), h.key.ID, files(3))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.coordinator.WaitIdle(sess.ID, time.Millisecond)

	stats, err := h.coordinator.Stats(sess.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.HasData {
		t.Error("HasData = true, want false when every sheet failed")
	}
	if stats.AverageScore != 0 || stats.AverageConfidence != 0 {
		t.Errorf("averages = %v/%v, want zero values", stats.AverageScore, stats.AverageConfidence)
	}

	// The session itself still completes: failures are per-sheet.
	progress, _ := h.coordinator.Progress(sess.ID)
	if progress.Status != model.SessionStatusCompleted {
		t.Errorf("status = %q, want COMPLETED", progress.Status)
	}
}

func TestDetectorTimeoutBecomesTimeoutError(t *testing.T) {
	det := &fakeDetector{detect: func(ctx context.Context, _ string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		<-ctx.Done()
		return nil, model.StudentInfo{}, ctx.Err()
	}}

	h := newHarness(t, det, 1)
	// Shrink the sheet deadline so the test stays fast.
	h.coordinator.sheetTimeout = 10 * time.Millisecond

	sess, err := h.coordinator.Submit(context.Background(), h.key.ID, files(1))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.coordinator.WaitIdle(sess.ID, time.Millisecond)

	jobs, _ := h.coordinator.Jobs(sess.ID)
	if jobs[0].Status != model.JobStatusFailed {
		t.Fatalf("status = %q, want FAILED", jobs[0].Status)
	}
	if !strings.Contains(jobs[0].ErrorDetails, "exceeded deadline") {
		t.Errorf("error details = %q, want timeout reported", jobs[0].ErrorDetails)
	}
}

func TestSinkReceivesSnapshotNotLiveJob(t *testing.T) {
	det := &fakeDetector{detect: func(_ context.Context, _ string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		return allCorrect(0.50), model.StudentInfo{}, nil
	}}
	h := newHarness(t, det, 1)
	rsink := &retainingSink{}
	h.coordinator.sink = rsink

	sess, err := h.coordinator.Submit(context.Background(), h.key.ID, files(1))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.coordinator.WaitIdle(sess.ID, time.Millisecond)

	if len(rsink.jobs) != 1 {
		t.Fatalf("sink received %d jobs, want 1", len(rsink.jobs))
	}
	pushed := rsink.jobs[0]
	if pushed.Status != model.JobStatusNeedsReview {
		t.Fatalf("pushed status = %q, want NEEDS_REVIEW", pushed.Status)
	}

	// Rewrite the live job the way a review does. The struct handed to the
	// sink must be a copy, untouched by the rewrite.
	reviewed := &model.ScoringResult{TotalScore: 5}
	if err := h.coordinator.UpdateJob(pushed.ID, func(job *model.SheetJob) error {
		job.Status = model.JobStatusReviewed
		job.Result = reviewed
		job.ReviewedBy = "reviewer-1"
		return nil
	}); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if pushed.Status != model.JobStatusNeedsReview {
		t.Errorf("pushed status mutated to %q after review", pushed.Status)
	}
	if pushed.Result == reviewed {
		t.Error("pushed job shares the live result pointer")
	}
	if pushed.ReviewedBy != "" {
		t.Errorf("pushed job picked up reviewer %q", pushed.ReviewedBy)
	}
}

func TestSubmitJobPersistFailureMarksSessionFailed(t *testing.T) {
	det := &fakeDetector{detect: func(_ context.Context, _ string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		return allCorrect(0.95), model.StudentInfo{}, nil
	}}
	h := newHarness(t, det, 1)
	h.coordinator.store = &failJobsStore{h.store}

	_, err := h.coordinator.Submit(context.Background(), h.key.ID, files(2))
	var sysErr *model.SystemicError
	if !errors.As(err, &sysErr) {
		t.Fatalf("err = %v, want *model.SystemicError", err)
	}

	// The session row had already been written; it must not stay QUEUED.
	if len(h.store.sessions) != 1 {
		t.Fatalf("store has %d sessions, want 1", len(h.store.sessions))
	}
	status, ok := h.store.finishedStatus(h.store.sessions[0].ID)
	if !ok || status != model.SessionStatusFailed {
		t.Errorf("store finish status = %q (%v), want FAILED", status, ok)
	}
}

func TestUpdateJobRunsUnderSessionLock(t *testing.T) {
	det := &fakeDetector{detect: func(_ context.Context, _ string) ([]model.DetectedAnswer, model.StudentInfo, error) {
		return allCorrect(0.95), model.StudentInfo{}, nil
	}}
	h := newHarness(t, det, 1)

	sess, err := h.coordinator.Submit(context.Background(), h.key.ID, files(1))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.coordinator.WaitIdle(sess.ID, time.Millisecond)

	jobs, _ := h.coordinator.Jobs(sess.ID)
	if err := h.coordinator.UpdateJob(jobs[0].ID, func(job *model.SheetJob) error {
		job.Status = model.JobStatusFinalized
		return nil
	}); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	got, ok := h.coordinator.Job(jobs[0].ID)
	if !ok {
		t.Fatal("job vanished")
	}
	if got.Status != model.JobStatusFinalized {
		t.Errorf("status = %q, want FINALIZED", got.Status)
	}

	if err := h.coordinator.UpdateJob(uuid.New(), func(*model.SheetJob) error { return nil }); err == nil {
		t.Error("UpdateJob on unknown ID should fail")
	}
}
