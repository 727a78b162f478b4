package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markscan/omr-backend/internal/model"
)

// sessionState is the live, in-memory state of one running session. Every
// mutation goes through its single mutex; that is the serialization point
// required for the counters under concurrent sheet completion.
type sessionState struct {
	mu      sync.Mutex
	session model.ProcessingSession
	jobs    []*model.SheetJob
	byID    map[uuid.UUID]*model.SheetJob
	key     *model.AnswerKey
	tmpl    *model.Template

	pending   chan *model.SheetJob
	cancelled bool
	wg        sync.WaitGroup

	processed  int
	successful int
	failed     int

	scoreSum      float64
	confidenceSum float64
	procMillisSum int64
	ranJobs       int
}

func errJobNotFound(id uuid.UUID) error {
	return fmt.Errorf("job %s not found", id)
}

func newSessionState(sess *model.ProcessingSession, jobs []*model.SheetJob, key *model.AnswerKey, tmpl *model.Template) *sessionState {
	st := &sessionState{
		session: *sess,
		jobs:    jobs,
		byID:    make(map[uuid.UUID]*model.SheetJob, len(jobs)),
		key:     key,
		tmpl:    tmpl,
		pending: make(chan *model.SheetJob, len(jobs)),
	}
	for _, j := range jobs {
		st.byID[j.ID] = j
		st.pending <- j
	}
	close(st.pending)
	return st
}

func (st *sessionState) setStatus(s model.SessionStatus) {
	st.mu.Lock()
	st.session.Status = s
	st.mu.Unlock()
}

func (st *sessionState) currentStatus() model.SessionStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.Status
}

func (st *sessionState) cancel() {
	st.mu.Lock()
	st.cancelled = true
	st.mu.Unlock()
}

func (st *sessionState) isCancelled() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cancelled
}

func (st *sessionState) markProcessing(job *model.SheetJob, at time.Time) {
	st.mu.Lock()
	job.Status = model.JobStatusProcessing
	job.StartedAt = &at
	st.mu.Unlock()
}

// markDone records a scored sheet. The job lands in COMPLETED or
// NEEDS_REVIEW depending on the classifier's verdict. The returned copy is
// taken under the lock so it is safe to hand to the result sink while the
// review workflow may already be rewriting the live job.
func (st *sessionState) markDone(job *model.SheetJob, result *model.ScoringResult, student model.StudentInfo, elapsed time.Duration) *model.SheetJob {
	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	job.Result = result
	job.Student = student
	job.FinishedAt = &now
	job.ProcessingMillis = elapsed.Milliseconds()
	if result.NeedsReview {
		job.Status = model.JobStatusNeedsReview
	} else {
		job.Status = model.JobStatusCompleted
	}

	st.processed++
	st.successful++
	st.scoreSum += result.TotalScore
	st.confidenceSum += result.ConfidenceScore
	st.procMillisSum += job.ProcessingMillis
	st.ranJobs++

	cp := *job
	return &cp
}

// markFailed records a sheet-level failure without touching sibling jobs.
// Returns a copy taken under the lock, like markDone.
func (st *sessionState) markFailed(job *model.SheetJob, err error, elapsed time.Duration) *model.SheetJob {
	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	job.Status = model.JobStatusFailed
	job.ErrorDetails = err.Error()
	job.FinishedAt = &now
	job.ProcessingMillis = elapsed.Milliseconds()

	st.processed++
	st.failed++
	st.procMillisSum += job.ProcessingMillis
	st.ranJobs++

	cp := *job
	return &cp
}

// finalize settles the terminal status. Completion means every file was
// processed, however many failed; CANCELLED wins when a cancel arrived
// before the queue drained.
func (st *sessionState) finalize() model.SessionStatus {
	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.cancelled && st.processed < st.session.TotalFiles {
		st.session.Status = model.SessionStatusCancelled
	} else {
		st.session.Status = model.SessionStatusCompleted
	}
	st.session.FinishedAt = &now
	return st.session.Status
}

func (st *sessionState) progress() model.SessionProgress {
	st.mu.Lock()
	defer st.mu.Unlock()

	pct := 0.0
	if st.session.TotalFiles > 0 {
		pct = float64(st.processed) / float64(st.session.TotalFiles) * 100
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	return model.SessionProgress{
		SessionID:          st.session.ID,
		TotalFiles:         st.session.TotalFiles,
		ProcessedFiles:     st.processed,
		SuccessfulFiles:    st.successful,
		FailedFiles:        st.failed,
		ProgressPercentage: pct,
		Status:             st.session.Status,
	}
}

func (st *sessionState) stats() model.SessionStats {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := model.SessionStats{HasData: st.successful > 0}
	if st.successful > 0 {
		s.AverageScore = st.scoreSum / float64(st.successful)
		s.AverageConfidence = st.confidenceSum / float64(st.successful)
	}
	if st.ranJobs > 0 {
		s.AverageProcessingMillis = float64(st.procMillisSum) / float64(st.ranJobs)
	}
	return s
}

func (st *sessionState) successfulCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.successful
}

func (st *sessionState) failedCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.failed
}

// jobSnapshots returns copies of the jobs in submission order.
func (st *sessionState) jobSnapshots() []*model.SheetJob {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]*model.SheetJob, len(st.jobs))
	for i, j := range st.jobs {
		cp := *j
		out[i] = &cp
	}
	return out
}

func (st *sessionState) jobSnapshot(id uuid.UUID) (*model.SheetJob, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	j, ok := st.byID[id]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

func (st *sessionState) updateJob(id uuid.UUID, fn func(job *model.SheetJob) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	j, ok := st.byID[id]
	if !ok {
		return errJobNotFound(id)
	}
	return fn(j)
}

func (st *sessionState) sessionSnapshot() *model.ProcessingSession {
	st.mu.Lock()
	defer st.mu.Unlock()
	cp := st.session
	return &cp
}

func (st *sessionState) queueCounts() (pending, processing int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, j := range st.jobs {
		switch j.Status {
		case model.JobStatusPending:
			pending++
		case model.JobStatusProcessing:
			processing++
		}
	}
	return pending, processing
}

// stateMap indexes live sessions and their jobs. Sessions are fully
// independent of each other; the map itself is the only shared structure.
type stateMap struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionState
	jobOwner map[uuid.UUID]uuid.UUID
}

func newStateMap() *stateMap {
	return &stateMap{
		sessions: make(map[uuid.UUID]*sessionState),
		jobOwner: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *stateMap) put(st *sessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[st.session.ID] = st
	for _, j := range st.jobs {
		m.jobOwner[j.ID] = st.session.ID
	}
}

func (m *stateMap) get(id uuid.UUID) (*sessionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.sessions[id]
	return st, ok
}

func (m *stateMap) job(jobID uuid.UUID) (*model.SheetJob, bool) {
	m.mu.RLock()
	owner, ok := m.jobOwner[jobID]
	st := m.sessions[owner]
	m.mu.RUnlock()
	if !ok || st == nil {
		return nil, false
	}
	return st.jobSnapshot(jobID)
}

func (m *stateMap) sessionOfJob(jobID uuid.UUID) (*sessionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.jobOwner[jobID]
	if !ok {
		return nil, false
	}
	st, ok := m.sessions[owner]
	return st, ok
}

func (m *stateMap) queueCounts() (pending, processing int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.sessions {
		p, pr := st.queueCounts()
		pending += p
		processing += pr
	}
	return pending, processing
}
