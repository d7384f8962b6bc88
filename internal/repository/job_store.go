package repository

import (
	"errors"
	"sync"
	"time"

	"github.com/timmy/tweetpurge/internal/domain"
)

var (
	ErrJobExists = errors.New("job already exists")
	// ErrOwnerBusy is returned by CreateExclusive when the owner already has an active job.
	ErrOwnerBusy = errors.New("owner already has an active job")
)

// Job is the live, mutable record of one bulk deletion run.
// After creation only the job's own worker mutates it, except for RequestCancel.
type Job struct {
	id        string
	owner     string
	targetIDs []string
	startedAt time.Time

	mu              sync.RWMutex
	status          domain.JobStatus
	deleted         int
	skipped         int
	skippedIDs      []string
	cancelRequested bool
	lastError       string
	resumeAt        *time.Time
	finishedAt      *time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// NewJob creates a running job over targetIDs. The slice is owned by the job afterwards.
func NewJob(id, owner string, targetIDs []string, startedAt time.Time) *Job {
	return &Job{
		id:        id,
		owner:     owner,
		targetIDs: targetIDs,
		startedAt: startedAt,
		status:    domain.JobStatusRunning,
		cancelCh:  make(chan struct{}),
	}
}

func (j *Job) ID() string    { return j.id }
func (j *Job) Owner() string { return j.owner }
func (j *Job) Total() int    { return len(j.targetIDs) }

// TargetIDs returns the ids fixed at creation, in enumeration order. Callers must not modify it.
func (j *Job) TargetIDs() []string { return j.targetIDs }

// Snapshot copies the job's state under a single read lock.
func (j *Job) Snapshot() domain.DeletionJob {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snap := domain.DeletionJob{
		ID:              j.id,
		Owner:           j.owner,
		Status:          j.status,
		Total:           len(j.targetIDs),
		DeletedCount:    j.deleted,
		SkippedCount:    j.skipped,
		CancelRequested: j.cancelRequested,
		LastError:       j.lastError,
		StartedAt:       j.startedAt,
	}
	if len(j.skippedIDs) > 0 {
		snap.SkippedIDs = append([]string(nil), j.skippedIDs...)
	}
	if j.resumeAt != nil {
		t := *j.resumeAt
		snap.ResumeAt = &t
	}
	if j.finishedAt != nil {
		t := *j.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}

// Status returns the current status.
func (j *Job) Status() domain.JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// RequestCancel flags the job for cancellation. It returns false, changing nothing,
// when the job has already reached a terminal state.
func (j *Job) RequestCancel() bool {
	j.mu.Lock()
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return false
	}
	j.cancelRequested = true
	j.mu.Unlock()

	j.cancelOnce.Do(func() { close(j.cancelCh) })
	return true
}

// CancelRequested reports whether RequestCancel has been called on a live job.
func (j *Job) CancelRequested() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelRequested
}

// CancelCh is closed once cancellation has been requested.
func (j *Job) CancelCh() <-chan struct{} {
	return j.cancelCh
}

// MarkDeleted counts one more deleted target.
func (j *Job) MarkDeleted() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() || j.deleted+j.skipped >= len(j.targetIDs) {
		return
	}
	j.deleted++
}

// MarkSkipped records a target that was given up on.
func (j *Job) MarkSkipped(targetID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() || j.deleted+j.skipped >= len(j.targetIDs) {
		return
	}
	j.skipped++
	j.skippedIDs = append(j.skippedIDs, targetID)
}

// MarkWaiting moves a running job into the rate limit cooldown that ends at until.
func (j *Job) MarkWaiting(until time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return
	}
	j.status = domain.JobStatusWaitingOnRateLimit
	j.resumeAt = &until
}

// MarkRunning ends a cooldown.
func (j *Job) MarkRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return
	}
	j.status = domain.JobStatusRunning
	j.resumeAt = nil
}

// Finish moves the job into a terminal status. lastError is kept only for JobStatusError.
// It returns false if the job had already finished.
func (j *Job) Finish(status domain.JobStatus, lastError string, at time.Time) bool {
	if !status.IsTerminal() {
		return false
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return false
	}
	j.status = status
	j.resumeAt = nil
	j.finishedAt = &at
	if status == domain.JobStatusError {
		j.lastError = lastError
	}
	return true
}

// finishedBefore reports whether the job is terminal and finished before cutoff.
func (j *Job) finishedBefore(cutoff time.Time) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status.IsTerminal() && j.finishedAt != nil && j.finishedAt.Before(cutoff)
}

// JobStore is the in-memory registry of deletion jobs keyed by job id.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// CreateExclusive registers job unless its owner already has an active one,
// in which case that job is returned along with ErrOwnerBusy.
func (s *JobStore) CreateExclusive(job *Job) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.id]; ok {
		return nil, ErrJobExists
	}
	if active := s.activeForLocked(job.owner); active != nil {
		return active, ErrOwnerBusy
	}
	s.jobs[job.id] = job
	return job, nil
}

// Get returns the job with the given id.
func (s *JobStore) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// GetOwned returns the job only if it belongs to owner. A job owned by someone
// else is reported exactly like a missing one.
func (s *JobStore) GetOwned(id, owner string) (*Job, bool) {
	job, ok := s.Get(id)
	if !ok || job.owner != owner {
		return nil, false
	}
	return job, true
}

// ActiveFor returns the owner's non-terminal job, if any.
func (s *JobStore) ActiveFor(owner string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job := s.activeForLocked(owner)
	return job, job != nil
}

func (s *JobStore) activeForLocked(owner string) *Job {
	for _, job := range s.jobs {
		if job.owner == owner && !job.Status().IsTerminal() {
			return job
		}
	}
	return nil
}

// Reap removes terminal jobs that finished before cutoff and returns their final snapshots.
func (s *JobStore) Reap(cutoff time.Time) []domain.DeletionJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []domain.DeletionJob
	for id, job := range s.jobs {
		if job.finishedBefore(cutoff) {
			reaped = append(reaped, job.Snapshot())
			delete(s.jobs, id)
		}
	}
	return reaped
}

// Len returns the number of jobs held in memory.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
