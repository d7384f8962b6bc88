package domain

import "time"

// JobStatus represents the state of a bulk deletion job.
type JobStatus string

const (
	JobStatusRunning            JobStatus = "running"
	JobStatusWaitingOnRateLimit JobStatus = "waiting_on_rate_limit"
	JobStatusDone               JobStatus = "done"
	JobStatusError              JobStatus = "error"
	JobStatusCanceled           JobStatus = "canceled"
)

// IsTerminal reports whether no further transitions can happen from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusError, JobStatusCanceled:
		return true
	}
	return false
}

// DeletionJob is a point-in-time copy of a bulk deletion job.
// Counters and status in one snapshot are always read together.
type DeletionJob struct {
	ID              string     `json:"id"`
	Owner           string     `json:"owner"`
	Status          JobStatus  `json:"status"`
	Total           int        `json:"total"`
	DeletedCount    int        `json:"deleted_count"`
	SkippedCount    int        `json:"skipped_count"`
	SkippedIDs      []string   `json:"skipped_ids,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	LastError       string     `json:"last_error,omitempty"`
	ResumeAt        *time.Time `json:"resume_at,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Remaining returns how many targets have been neither deleted nor skipped.
func (j DeletionJob) Remaining() int {
	return j.Total - j.DeletedCount - j.SkippedCount
}
