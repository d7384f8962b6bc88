package domain

import "time"

// DeletionRun is the archived summary of a finished deletion job.
// Rows are written once when the job leaves memory and never turned back into a live job.
type DeletionRun struct {
	ID         string     `gorm:"type:text;primaryKey" json:"id"`
	Owner      string     `gorm:"type:text;not null;index" json:"owner"`
	Status     JobStatus  `gorm:"type:text;not null" json:"status"`
	Total      int        `gorm:"default:0" json:"total"`
	Deleted    int        `gorm:"default:0" json:"deleted"`
	Skipped    int        `gorm:"default:0" json:"skipped"`
	LastError  string     `json:"last_error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TableName returns the database table name for DeletionRun.
func (DeletionRun) TableName() string {
	return "deletion_runs"
}

// NewDeletionRun builds the archive row for a job snapshot.
func NewDeletionRun(job DeletionJob) *DeletionRun {
	return &DeletionRun{
		ID:         job.ID,
		Owner:      job.Owner,
		Status:     job.Status,
		Total:      job.Total,
		Deleted:    job.DeletedCount,
		Skipped:    job.SkippedCount,
		LastError:  job.LastError,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}

// Snapshot turns the archived row back into a read-only job view for status polls.
func (r *DeletionRun) Snapshot() DeletionJob {
	return DeletionJob{
		ID:           r.ID,
		Owner:        r.Owner,
		Status:       r.Status,
		Total:        r.Total,
		DeletedCount: r.Deleted,
		SkippedCount: r.Skipped,
		LastError:    r.LastError,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}
