package domain

import "time"

// JobStatus is the lifecycle state of a queued delivery job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobLeased  JobStatus = "leased"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is the durable row behind one accepted inbound text message. A row is
// leased by at most one worker at a time; a lease that expires without an ack
// makes the row eligible for redelivery.
type Job struct {
	ID             string     `json:"id"              gorm:"type:char(36);primaryKey"`
	FromIdentifier string     `json:"from_identifier" gorm:"type:varchar(56);not null"`
	QueryText      string     `json:"query_text"      gorm:"type:text;not null"`
	Status         JobStatus  `json:"status"          gorm:"type:varchar(16);not null;default:'pending';index:idx_jobs_claim,priority:1;check:status IN ('pending','leased','done','failed')"`
	Attempts       int        `json:"attempts"        gorm:"not null;default:0"`
	LeaseUntil     *time.Time `json:"lease_until,omitempty"`
	LastError      string     `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at"      gorm:"index:idx_jobs_claim,priority:2"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }
