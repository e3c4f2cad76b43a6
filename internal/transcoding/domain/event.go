package domain

import "time"

// JobEvent definition lifecycle event published for other services
type JobEvent struct {
	JobID        string    `json:"job_id"`
	SubmissionID string    `json:"submission_id"`
	Status       JobStatus `json:"status"`
	Qualities    []string  `json:"qualities,omitempty"`
	ErrorType    ErrorType `json:"error_type,omitempty"`
	Error        string    `json:"error,omitempty"`
	WorkerID     string    `json:"worker_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// JobRecord definition terminal outcome of a job
type JobRecord struct {
	JobID        string `gorm:"primaryKey;size:128"`
	SubmissionID string `gorm:"size:64"`
	InputPath    string
	OutputPath   string
	Status       string `gorm:"size:16;index"`
	Qualities    string // comma separated, ascending bandwidth
	Attempts     int
	ErrorType    string `gorm:"size:32"`
	Error        string
	WorkerID     string `gorm:"size:128"`
	StartedAt    time.Time
	FinishedAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
