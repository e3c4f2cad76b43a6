package domain

import "time"

// JobStatus definition job lifecycle status
type JobStatus string

const (
	// StatusQueued job accepted, waiting for a worker
	StatusQueued JobStatus = "QUEUED"
	// StatusProcessing owned by a worker
	StatusProcessing JobStatus = "PROCESSING"
	// StatusCompleted every retained quality validated
	StatusCompleted JobStatus = "COMPLETED"
	// StatusFailed terminal failure
	StatusFailed JobStatus = "FAILED"
)

// Terminal true for COMPLETED and FAILED
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobProgress definition status store value
type JobProgress struct {
	JobID        string    `json:"job_id"`
	SubmissionID string    `json:"submission_id"`
	Status       JobStatus `json:"status"`
	Progress     float64   `json:"progress"`
	CurrentStep  string    `json:"current_step"`
	Error        string    `json:"error,omitempty"`
	ErrorType    ErrorType `json:"error_type,omitempty"`
	Qualities    []string  `json:"qualities,omitempty"`
	WorkerID     string    `json:"worker_id,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// JobStatusRes status query response
type JobStatusRes struct {
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	Progress    float64   `json:"progress"`
	CurrentStep string    `json:"current_step"`
	Error       string    `json:"error,omitempty"`
	ErrorType   ErrorType `json:"error_type,omitempty"`
}
