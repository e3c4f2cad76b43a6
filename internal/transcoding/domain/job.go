package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TranscodingJob definition job message carried by the queue
type TranscodingJob struct {
	JobID        string            `json:"job_id"`
	SubmissionID string            `json:"submission_id"`
	InputPath    string            `json:"input_path"`
	OutputPath   string            `json:"output_path"`
	Qualities    []QualityProfile  `json:"qualities"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	SubmittedAt  time.Time         `json:"submitted_at"`
}

// SubmitJobReq usecase submit request
type SubmitJobReq struct {
	JobID      string            `json:"job_id"`
	InputPath  string            `json:"input_path"`
	OutputPath string            `json:"output_path"`
	Qualities  []QualityProfile  `json:"qualities"`
	Metadata   map[string]string `json:"metadata"`
}

// SubmitJobRes usecase submit response
type SubmitJobRes struct {
	JobID        string    `json:"job_id"`
	SubmissionID string    `json:"submission_id"`
	Status       JobStatus `json:"status"`
	Message      string    `json:"message"`
}

// Validate check the fields a worker cannot run without
func (j TranscodingJob) Validate() error {
	if strings.TrimSpace(j.JobID) == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidJob)
	}
	if strings.TrimSpace(j.InputPath) == "" {
		return fmt.Errorf("%w: input_path is required", ErrInvalidJob)
	}
	out := strings.TrimSpace(j.OutputPath)
	if out == "" {
		return fmt.Errorf("%w: output_path is required", ErrInvalidJob)
	}
	if clean := filepath.Clean(out); clean == "/" || clean == "." {
		return fmt.Errorf("%w: output_path %q is not a job directory", ErrInvalidJob, out)
	}
	for _, q := range j.Qualities {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}
