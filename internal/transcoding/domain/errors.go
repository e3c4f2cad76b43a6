package domain

import (
	"errors"
	"time"
)

var (
	// ErrJobNotFound no status entry for the job id
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidJob job message or request is malformed
	ErrInvalidJob = errors.New("invalid job")
	// ErrNoValidQuality nothing left after quality resolution
	ErrNoValidQuality = errors.New("no valid quality for this input")
	// ErrLeaseHeld another worker owns the job
	ErrLeaseHeld = errors.New("job lease held by another worker")
	// ErrSuperseded a newer submission owns the job's status entry
	ErrSuperseded = errors.New("submission superseded")
	// ErrOutputInvalid output tree failed validation
	ErrOutputInvalid = errors.New("output validation failed")
)

// ErrorType definition failure taxonomy
type ErrorType string

const (
	InputFileError  ErrorType = "INPUT_FILE_ERROR"
	EncoderError    ErrorType = "ENCODER_ERROR"
	StorageError    ErrorType = "STORAGE_ERROR"
	ResourceError   ErrorType = "RESOURCE_ERROR"
	NetworkError    ErrorType = "NETWORK_ERROR"
	TimeoutError    ErrorType = "TIMEOUT_ERROR"
	ValidationError ErrorType = "VALIDATION_ERROR"
	UnknownError    ErrorType = "UNKNOWN_ERROR"
)

// ErrorTypes every class, in reporting order
func ErrorTypes() []ErrorType {
	return []ErrorType{
		InputFileError, EncoderError, StorageError, ResourceError,
		NetworkError, TimeoutError, ValidationError, UnknownError,
	}
}

// Severity definition operator facing severity
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Stage definition pipeline stage a failure happened in
type Stage string

const (
	StageDequeue  Stage = "dequeue"
	StageProbe    Stage = "probe"
	StageResolve  Stage = "resolve_qualities"
	StagePrepare  Stage = "prepare_output"
	StageEncode   Stage = "encode"
	StagePlaylist Stage = "playlist"
	StageValidate Stage = "validate"
	StagePublish  Stage = "publish"
	StageStatus   Stage = "status_update"
	StageSubmit   Stage = "submit"
	StageFinalize Stage = "finalize"
)

// ClassifiedError definition one classified failure, never mutated after creation
type ClassifiedError struct {
	Type      ErrorType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	JobID     string            `json:"job_id"`
	Stage     Stage             `json:"stage"`
	Context   map[string]string `json:"context,omitempty"`
	Actions   []string          `json:"actions,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func (e ClassifiedError) Error() string {
	return string(e.Type) + ": " + e.Message
}
