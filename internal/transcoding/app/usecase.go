package app

import (
	"context"
	"strings"
	"time"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/internal/transcoding/retry"
	errprocess "video_transcoding_service/pkg/err"
	"video_transcoding_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TranscodeUseCase definition submission, status and diagnostics
type TranscodeUseCase interface {
	Submit(ctx context.Context, req domain.SubmitJobReq) (*domain.SubmitJobRes, error)
	GetStatus(ctx context.Context, jobID string) (*domain.JobStatusRes, error)
	// GetErrors and ErrorStats read the error history of this process only;
	// a process that runs no worker pool always reports an empty history.
	GetErrors(jobID string) []domain.ClassifiedError
	ErrorStats(top int) retry.Stats
	Health(ctx context.Context) Health
}

// HealthSource the running worker pool
type HealthSource interface {
	Health() Health
}

type transcodeUseCase struct {
	status     StatusStore
	queue      JobQueue
	heartbeat  Heartbeater
	classifier *retry.Classifier
	history    *retry.History
	events     EventPublisher
	pool       HealthSource
	catalog    []domain.QualityProfile
	now        func() time.Time
}

// NewTranscodeUseCase deps.Status and deps.Queue are required, pool may be nil for submit-only processes
func NewTranscodeUseCase(deps Deps, pool HealthSource, catalog []domain.QualityProfile) TranscodeUseCase {
	if deps.Classifier == nil {
		deps.Classifier = retry.NewClassifier(nil)
	}
	if deps.History == nil {
		deps.History = retry.NewHistory(0, 0)
	}
	if deps.Events == nil {
		deps.Events = nopEvents{}
	}
	if len(catalog) == 0 {
		catalog = domain.DefaultCatalog()
	}
	return &transcodeUseCase{
		status:     deps.Status,
		queue:      deps.Queue,
		heartbeat:  deps.Heartbeat,
		classifier: deps.Classifier,
		history:    deps.History,
		events:     deps.Events,
		pool:       pool,
		catalog:    catalog,
		now:        time.Now,
	}
}

// Submit write a fresh QUEUED entry, then publish. Submitting a job id again overwrites the
// entry with a new submission id; older messages for the job are dropped by the worker.
func (u *transcodeUseCase) Submit(ctx context.Context, req domain.SubmitJobReq) (*domain.SubmitJobRes, error) {
	job := domain.TranscodingJob{
		JobID:        strings.TrimSpace(req.JobID),
		SubmissionID: uuid.NewString(),
		InputPath:    req.InputPath,
		OutputPath:   req.OutputPath,
		Qualities:    req.Qualities,
		Metadata:     req.Metadata,
		SubmittedAt:  u.now().UTC(),
	}
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if len(job.Qualities) == 0 {
		job.Qualities = u.catalog
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	entry := domain.JobProgress{
		JobID:        job.JobID,
		SubmissionID: job.SubmissionID,
		Status:       domain.StatusQueued,
		CurrentStep:  "queued",
		UpdatedAt:    job.SubmittedAt,
	}
	if err := u.status.Set(ctx, entry); err != nil {
		return nil, errprocess.Wrap("submit job: status write failed", err, zap.String("job_id", job.JobID))
	}
	u.history.Clear(job.JobID)

	if err := u.queue.Publish(ctx, job); err != nil {
		ce := u.classifier.Classify(err, job.JobID, domain.StageSubmit, nil)
		u.history.Record(ce)
		entry.Status = domain.StatusFailed
		entry.CurrentStep = "enqueue failed"
		entry.Error = ce.Message
		entry.ErrorType = ce.Type
		entry.UpdatedAt = u.now().UTC()
		_ = u.status.Set(ctx, entry)
		return nil, errprocess.Wrap("submit job: enqueue failed", err, zap.String("job_id", job.JobID))
	}

	if err := u.events.PublishEvent(ctx, domain.JobEvent{
		JobID:        job.JobID,
		SubmissionID: job.SubmissionID,
		Status:       domain.StatusQueued,
		Qualities:    domain.QualityNames(job.Qualities),
		OccurredAt:   job.SubmittedAt,
	}); err != nil {
		logger.Log.Warn("job event not published", zap.String("job_id", job.JobID), zap.String("status", string(domain.StatusQueued)), zap.Error(err))
	}

	return &domain.SubmitJobRes{
		JobID:        job.JobID,
		SubmissionID: job.SubmissionID,
		Status:       domain.StatusQueued,
		Message:      "job queued",
	}, nil
}

// GetStatus domain.ErrJobNotFound for unknown ids
func (u *transcodeUseCase) GetStatus(ctx context.Context, jobID string) (*domain.JobStatusRes, error) {
	p, err := u.status.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &domain.JobStatusRes{
		JobID:       p.JobID,
		Status:      p.Status,
		Progress:    p.Progress,
		CurrentStep: p.CurrentStep,
		Error:       p.Error,
		ErrorType:   p.ErrorType,
	}, nil
}

// GetErrors classified failures of a job seen by this process, oldest first.
// Failures recorded by workers in other processes are not visible here.
func (u *transcodeUseCase) GetErrors(jobID string) []domain.ClassifiedError {
	return u.history.ForJob(jobID)
}

// ErrorStats statistics over the error history retained by this process
func (u *transcodeUseCase) ErrorStats(top int) retry.Stats {
	return u.history.Stats(top)
}

// Health pool health, unhealthy as well when the heartbeat record went stale
func (u *transcodeUseCase) Health(ctx context.Context) Health {
	if u.pool == nil {
		return Health{Reason: "worker pool not running"}
	}
	h := u.pool.Health()
	if !h.Healthy || u.heartbeat == nil {
		return h
	}

	alive, err := u.heartbeat.Alive(ctx, h.WorkerID)
	switch {
	case err != nil:
		h.Healthy = false
		h.Reason = "heartbeat check failed: " + err.Error()
	case !alive:
		h.Healthy = false
		h.Reason = "heartbeat stale"
	}
	return h
}
