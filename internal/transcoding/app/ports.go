package app

import (
	"context"
	"time"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/internal/transcoding/encoder"
)

// pinger optional reachability check, run by the pool preflight
type pinger interface {
	Ping(ctx context.Context) error
}

// StatusStore definition per-job progress storage
type StatusStore interface {
	// Set unconditional write, used by submission
	Set(ctx context.Context, p domain.JobProgress) error
	// Update write only while the stored entry is missing or belongs to p.SubmissionID,
	// otherwise domain.ErrSuperseded and the entry is left untouched
	Update(ctx context.Context, p domain.JobProgress) error
	// Get returns domain.ErrJobNotFound when no entry exists
	Get(ctx context.Context, jobID string) (domain.JobProgress, error)
}

// Delivery one queue message, acknowledged exactly once
type Delivery interface {
	Body() []byte
	Redelivered() bool
	Ack() error
	Nack(requeue bool) error
}

// JobQueue definition durable at-least-once job queue
type JobQueue interface {
	Publish(ctx context.Context, job domain.TranscodingJob) error
	// Consume the channel is closed when the connection is lost or ctx is done
	Consume(ctx context.Context, prefetch int) (<-chan Delivery, error)
	Ping(ctx context.Context) error
}

// LeaseLocker definition one owner per job id
type LeaseLocker interface {
	Acquire(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, jobID, owner string, ttl time.Duration) error
	Release(ctx context.Context, jobID, owner string) error
}

// Heartbeater definition worker liveness record
type Heartbeater interface {
	Beat(ctx context.Context, workerID string, ttl time.Duration) error
	Alive(ctx context.Context, workerID string) (bool, error)
}

// Encoder definition encoder driver used by the worker
type Encoder interface {
	CheckAvailable(ctx context.Context) error
	Probe(ctx context.Context, input string) (domain.MediaInfo, error)
	Transcode(ctx context.Context, req encoder.Request, observer encoder.ProgressObserver) ([]domain.SegmentInfo, error)
}

// EventPublisher definition job lifecycle events
type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.JobEvent) error
}

// OutputPublisher definition mirror of a validated output tree
type OutputPublisher interface {
	PublishOutput(ctx context.Context, jobID, outputDir string) error
}

// JobRecorder definition terminal job outcomes
type JobRecorder interface {
	SaveRecord(ctx context.Context, record *domain.JobRecord) error
}

type nopEvents struct{}

func (nopEvents) PublishEvent(context.Context, domain.JobEvent) error { return nil }

type nopOutput struct{}

func (nopOutput) PublishOutput(context.Context, string, string) error { return nil }

type nopRecorder struct{}

func (nopRecorder) SaveRecord(context.Context, *domain.JobRecord) error { return nil }
