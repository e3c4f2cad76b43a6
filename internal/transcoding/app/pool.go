// Package app runs transcoding jobs: the worker pool, the job processor and the submission use case.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/internal/transcoding/playlist"
	"video_transcoding_service/internal/transcoding/quality"
	"video_transcoding_service/internal/transcoding/retry"
	"video_transcoding_service/pkg/logger"

	"go.uber.org/zap"
)

// PoolConfig definition worker pool setting
type PoolConfig struct {
	WorkerID           string
	Concurrency        int
	ReconnectInterval  time.Duration
	LeaseTTL           time.Duration
	LeaseRetryDelay    time.Duration
	HeartbeatInterval  time.Duration
	HeartbeatThreshold time.Duration
	ProgressInterval   time.Duration
	// Catalog requested set for jobs that carry no qualities
	Catalog []domain.QualityProfile
}

// Deps definition collaborators of the pool; Events, Output, Records and Heartbeat are optional
type Deps struct {
	Status     StatusStore
	Queue      JobQueue
	Lease      LeaseLocker
	Heartbeat  Heartbeater
	Encoder    Encoder
	Resolver   *quality.Resolver
	Validator  *playlist.Validator
	Classifier *retry.Classifier
	History    *retry.History
	Events     EventPublisher
	Output     OutputPublisher
	Records    JobRecorder
}

// Health definition pool health snapshot
type Health struct {
	WorkerID      string    `json:"worker_id"`
	Healthy       bool      `json:"healthy"`
	Reason        string    `json:"reason,omitempty"`
	Concurrency   int       `json:"concurrency"`
	ActiveJobs    int       `json:"active_jobs"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
}

// Pool fixed-size worker pool consuming the job queue
type Pool struct {
	cfg  PoolConfig
	deps Deps

	sleep func(ctx context.Context, d time.Duration) bool
	now   func() time.Time

	mu       sync.RWMutex
	healthy  bool
	reason   string
	active   int
	lastBeat time.Time
}

// NewPool build a pool; Status, Queue, Lease and Encoder are required
func NewPool(cfg PoolConfig, deps Deps) (*Pool, error) {
	if deps.Status == nil || deps.Queue == nil || deps.Lease == nil || deps.Encoder == nil {
		return nil, errors.New("worker pool needs a status store, a queue, a lease locker and an encoder")
	}
	if cfg.WorkerID == "" {
		return nil, errors.New("worker pool needs a worker id")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.HeartbeatThreshold <= 0 {
		cfg.HeartbeatThreshold = 3 * cfg.HeartbeatInterval
	}
	if len(cfg.Catalog) == 0 {
		cfg.Catalog = domain.DefaultCatalog()
	}

	if deps.Resolver == nil {
		deps.Resolver = quality.NewResolver(quality.DefaultTolerance)
	}
	if deps.Validator == nil {
		deps.Validator = playlist.NewValidator()
	}
	if deps.Classifier == nil {
		deps.Classifier = retry.NewClassifier(nil)
	}
	if deps.History == nil {
		deps.History = retry.NewHistory(0, 0)
	}
	if deps.Events == nil {
		deps.Events = nopEvents{}
	}
	if deps.Output == nil {
		deps.Output = nopOutput{}
	}
	if deps.Records == nil {
		deps.Records = nopRecorder{}
	}

	return &Pool{
		cfg:    cfg,
		deps:   deps,
		sleep:  sleepCtx,
		now:    time.Now,
		reason: "starting",
	}, nil
}

// Run consume until ctx is done. Failed preflight or a lost queue connection mark the
// pool unhealthy and are retried every ReconnectInterval; Run never gives up on them.
func (p *Pool) Run(ctx context.Context) error {
	go p.heartbeatLoop(ctx)

	for {
		if err := p.preflight(ctx); err != nil {
			p.setHealth(false, err.Error())
			logger.Log.Error("worker pool preflight failed", zap.String("worker_id", p.cfg.WorkerID), zap.Error(err))
			if !p.sleep(ctx, p.cfg.ReconnectInterval) {
				return nil
			}
			continue
		}

		deliveries, err := p.deps.Queue.Consume(ctx, p.cfg.Concurrency)
		if err != nil {
			p.setHealth(false, err.Error())
			logger.Log.Error("queue consume failed", zap.String("worker_id", p.cfg.WorkerID), zap.Error(err))
			if !p.sleep(ctx, p.cfg.ReconnectInterval) {
				return nil
			}
			continue
		}

		p.setHealth(true, "")
		p.beat(ctx)
		logger.Log.Info("worker pool consuming", zap.String("worker_id", p.cfg.WorkerID), zap.Int("concurrency", p.cfg.Concurrency))
		p.consume(ctx, deliveries)

		if ctx.Err() != nil {
			logger.Log.Info("worker pool stopped", zap.String("worker_id", p.cfg.WorkerID))
			return nil
		}
		p.setHealth(false, "queue delivery channel closed")
		logger.Log.Warn("queue delivery channel closed, reconnecting", zap.String("worker_id", p.cfg.WorkerID))
		if !p.sleep(ctx, p.cfg.ReconnectInterval) {
			return nil
		}
	}
}

func (p *Pool) preflight(ctx context.Context) error {
	if err := p.deps.Encoder.CheckAvailable(ctx); err != nil {
		return err
	}
	if err := p.deps.Queue.Ping(ctx); err != nil {
		return fmt.Errorf("queue unhealthy: %w", err)
	}
	if s, ok := p.deps.Status.(pinger); ok {
		if err := s.Ping(ctx); err != nil {
			return fmt.Errorf("status store unhealthy: %w", err)
		}
	}
	return nil
}

// consume run Concurrency workers until deliveries closes or ctx is done
func (p *Pool) consume(ctx context.Context, deliveries <-chan Delivery) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					p.handle(ctx, d)
				}
			}
		}()
	}
	wg.Wait()
}

// handle process one delivery and settle it
func (p *Pool) handle(ctx context.Context, d Delivery) {
	var job domain.TranscodingJob
	if err := json.Unmarshal(d.Body(), &job); err != nil {
		logger.Log.Error("malformed job message dropped", zap.String("worker_id", p.cfg.WorkerID), zap.Error(err))
		p.settle(job.JobID, d.Nack(false))
		return
	}
	if err := job.Validate(); err != nil {
		p.rejectInvalid(ctx, job, err)
		p.settle(job.JobID, d.Nack(false))
		return
	}

	if d.Redelivered() {
		logger.Log.Info("redelivered job message",
			zap.String("job_id", job.JobID),
			zap.String("submission_id", job.SubmissionID),
			zap.String("worker_id", p.cfg.WorkerID),
		)
	}

	p.addActive(1)
	defer p.addActive(-1)

	switch p.process(ctx, job) {
	case outcomeDone:
		p.settle(job.JobID, d.Ack())
	case outcomeRetryLater:
		p.sleep(ctx, p.cfg.LeaseRetryDelay)
		p.settle(job.JobID, d.Nack(true))
	case outcomeShutdown:
		p.settle(job.JobID, d.Nack(true))
	}
}

func (p *Pool) settle(jobID string, err error) {
	if err != nil {
		logger.Log.Warn("settle delivery failed, broker will redeliver", zap.String("job_id", jobID), zap.Error(err))
	}
}

// rejectInvalid record a job the worker cannot run; messages without a job id only reach the log
func (p *Pool) rejectInvalid(ctx context.Context, job domain.TranscodingJob, err error) {
	logger.Log.Error("invalid job message dropped", zap.String("job_id", job.JobID), zap.Error(err))
	if job.JobID == "" {
		return
	}
	ce := p.deps.Classifier.Classify(err, job.JobID, domain.StageDequeue, nil)
	p.deps.History.Record(ce)
	run := &jobRun{job: job, tracker: &progressTracker{}, started: p.now()}
	_ = p.setStatus(ctx, run, domain.StatusFailed, 0, "rejected: invalid job", &ce)
}

// Health current health snapshot
func (p *Pool) Health() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Health{
		WorkerID:      p.cfg.WorkerID,
		Healthy:       p.healthy,
		Reason:        p.reason,
		Concurrency:   p.cfg.Concurrency,
		ActiveJobs:    p.active,
		LastHeartbeat: p.lastBeat,
	}
}

// WorkerID id used for leases and heartbeats
func (p *Pool) WorkerID() string {
	return p.cfg.WorkerID
}

func (p *Pool) setHealth(healthy bool, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
	p.reason = reason
}

func (p *Pool) addActive(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active += n
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
