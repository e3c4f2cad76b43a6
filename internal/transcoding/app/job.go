package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/internal/transcoding/encoder"
	"video_transcoding_service/internal/transcoding/playlist"
	"video_transcoding_service/pkg/logger"

	"go.uber.org/zap"
)

type outcome int

const (
	// outcomeDone ack, the job reached a terminal state or needs no work
	outcomeDone outcome = iota
	// outcomeRetryLater requeue after LeaseRetryDelay
	outcomeRetryLater
	// outcomeShutdown requeue now, the worker is stopping
	outcomeShutdown
)

// progress bands of a run
const (
	progressResolved = 5.0
	progressEncoded  = 90.0
	progressMaster   = 92.0
	progressValidate = 95.0
	progressPublish  = 98.0
)

var errSuperseded = domain.ErrSuperseded

// jobRun state of one delivery kept across retries
type jobRun struct {
	job       domain.TranscodingJob
	attempt   int
	started   time.Time
	tracker   *progressTracker
	qualities []string
	// spent retries per error class
	spent map[domain.ErrorType]int
	// abort cancels the run's context with the reason it can no longer continue
	abort context.CancelCauseFunc
}

// stageError tags a failure with the stage and quality it happened in
type stageError struct {
	stage   domain.Stage
	quality string
	err     error
}

func (e *stageError) Error() string { return e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func atStage(stage domain.Stage, q string, err error) error {
	return &stageError{stage: stage, quality: q, err: err}
}

// process run one job end to end, retrying in place per the policy
func (p *Pool) process(ctx context.Context, job domain.TranscodingJob) outcome {
	log := logger.Log.With(
		zap.String("job_id", job.JobID),
		zap.String("submission_id", job.SubmissionID),
		zap.String("worker_id", p.cfg.WorkerID),
	)

	current, err := p.deps.Status.Get(ctx, job.JobID)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
	case err != nil:
		log.Warn("status store unavailable, job requeued", zap.Error(err))
		return outcomeRetryLater
	case superseded(current, job):
		log.Info("superseded submission dropped", zap.String("current_submission_id", current.SubmissionID))
		return outcomeDone
	case current.SubmissionID == job.SubmissionID && current.Status.Terminal():
		log.Info("submission already finished, redelivery skipped", zap.String("status", string(current.Status)))
		return outcomeDone
	}

	held, err := p.deps.Lease.Acquire(ctx, job.JobID, p.cfg.WorkerID, p.cfg.LeaseTTL)
	if err != nil {
		log.Warn("lease acquire failed, job requeued", zap.Error(err))
		return outcomeRetryLater
	}
	if !held {
		log.Info("job lease held by another worker, job requeued")
		return outcomeRetryLater
	}
	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	stop := p.keepLease(runCtx, abort, job.JobID, log)
	defer stop()

	return p.runWithRetry(runCtx, abort, job, log)
}

// aborted outcome of a run whose context is done: a superseded submission is dropped,
// a lost lease is requeued for whoever owns the job now, anything else is a shutdown
func aborted(ctx context.Context, log *logger.LogInfo) outcome {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errSuperseded):
		log.Info("submission superseded while running, abandoned")
		return outcomeDone
	case errors.Is(cause, domain.ErrLeaseHeld):
		log.Warn("job lease lost while running, abandoned and requeued")
		return outcomeRetryLater
	}
	log.Warn("worker stopping, job left for redelivery", zap.NamedError("cause", cause))
	return outcomeShutdown
}

func superseded(current domain.JobProgress, job domain.TranscodingJob) bool {
	return current.SubmissionID != "" && job.SubmissionID != "" && current.SubmissionID != job.SubmissionID
}

// keepLease refresh the lease every LeaseTTL/3 and abort the run once another owner holds it.
// The returned func stops refreshing and releases the lease.
func (p *Pool) keepLease(ctx context.Context, abort context.CancelCauseFunc, jobID string, log *logger.LogInfo) func() {
	refreshCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.cfg.LeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				err := p.deps.Lease.Refresh(refreshCtx, jobID, p.cfg.WorkerID, p.cfg.LeaseTTL)
				switch {
				case err == nil || refreshCtx.Err() != nil:
				case errors.Is(err, domain.ErrLeaseHeld):
					log.Error("job lease lost, stopping the run", zap.Error(err))
					abort(domain.ErrLeaseHeld)
					return
				default:
					log.Warn("lease refresh failed", zap.Error(err))
				}
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
		releaseCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := p.deps.Lease.Release(releaseCtx, jobID, p.cfg.WorkerID); err != nil {
			log.Warn("lease release failed, it expires on its own", zap.Error(err))
		}
	}
}

func (p *Pool) runWithRetry(ctx context.Context, abort context.CancelCauseFunc, job domain.TranscodingJob, log *logger.LogInfo) outcome {
	run := &jobRun{
		job:     job,
		started: p.now().UTC(),
		tracker: &progressTracker{},
		spent:   make(map[domain.ErrorType]int),
		abort:   abort,
	}
	policy := p.deps.Classifier.Policy()
	p.emit(ctx, run, domain.StatusProcessing, nil)

	for {
		run.attempt++
		alog := log.With(zap.Int("attempt", run.attempt))

		qualities, err := p.runOnce(ctx, run, alog)
		if err == nil {
			return p.complete(ctx, run, qualities, alog)
		}
		if ctx.Err() != nil {
			return aborted(ctx, alog.With(zap.Error(err)))
		}
		if errors.Is(err, errSuperseded) {
			alog.Info("submission superseded while running, abandoned")
			return outcomeDone
		}

		ce := p.classify(err, job.JobID)
		p.deps.History.Record(ce)
		alog = alog.With(zap.String("error_type", string(ce.Type)), zap.String("stage", string(ce.Stage)))

		used := run.spent[ce.Type]
		if !policy.ShouldRetry(ce.Type, used) {
			alog.Error("job failed", zap.String("error", ce.Message), zap.Int("retries", used))
			return p.fail(ctx, run, ce, alog)
		}
		run.spent[ce.Type] = used + 1
		delay := policy.Delay(ce.Type, used+1)

		alog.Warn("job attempt failed, retrying", zap.String("error", ce.Message), zap.Duration("delay", delay))
		step := fmt.Sprintf("retry %d/%d after %s in %s", used+1, policy.Strategy(ce.Type).MaxRetries, ce.Type, delay)
		_ = p.setStatus(ctx, run, domain.StatusProcessing, run.tracker.current(), step, &ce)

		if !p.sleep(ctx, delay) {
			return aborted(ctx, alog)
		}
	}
}

func (p *Pool) classify(err error, jobID string) domain.ClassifiedError {
	stage := domain.StageFinalize
	var fields map[string]string

	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
		if se.quality != "" {
			fields = map[string]string{"quality": se.quality}
		}
	}
	return p.deps.Classifier.Classify(err, jobID, stage, fields)
}

// runOnce one full pass: probe, resolve, encode every quality, playlists, validate, publish
func (p *Pool) runOnce(ctx context.Context, run *jobRun, log *logger.LogInfo) ([]domain.QualityProfile, error) {
	job := run.job

	p.setProgress(ctx, run, 0, "probing input")
	info, err := p.deps.Encoder.Probe(ctx, job.InputPath)
	if err != nil {
		return nil, atStage(domain.StageProbe, "", err)
	}

	requested := job.Qualities
	if len(requested) == 0 {
		requested = p.cfg.Catalog
	}
	qualities, err := p.deps.Resolver.Resolve(info.Resolution, requested)
	if err != nil {
		return nil, atStage(domain.StageResolve, "", err)
	}
	names := domain.QualityNames(qualities)
	log.Info("qualities resolved",
		zap.String("source", info.Resolution.String()),
		zap.Float64("duration", info.Duration),
		zap.Strings("qualities", names),
	)

	if err := prepareOutput(job.OutputPath, requested, qualities); err != nil {
		return nil, atStage(domain.StagePrepare, "", err)
	}
	p.setProgress(ctx, run, progressResolved, "qualities resolved: "+strings.Join(names, ","))

	variants := make([]playlist.Variant, 0, len(qualities))
	for i, q := range qualities {
		if err := p.checkCurrent(ctx, job); err != nil {
			return nil, err
		}

		n := len(qualities)
		step := fmt.Sprintf("encoding %s (%d/%d)", q.Name, i+1, n)
		p.setProgress(ctx, run, encodeProgress(i, 0, n), step)

		reporter := NewProgressReporter(p.cfg.ProgressInterval, func(pct float64) {
			p.setProgress(ctx, run, encodeProgress(i, pct, n), step)
		})
		dir := filepath.Join(job.OutputPath, q.Name)
		segments, err := p.deps.Encoder.Transcode(ctx, encoder.Request{
			JobID:     job.JobID,
			InputPath: job.InputPath,
			OutputDir: dir,
			Quality:   q,
			Duration:  info.Duration,
		}, reporter)
		reporter.Close()
		if err != nil {
			return nil, atStage(domain.StageEncode, q.Name, err)
		}

		if err := playlist.WriteMedia(dir, segments, true); err != nil {
			return nil, atStage(domain.StagePlaylist, q.Name, err)
		}
		variants = append(variants, playlist.VariantFor(q))
		log.Info("quality encoded", zap.String("quality", q.Name), zap.Int("segments", len(segments)), zap.Bool("rescaled", q.Rescaled))
	}

	p.setProgress(ctx, run, progressMaster, "writing master playlist")
	if err := playlist.WriteMaster(job.OutputPath, variants); err != nil {
		return nil, atStage(domain.StagePlaylist, "", err)
	}

	p.setProgress(ctx, run, progressValidate, "validating output")
	res := p.deps.Validator.Validate(job.OutputPath, names)
	if !res.Valid {
		return nil, atStage(domain.StageValidate, "", fmt.Errorf("%w: %s", domain.ErrOutputInvalid, strings.Join(res.Issues, "; ")))
	}

	p.setProgress(ctx, run, progressPublish, "publishing output")
	if err := p.deps.Output.PublishOutput(ctx, job.JobID, job.OutputPath); err != nil {
		return nil, atStage(domain.StagePublish, "", err)
	}
	return qualities, nil
}

// encodeProgress overall progress while quality i of n is pct done
func encodeProgress(i int, pct float64, n int) float64 {
	if n <= 0 {
		return progressResolved
	}
	return progressResolved + (progressEncoded-progressResolved)*(float64(i)+pct/100)/float64(n)
}

// prepareOutput drop the master playlist and every requested or retained quality dir,
// so a rerun starts from scratch and never appends to earlier output
func prepareOutput(root string, requested, retained []domain.QualityProfile) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create output dir %s: %w", root, err)
	}
	master := filepath.Join(root, playlist.MasterFileName)
	if err := os.Remove(master); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale %s: %v", master, err)
	}
	for _, set := range [][]domain.QualityProfile{requested, retained} {
		for _, q := range set {
			dir := filepath.Join(root, q.Name)
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("remove stale %s: %v", dir, err)
			}
		}
	}
	return nil
}

// checkCurrent errSuperseded once a newer submission owns the status entry,
// the abort cause once the run's context is done
func (p *Pool) checkCurrent(ctx context.Context, job domain.TranscodingJob) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	current, err := p.deps.Status.Get(ctx, job.JobID)
	if err != nil {
		return nil
	}
	if superseded(current, job) {
		return errSuperseded
	}
	return nil
}

func (p *Pool) complete(ctx context.Context, run *jobRun, qualities []domain.QualityProfile, log *logger.LogInfo) outcome {
	if err := p.checkCurrent(ctx, run.job); err != nil {
		if ctx.Err() != nil {
			return aborted(ctx, log)
		}
		log.Info("submission superseded before completion, abandoned")
		return outcomeDone
	}
	run.qualities = domain.QualityNames(qualities)

	if err := p.setStatus(ctx, run, domain.StatusCompleted, run.tracker.next(100), "completed", nil); err != nil {
		if ctx.Err() != nil {
			return aborted(ctx, log)
		}
		log.Error("completed status not stored, job requeued", zap.Error(err))
		return outcomeRetryLater
	}
	log.Info("job completed", zap.Strings("qualities", run.qualities), zap.Duration("took", p.now().Sub(run.started)))

	p.emit(ctx, run, domain.StatusCompleted, nil)
	p.record(ctx, run, domain.StatusCompleted, nil)
	return outcomeDone
}

func (p *Pool) fail(ctx context.Context, run *jobRun, ce domain.ClassifiedError, log *logger.LogInfo) outcome {
	step := fmt.Sprintf("failed at %s", ce.Stage)
	if err := p.setStatus(ctx, run, domain.StatusFailed, run.tracker.current(), step, &ce); err != nil {
		if ctx.Err() != nil {
			return aborted(ctx, log)
		}
		log.Error("failed status not stored, job requeued", zap.Error(err))
		return outcomeRetryLater
	}
	p.emit(ctx, run, domain.StatusFailed, &ce)
	p.record(ctx, run, domain.StatusFailed, &ce)
	return outcomeDone
}

// setProgress PROCESSING write with progress clamped to be non-decreasing
func (p *Pool) setProgress(ctx context.Context, run *jobRun, progress float64, step string) {
	_ = p.setStatus(ctx, run, domain.StatusProcessing, run.tracker.next(progress), step, nil)
}

func (p *Pool) setStatus(ctx context.Context, run *jobRun, status domain.JobStatus, progress float64, step string, ce *domain.ClassifiedError) error {
	entry := domain.JobProgress{
		JobID:        run.job.JobID,
		SubmissionID: run.job.SubmissionID,
		Status:       status,
		Progress:     progress,
		CurrentStep:  step,
		WorkerID:     p.cfg.WorkerID,
		Attempt:      run.attempt,
		UpdatedAt:    p.now().UTC(),
	}
	if ce != nil {
		entry.Error = ce.Message
		entry.ErrorType = ce.Type
	}
	if status == domain.StatusCompleted {
		entry.Qualities = run.qualities
	}

	err := p.deps.Status.Update(ctx, entry)
	if errors.Is(err, errSuperseded) {
		logger.Log.Info("status entry owned by a newer submission, write dropped",
			zap.String("job_id", run.job.JobID),
			zap.String("submission_id", run.job.SubmissionID),
		)
		if run.abort != nil {
			run.abort(errSuperseded)
		}
		return err
	}
	if err != nil {
		logger.Log.Warn("status update failed",
			zap.String("job_id", run.job.JobID),
			zap.String("status", string(status)),
			zap.String("stage", string(domain.StageStatus)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (p *Pool) emit(ctx context.Context, run *jobRun, status domain.JobStatus, ce *domain.ClassifiedError) {
	event := domain.JobEvent{
		JobID:        run.job.JobID,
		SubmissionID: run.job.SubmissionID,
		Status:       status,
		Qualities:    run.qualities,
		WorkerID:     p.cfg.WorkerID,
		OccurredAt:   p.now().UTC(),
	}
	if ce != nil {
		event.ErrorType = ce.Type
		event.Error = ce.Message
	}
	if err := p.deps.Events.PublishEvent(ctx, event); err != nil {
		logger.Log.Warn("job event not published", zap.String("job_id", run.job.JobID), zap.String("status", string(status)), zap.Error(err))
	}
}

func (p *Pool) record(ctx context.Context, run *jobRun, status domain.JobStatus, ce *domain.ClassifiedError) {
	rec := &domain.JobRecord{
		JobID:        run.job.JobID,
		SubmissionID: run.job.SubmissionID,
		InputPath:    run.job.InputPath,
		OutputPath:   run.job.OutputPath,
		Status:       string(status),
		Qualities:    strings.Join(run.qualities, ","),
		Attempts:     run.attempt,
		WorkerID:     p.cfg.WorkerID,
		StartedAt:    run.started,
		FinishedAt:   p.now().UTC(),
	}
	if ce != nil {
		rec.ErrorType = string(ce.Type)
		rec.Error = ce.Message
	}
	if err := p.deps.Records.SaveRecord(ctx, rec); err != nil {
		logger.Log.Warn("job record not saved", zap.String("job_id", run.job.JobID), zap.Error(err))
	}
}
