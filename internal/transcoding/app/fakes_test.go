package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/internal/transcoding/encoder"
	"video_transcoding_service/internal/transcoding/retry"
	"video_transcoding_service/pkg/logger"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memStatus StatusStore keeping every write
type memStatus struct {
	mu      sync.Mutex
	entries map[string]domain.JobProgress
	writes  []domain.JobProgress
	setErr  error
	pingErr error
}

func newMemStatus() *memStatus {
	return &memStatus{entries: make(map[string]domain.JobProgress)}
}

func (s *memStatus) Set(_ context.Context, p domain.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.entries[p.JobID] = p
	s.writes = append(s.writes, p)
	return nil
}

func (s *memStatus) Update(_ context.Context, p domain.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	if cur, ok := s.entries[p.JobID]; ok && cur.SubmissionID != "" && p.SubmissionID != "" && cur.SubmissionID != p.SubmissionID {
		return domain.ErrSuperseded
	}
	s.entries[p.JobID] = p
	s.writes = append(s.writes, p)
	return nil
}

func (s *memStatus) Get(_ context.Context, jobID string) (domain.JobProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[jobID]
	if !ok {
		return p, domain.ErrJobNotFound
	}
	return p, nil
}

func (s *memStatus) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *memStatus) history(jobID string) []domain.JobProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.JobProgress
	for _, w := range s.writes {
		if w.JobID == jobID {
			out = append(out, w)
		}
	}
	return out
}

// memLease LeaseLocker with SETNX semantics
type memLease struct {
	mu         sync.Mutex
	owners     map[string]string
	refreshErr error
}

func newMemLease() *memLease {
	return &memLease{owners: make(map[string]string)}
}

func (l *memLease) Acquire(_ context.Context, jobID, owner string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.owners[jobID]; ok {
		return false, nil
	}
	l.owners[jobID] = owner
	return true, nil
}

func (l *memLease) Refresh(context.Context, string, string, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshErr
}

func (l *memLease) Release(_ context.Context, jobID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[jobID] == owner {
		delete(l.owners, jobID)
	}
	return nil
}

// memHeartbeat Heartbeater counting beats
type memHeartbeat struct {
	mu    sync.Mutex
	beats int
	alive bool
}

func (h *memHeartbeat) Beat(context.Context, string, time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.beats++
	h.alive = true
	return nil
}

func (h *memHeartbeat) Alive(context.Context, string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive, nil
}

// MockJobQueue JobQueue mock
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Publish(ctx context.Context, job domain.TranscodingJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobQueue) Consume(ctx context.Context, prefetch int) (<-chan Delivery, error) {
	args := m.Called(ctx, prefetch)
	ch, _ := args.Get(0).(<-chan Delivery)
	return ch, args.Error(1)
}

func (m *MockJobQueue) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// memQueue JobQueue keeping published jobs
type memQueue struct {
	mu        sync.Mutex
	published []domain.TranscodingJob
}

func (q *memQueue) Publish(_ context.Context, job domain.TranscodingJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, job)
	return nil
}

func (q *memQueue) Consume(context.Context, int) (<-chan Delivery, error) {
	ch := make(chan Delivery)
	close(ch)
	return ch, nil
}

func (q *memQueue) Ping(context.Context) error { return nil }

// fakeDelivery records how it was settled
type fakeDelivery struct {
	body        []byte
	redelivered bool
	acked       bool
	nacked      bool
	requeued    bool
}

func (d *fakeDelivery) Body() []byte      { return d.body }
func (d *fakeDelivery) Redelivered() bool { return d.redelivered }

func (d *fakeDelivery) Ack() error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(requeue bool) error {
	d.nacked = true
	d.requeued = requeue
	return nil
}

func deliveryOf(t *testing.T, job domain.TranscodingJob) *fakeDelivery {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return &fakeDelivery{body: body}
}

// fakeEncoder writes two segments per quality and fails qualities listed in fail
type fakeEncoder struct {
	mu        sync.Mutex
	info      domain.MediaInfo
	probeErr  error
	checkErrs []error
	checks    int
	fail      map[string]error
	calls     map[string]int
	// during runs mid-encode, its error fails the quality
	during func(ctx context.Context, req encoder.Request) error
}

func newFakeEncoder(w, h int) *fakeEncoder {
	return &fakeEncoder{
		info:  domain.MediaInfo{Resolution: domain.Resolution{Width: w, Height: h}, Duration: 8},
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (e *fakeEncoder) CheckAvailable(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks++
	if len(e.checkErrs) > 0 {
		err := e.checkErrs[0]
		e.checkErrs = e.checkErrs[1:]
		return err
	}
	return nil
}

func (e *fakeEncoder) Probe(context.Context, string) (domain.MediaInfo, error) {
	return e.info, e.probeErr
}

func (e *fakeEncoder) Transcode(ctx context.Context, req encoder.Request, obs encoder.ProgressObserver) ([]domain.SegmentInfo, error) {
	e.mu.Lock()
	e.calls[req.Quality.Name]++
	err := e.fail[req.Quality.Name]
	during := e.during
	e.mu.Unlock()

	obs.Report(25)
	if during != nil && err == nil {
		err = during(ctx, req)
	}
	for _, v := range []float64{50, 75} {
		obs.Report(v)
	}
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, err
	}
	segments := make([]domain.SegmentInfo, 0, 2)
	for i := 0; i < 2; i++ {
		name := fmt.Sprintf("segment_%03d.ts", i)
		if err := os.WriteFile(filepath.Join(req.OutputDir, name), []byte("ts"), 0644); err != nil {
			return nil, err
		}
		segments = append(segments, domain.SegmentInfo{Filename: name, Duration: 4})
	}
	obs.Report(100)
	return segments, nil
}

func (e *fakeEncoder) callsFor(q string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[q]
}

// harness pool wired to in-memory fakes, sleeps are recorded instead of waited
type harness struct {
	pool    *Pool
	status  *memStatus
	lease   *memLease
	beat    *memHeartbeat
	enc     *fakeEncoder
	queue   JobQueue
	history *retry.History

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, enc *fakeEncoder, queue JobQueue) *harness {
	t.Helper()
	logger.SetNewNop()

	if queue == nil {
		queue = &memQueue{}
	}
	h := &harness{
		status:  newMemStatus(),
		lease:   newMemLease(),
		beat:    &memHeartbeat{},
		enc:     enc,
		queue:   queue,
		history: retry.NewHistory(10, 100),
	}
	pool, err := NewPool(PoolConfig{
		WorkerID:         "worker-test",
		Concurrency:      1,
		LeaseRetryDelay:  10 * time.Second,
		ProgressInterval: time.Millisecond,
	}, Deps{
		Status:    h.status,
		Queue:     queue,
		Lease:     h.lease,
		Heartbeat: h.beat,
		Encoder:   enc,
		History:   h.history,
	})
	require.NoError(t, err)
	pool.sleep = func(ctx context.Context, d time.Duration) bool {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err() == nil
	}
	h.pool = pool
	return h
}

func (h *harness) recordedSleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

var (
	q360  = domain.QualityProfile{Name: "360p", Resolution: domain.Resolution{Width: 640, Height: 360}, Bitrate: 800}
	q720  = domain.QualityProfile{Name: "720p", Resolution: domain.Resolution{Width: 1280, Height: 720}, Bitrate: 2800}
	q1080 = domain.QualityProfile{Name: "1080p", Resolution: domain.Resolution{Width: 1920, Height: 1080}, Bitrate: 5000}
)

func newJob(t *testing.T, qualities ...domain.QualityProfile) domain.TranscodingJob {
	t.Helper()
	return domain.TranscodingJob{
		JobID:        "job-1",
		SubmissionID: "sub-1",
		InputPath:    "/videos/in.mp4",
		OutputPath:   filepath.Join(t.TempDir(), "job-1"),
		Qualities:    qualities,
		SubmittedAt:  time.Now().UTC(),
	}
}

// queued seed the status entry the submitter would have written
func (h *harness) queued(t *testing.T, job domain.TranscodingJob) {
	t.Helper()
	require.NoError(t, h.status.Set(context.Background(), domain.JobProgress{
		JobID:        job.JobID,
		SubmissionID: job.SubmissionID,
		Status:       domain.StatusQueued,
		CurrentStep:  "queued",
	}))
}
