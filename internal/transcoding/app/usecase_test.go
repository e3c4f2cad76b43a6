package app

import (
	"context"
	"errors"
	"testing"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/internal/transcoding/encoder"
	"video_transcoding_service/internal/transcoding/retry"
	"video_transcoding_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSubmit(t *testing.T) {
	logger.SetNewNop()
	status := newMemStatus()
	queue := new(MockJobQueue)
	queue.On("Publish", mock.Anything, mock.MatchedBy(func(j domain.TranscodingJob) bool {
		return j.JobID == "job-1" && len(j.Qualities) == len(domain.DefaultCatalog()) && j.SubmissionID != ""
	})).Return(nil).Once()

	uc := NewTranscodeUseCase(Deps{Status: status, Queue: queue}, nil, nil)
	res, err := uc.Submit(context.Background(), domain.SubmitJobReq{
		JobID:      "job-1",
		InputPath:  "/videos/in.mp4",
		OutputPath: "/videos/out/job-1",
	})
	require.NoError(t, err)
	queue.AssertExpectations(t)

	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, domain.StatusQueued, res.Status)
	_, err = uuid.Parse(res.SubmissionID)
	assert.NoError(t, err)

	got, err := uc.GetStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, 0.0, got.Progress)

	entry, _ := status.Get(context.Background(), "job-1")
	assert.Equal(t, res.SubmissionID, entry.SubmissionID)
}

func TestSubmitGeneratesJobID(t *testing.T) {
	logger.SetNewNop()
	queue := &memQueue{}
	uc := NewTranscodeUseCase(Deps{Status: newMemStatus(), Queue: queue}, nil, nil)

	res, err := uc.Submit(context.Background(), domain.SubmitJobReq{InputPath: "/in.mp4", OutputPath: "/out/x"})
	require.NoError(t, err)
	_, err = uuid.Parse(res.JobID)
	assert.NoError(t, err)
	require.Len(t, queue.published, 1)
	assert.Equal(t, res.JobID, queue.published[0].JobID)
}

func TestSubmitRejectsInvalid(t *testing.T) {
	logger.SetNewNop()
	queue := new(MockJobQueue)
	uc := NewTranscodeUseCase(Deps{Status: newMemStatus(), Queue: queue}, nil, nil)

	_, err := uc.Submit(context.Background(), domain.SubmitJobReq{JobID: "job-1", OutputPath: "/out"})
	assert.ErrorIs(t, err, domain.ErrInvalidJob)

	_, err = uc.Submit(context.Background(), domain.SubmitJobReq{JobID: "job-1", InputPath: "/in.mp4", OutputPath: "/"})
	assert.ErrorIs(t, err, domain.ErrInvalidJob)

	_, err = uc.GetStatus(context.Background(), "job-1")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	queue.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestSubmitEnqueueFailure(t *testing.T) {
	logger.SetNewNop()
	status := newMemStatus()
	history := retry.NewHistory(5, 5)
	queue := new(MockJobQueue)
	queue.On("Publish", mock.Anything, mock.Anything).Return(errors.New("dial tcp 127.0.0.1:5672: connect: connection refused"))

	uc := NewTranscodeUseCase(Deps{Status: status, Queue: queue, History: history}, nil, nil)
	_, err := uc.Submit(context.Background(), domain.SubmitJobReq{JobID: "job-1", InputPath: "/in.mp4", OutputPath: "/out/job-1"})
	require.Error(t, err)

	entry, err := status.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, entry.Status)
	assert.Equal(t, domain.NetworkError, entry.ErrorType)

	res, err := uc.GetStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, domain.NetworkError, res.ErrorType)
	assert.NotEmpty(t, res.Error)

	errs := uc.GetErrors("job-1")
	require.Len(t, errs, 1)
	assert.Equal(t, domain.StageSubmit, errs[0].Stage)
	assert.Equal(t, 1, uc.ErrorStats(5).ByType[domain.NetworkError])
}

func TestResubmitSameJobID(t *testing.T) {
	enc := newFakeEncoder(1920, 1080)
	queue := &memQueue{}
	h := newHarness(t, enc, queue)
	uc := NewTranscodeUseCase(Deps{Status: h.status, Queue: queue, History: h.history}, h.pool, nil)

	req := domain.SubmitJobReq{
		JobID:      "job-1",
		InputPath:  "/videos/in.mp4",
		OutputPath: t.TempDir() + "/job-1",
		Qualities:  []domain.QualityProfile{q360, q720},
	}
	first, err := uc.Submit(context.Background(), req)
	require.NoError(t, err)
	second, err := uc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.SubmissionID, second.SubmissionID)

	entry, _ := h.status.Get(context.Background(), "job-1")
	assert.Equal(t, second.SubmissionID, entry.SubmissionID)
	require.Len(t, queue.published, 2)

	older := deliveryOf(t, queue.published[0])
	h.pool.handle(context.Background(), older)
	assert.True(t, older.acked)
	assert.Zero(t, enc.callsFor("360p"))

	latest := deliveryOf(t, queue.published[1])
	h.pool.handle(context.Background(), latest)
	assert.True(t, latest.acked)
	assert.Equal(t, 1, enc.callsFor("360p"))
	assert.Equal(t, 1, enc.callsFor("720p"))

	got, err := uc.GetStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	// a late redelivery of the finished submission does nothing
	again := deliveryOf(t, queue.published[1])
	h.pool.handle(context.Background(), again)
	assert.True(t, again.acked)
	assert.Equal(t, 1, enc.callsFor("360p"))
}

func TestResubmitDuringEncode(t *testing.T) {
	enc := newFakeEncoder(1920, 1080)
	queue := &memQueue{}
	h := newHarness(t, enc, queue)
	uc := NewTranscodeUseCase(Deps{Status: h.status, Queue: queue, History: h.history}, h.pool, nil)

	req := domain.SubmitJobReq{
		JobID:      "job-1",
		InputPath:  "/videos/in.mp4",
		OutputPath: t.TempDir() + "/job-1",
		Qualities:  []domain.QualityProfile{q360, q720},
	}
	first, err := uc.Submit(context.Background(), req)
	require.NoError(t, err)

	var second *domain.SubmitJobRes
	enc.during = func(context.Context, encoder.Request) error {
		enc.mu.Lock()
		enc.during = nil
		enc.mu.Unlock()
		var err error
		second, err = uc.Submit(context.Background(), req)
		return err
	}

	older := deliveryOf(t, queue.published[0])
	h.pool.handle(context.Background(), older)
	assert.True(t, older.acked)
	assert.False(t, older.nacked)
	require.NotNil(t, second)
	require.NotEmpty(t, second.SubmissionID)
	assert.NotEqual(t, first.SubmissionID, second.SubmissionID)
	assert.Equal(t, 1, enc.callsFor("360p"))
	assert.Zero(t, enc.callsFor("720p"))

	entry, err := h.status.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, second.SubmissionID, entry.SubmissionID)
	assert.Equal(t, domain.StatusQueued, entry.Status)

	// nothing the older run wrote lands after the newer submission
	writes := h.status.history("job-1")
	newer := -1
	for i, w := range writes {
		if w.SubmissionID == second.SubmissionID {
			newer = i
			break
		}
	}
	require.GreaterOrEqual(t, newer, 0)
	for _, w := range writes[newer:] {
		assert.Equal(t, second.SubmissionID, w.SubmissionID, "write %q after resubmit", w.CurrentStep)
	}
	assert.Empty(t, h.history.ForJob("job-1"))

	require.Len(t, queue.published, 2)
	latest := deliveryOf(t, queue.published[1])
	h.pool.handle(context.Background(), latest)
	assert.True(t, latest.acked)
	assert.Equal(t, 2, enc.callsFor("360p"))
	assert.Equal(t, 1, enc.callsFor("720p"))

	got, err := h.status.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, second.SubmissionID, got.SubmissionID)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, newFakeEncoder(1920, 1080), nil)

	uc := NewTranscodeUseCase(Deps{Status: h.status, Queue: h.queue}, nil, nil)
	assert.False(t, uc.Health(context.Background()).Healthy)

	uc = NewTranscodeUseCase(Deps{Status: h.status, Queue: h.queue, Heartbeat: h.beat}, h.pool, nil)
	got := uc.Health(context.Background())
	assert.False(t, got.Healthy)
	assert.Equal(t, "starting", got.Reason)

	h.pool.setHealth(true, "")
	got = uc.Health(context.Background())
	assert.False(t, got.Healthy)
	assert.Equal(t, "heartbeat stale", got.Reason)

	h.pool.beat(context.Background())
	got = uc.Health(context.Background())
	assert.True(t, got.Healthy)
	assert.Equal(t, "worker-test", got.WorkerID)
	assert.False(t, got.LastHeartbeat.IsZero())
}
