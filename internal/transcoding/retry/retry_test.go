package retry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		want      domain.ErrorType
		retryable bool
	}{
		{"missing input via fs", fmt.Errorf("input file /in.mp4: %w", fs.ErrNotExist), domain.InputFileError, false},
		{"missing input via message", errors.New("open /in.mp4: No such file or directory"), domain.InputFileError, false},
		{"corrupt input", errors.New("ffprobe failed on input file /in.mp4: exit status 1"), domain.InputFileError, false},
		{"encoder exit", errors.New("ffmpeg encoder failed for 720p: exit status 1: Conversion failed!"), domain.EncoderError, true},
		{"disk full", errors.New("write segment_004.ts: no space left on device"), domain.StorageError, true},
		{"oom", errors.New("ffmpeg encoder failed for 1080p: signal: killed"), domain.ResourceError, true},
		{"alloc", errors.New("Cannot allocate memory"), domain.ResourceError, true},
		{"deadline", fmt.Errorf("ffmpeg timed out after 2h0m0s encoding 720p: %w", context.DeadlineExceeded), domain.TimeoutError, true},
		{"timeout text", errors.New("operation timed out"), domain.TimeoutError, true},
		{"network", errors.New("dial tcp 10.0.0.5:6379: connect: connection refused"), domain.NetworkError, true},
		{"no quality", fmt.Errorf("source 320x100: %w", domain.ErrNoValidQuality), domain.ValidationError, false},
		{"output invalid", fmt.Errorf("%w: Missing playlist for 720p", domain.ErrOutputInvalid), domain.ValidationError, false},
		{"malformed", errors.New("playlist is malformed"), domain.ValidationError, false},
		{"unmatched", errors.New("something odd happened"), domain.UnknownError, true},
	}

	c := NewClassifier(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.err, "job-1", domain.StageEncode, map[string]string{"quality": "720p"})
			assert.Equal(t, tc.want, got.Type)
			assert.Equal(t, tc.retryable, got.Retryable)
			assert.Equal(t, "job-1", got.JobID)
			assert.Equal(t, domain.StageEncode, got.Stage)
			assert.Equal(t, "720p", got.Context["quality"])
			assert.Equal(t, tc.err.Error(), got.Message)
			assert.NotEmpty(t, got.Severity)
			assert.NotEmpty(t, got.Actions)
			assert.False(t, got.Timestamp.IsZero())
		})
	}
}

func TestClassifyKeepsClassifiedError(t *testing.T) {
	c := NewClassifier(nil)
	first := c.Classify(errors.New("no space left on device"), "job-1", domain.StagePlaylist, nil)

	again := c.Classify(fmt.Errorf("write master: %w", first), "job-1", domain.StageFinalize, nil)
	assert.Equal(t, first, again)
}

func TestClassifyNil(t *testing.T) {
	got := NewClassifier(nil).Classify(nil, "job-1", domain.StageEncode, nil)
	assert.Equal(t, domain.UnknownError, got.Type)
	assert.Nil(t, got.Context)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	enc := p.Strategy(domain.EncoderError)
	assert.Equal(t, 3, enc.MaxRetries)
	assert.Equal(t, 5*time.Second, p.Delay(domain.EncoderError, 1))
	assert.Equal(t, 10*time.Second, p.Delay(domain.EncoderError, 2))
	assert.Equal(t, 20*time.Second, p.Delay(domain.EncoderError, 3))

	assert.Equal(t, 15*time.Second, p.Delay(domain.StorageError, 2))
	assert.Equal(t, 36*time.Second, p.Delay(domain.ResourceError, 2))
	assert.Equal(t, 30*time.Second, p.Delay(domain.TimeoutError, 2))

	assert.False(t, p.ShouldRetry(domain.InputFileError, 0))
	assert.False(t, p.ShouldRetry(domain.ValidationError, 0))
	assert.True(t, p.ShouldRetry(domain.EncoderError, 2))
	assert.False(t, p.ShouldRetry(domain.EncoderError, 3))
	assert.True(t, p.ShouldRetry(domain.UnknownError, 0))
	assert.False(t, p.ShouldRetry(domain.UnknownError, 1))

	// unlisted classes fall back to UNKNOWN_ERROR
	assert.Equal(t, p.Strategy(domain.UnknownError), p.Strategy("SOMETHING_NEW"))
}

func TestNewPolicyOverrides(t *testing.T) {
	zero, one := 0, 1
	p := NewPolicy(map[string]config.RetryConfig{
		"encoder_error": {MaxRetries: &one, BaseDelay: time.Second},
		"NETWORK_ERROR": {MaxRetries: &zero},
		"timeout_error": {Multiplier: 2},
		"no_such_class": {MaxRetries: &one},
	})

	enc := p.Strategy(domain.EncoderError)
	assert.Equal(t, 1, enc.MaxRetries)
	assert.Equal(t, time.Second, enc.BaseDelay)
	assert.Equal(t, 2.0, enc.Multiplier)

	assert.False(t, p.Strategy(domain.NetworkError).Retryable())

	timeout := p.Strategy(domain.TimeoutError)
	assert.Equal(t, 2, timeout.MaxRetries)
	assert.Equal(t, 60*time.Second, timeout.Delay(2))

	// classification follows the overridden budget
	got := NewClassifier(p).Classify(errors.New("connection reset by peer"), "j", domain.StageStatus, nil)
	assert.Equal(t, domain.NetworkError, got.Type)
	assert.False(t, got.Retryable)
}

func entry(jobID string, t domain.ErrorType, sev domain.Severity, stage domain.Stage, msg string) domain.ClassifiedError {
	return domain.ClassifiedError{JobID: jobID, Type: t, Severity: sev, Stage: stage, Message: msg}
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(3, 2)

	for i := 0; i < 5; i++ {
		h.Record(entry("a", domain.EncoderError, domain.SeverityMedium, domain.StageEncode, fmt.Sprintf("fail %d", i)))
	}
	got := h.ForJob("a")
	require.Len(t, got, 3)
	assert.Equal(t, "fail 2", got[0].Message)
	assert.Equal(t, "fail 4", got[2].Message)

	h.Record(entry("b", domain.StorageError, domain.SeverityCritical, domain.StagePlaylist, "disk"))
	h.Record(entry("c", domain.StorageError, domain.SeverityCritical, domain.StagePlaylist, "disk"))

	// "a" was tracked first and is forgotten
	assert.Empty(t, h.ForJob("a"))
	assert.Len(t, h.ForJob("b"), 1)
	assert.Len(t, h.ForJob("c"), 1)

	h.Clear("b")
	assert.Empty(t, h.ForJob("b"))
	assert.Equal(t, 1, h.Stats(0).Jobs)
}

func TestHistoryForJobIsCopy(t *testing.T) {
	h := NewHistory(5, 5)
	h.Record(entry("a", domain.EncoderError, domain.SeverityMedium, domain.StageEncode, "x"))

	got := h.ForJob("a")
	got[0].Message = "changed"
	assert.Equal(t, "x", h.ForJob("a")[0].Message)
}

func TestHistoryStats(t *testing.T) {
	h := NewHistory(10, 10)
	h.Record(entry("a", domain.EncoderError, domain.SeverityMedium, domain.StageEncode, "exit status 1"))
	h.Record(entry("a", domain.EncoderError, domain.SeverityMedium, domain.StageEncode, "exit status 1"))
	h.Record(entry("b", domain.EncoderError, domain.SeverityMedium, domain.StageEncode, "exit status 1"))
	h.Record(entry("b", domain.StorageError, domain.SeverityCritical, domain.StagePlaylist, "no space left"))
	h.Record(entry("c", domain.InputFileError, domain.SeverityHigh, domain.StageProbe, "missing"))

	st := h.Stats(2)
	assert.Equal(t, 5, st.Total)
	assert.Equal(t, 3, st.Jobs)
	assert.Equal(t, 3, st.ByType[domain.EncoderError])
	assert.Equal(t, 1, st.ByType[domain.StorageError])
	assert.Equal(t, 1, st.BySeverity[domain.SeverityCritical])
	assert.Equal(t, 3, st.ByStage[domain.StageEncode])
	assert.Equal(t, 1, st.ByStage[domain.StageProbe])

	require.Len(t, st.TopMessages, 2)
	assert.Equal(t, MessageCount{Message: "exit status 1", Count: 3}, st.TopMessages[0])
	// ties break alphabetically
	assert.Equal(t, MessageCount{Message: "missing", Count: 1}, st.TopMessages[1])
}
