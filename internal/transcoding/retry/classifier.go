package retry

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"time"

	"video_transcoding_service/internal/transcoding/domain"
)

const maxMessageLen = 500

type signature struct {
	errType  domain.ErrorType
	patterns []string
}

// matched in order, first hit wins
var signatures = []signature{
	{domain.InputFileError, []string{
		"no such file or directory", "does not exist", "input file",
		"invalid data found when processing input", "moov atom not found",
	}},
	{domain.StorageError, []string{
		"no space left", "disk full", "disk quota exceeded", "read-only file system", "permission denied",
	}},
	{domain.ResourceError, []string{
		"cannot allocate memory", "out of memory", "killed", "too many open files", "resource temporarily unavailable",
	}},
	{domain.TimeoutError, []string{
		"timed out", "timeout", "deadline exceeded",
	}},
	{domain.NetworkError, []string{
		"connection refused", "connection reset", "broken pipe", "no route to host",
		"network is unreachable", "dial tcp", "channel/connection is not open",
	}},
	{domain.EncoderError, []string{
		"ffmpeg", "encoder", "codec", "exit status", "libx264",
	}},
	{domain.ValidationError, []string{
		"validation", "invalid", "malformed", "no valid quality",
	}},
}

// Classifier maps failures into the taxonomy
type Classifier struct {
	policy *Policy
	now    func() time.Time
}

// NewClassifier policy nil uses DefaultPolicy
func NewClassifier(policy *Policy) *Classifier {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Classifier{policy: policy, now: time.Now}
}

// Policy the strategy table used for classification
func (c *Classifier) Policy() *Policy {
	return c.policy
}

// Classify build the ClassifiedError of err raised at stage, fields is optional context
func (c *Classifier) Classify(err error, jobID string, stage domain.Stage, fields map[string]string) domain.ClassifiedError {
	var prior domain.ClassifiedError
	if errors.As(err, &prior) {
		return prior
	}

	t := c.typeOf(err)
	s := c.policy.Strategy(t)

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}

	var ctx map[string]string
	if len(fields) > 0 {
		ctx = make(map[string]string, len(fields))
		for k, v := range fields {
			ctx[k] = v
		}
	}

	return domain.ClassifiedError{
		Type:      t,
		Severity:  s.Severity,
		Message:   msg,
		Retryable: s.Retryable(),
		JobID:     jobID,
		Stage:     stage,
		Context:   ctx,
		Actions:   append([]string(nil), s.Actions...),
		Timestamp: c.now().UTC(),
	}
}

func (c *Classifier) typeOf(err error) domain.ErrorType {
	switch {
	case err == nil:
		return domain.UnknownError
	case errors.Is(err, context.DeadlineExceeded):
		return domain.TimeoutError
	case errors.Is(err, fs.ErrNotExist):
		return domain.InputFileError
	case errors.Is(err, domain.ErrNoValidQuality),
		errors.Is(err, domain.ErrInvalidJob),
		errors.Is(err, domain.ErrOutputInvalid):
		return domain.ValidationError
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range signatures {
		for _, p := range sig.patterns {
			if strings.Contains(msg, p) {
				return sig.errType
			}
		}
	}
	return domain.UnknownError
}
