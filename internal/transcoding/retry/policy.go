// Package retry classifies pipeline failures and decides how a job is retried.
package retry

import (
	"math"
	"strings"
	"time"

	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/pkg/config"
)

// Strategy definition recovery strategy of one error class
type Strategy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	Severity   domain.Severity
	// Actions suggestions for operators, never executed
	Actions []string
}

// Retryable true when the class has any retry budget
func (s Strategy) Retryable() bool {
	return s.MaxRetries > 0
}

// Delay wait before retry n (1-based): base * multiplier^(n-1)
func (s Strategy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	mult := s.Multiplier
	if mult <= 0 {
		mult = 1
	}
	return time.Duration(math.Round(float64(s.BaseDelay) * math.Pow(mult, float64(retry-1))))
}

// Policy maps every error class to its strategy
type Policy struct {
	strategies map[domain.ErrorType]Strategy
}

// DefaultPolicy built-in table
func DefaultPolicy() *Policy {
	return &Policy{strategies: map[domain.ErrorType]Strategy{
		domain.InputFileError: {
			Severity: domain.SeverityHigh,
			Actions:  []string{"verify the input path exists and is readable", "re-upload the source file"},
		},
		domain.EncoderError: {
			MaxRetries: 3, BaseDelay: 5 * time.Second, Multiplier: 2,
			Severity: domain.SeverityMedium,
			Actions:  []string{"inspect the encoder output tail", "check the source codec is supported"},
		},
		domain.StorageError: {
			MaxRetries: 2, BaseDelay: 10 * time.Second, Multiplier: 1.5,
			Severity: domain.SeverityCritical,
			Actions:  []string{"free disk space on the output volume", "check output directory permissions"},
		},
		domain.ResourceError: {
			MaxRetries: 5, BaseDelay: 30 * time.Second, Multiplier: 1.2,
			Severity: domain.SeverityHigh,
			Actions:  []string{"lower worker concurrency", "raise the memory limit of the worker"},
		},
		domain.TimeoutError: {
			MaxRetries: 2, BaseDelay: 30 * time.Second, Multiplier: 1,
			Severity: domain.SeverityMedium,
			Actions:  []string{"raise encoder.timeout for long sources", "check worker CPU saturation"},
		},
		domain.NetworkError: {
			MaxRetries: 3, BaseDelay: 2 * time.Second, Multiplier: 2,
			Severity: domain.SeverityMedium,
			Actions:  []string{"check connectivity to redis, rabbitmq and storage"},
		},
		domain.ValidationError: {
			Severity: domain.SeverityHigh,
			Actions:  []string{"check the requested qualities against the source resolution", "inspect the output tree with transcode_validate"},
		},
		domain.UnknownError: {
			MaxRetries: 1, BaseDelay: 5 * time.Second, Multiplier: 1,
			Severity: domain.SeverityLow,
			Actions:  []string{"inspect the worker log for this job"},
		},
	}}
}

// NewPolicy default table with per-class overrides, keys are error types in any case
// ("encoder_error" or "ENCODER_ERROR"); unknown keys are ignored
func NewPolicy(overrides map[string]config.RetryConfig) *Policy {
	p := DefaultPolicy()
	for key, o := range overrides {
		t := domain.ErrorType(strings.ToUpper(strings.TrimSpace(key)))
		s, ok := p.strategies[t]
		if !ok {
			continue
		}
		if o.MaxRetries != nil && *o.MaxRetries >= 0 {
			s.MaxRetries = *o.MaxRetries
		}
		if o.BaseDelay > 0 {
			s.BaseDelay = o.BaseDelay
		}
		if o.Multiplier > 0 {
			s.Multiplier = o.Multiplier
		}
		p.strategies[t] = s
	}
	return p
}

// Strategy of t, UNKNOWN_ERROR for unlisted classes
func (p *Policy) Strategy(t domain.ErrorType) Strategy {
	if s, ok := p.strategies[t]; ok {
		return s
	}
	return p.strategies[domain.UnknownError]
}

// ShouldRetry retriesUsed is the number of retries of class t already spent in this run
func (p *Policy) ShouldRetry(t domain.ErrorType, retriesUsed int) bool {
	return retriesUsed < p.Strategy(t).MaxRetries
}

// Delay wait before retry n of class t
func (p *Policy) Delay(t domain.ErrorType, retry int) time.Duration {
	return p.Strategy(t).Delay(retry)
}
