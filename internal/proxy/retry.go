package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/mfgintel/toolproxy/internal/descriptor"
)

// BackoffStrategy selects how inter-attempt delays grow
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

const (
	DefaultMinDelay = 100 * time.Millisecond
	DefaultMaxDelay = 30 * time.Second
)

// BackoffPolicy shapes the delay between attempts. The base delay comes from
// the server descriptor; the policy adds a floor, a ceiling and the growth mode.
type BackoffPolicy struct {
	Strategy BackoffStrategy `json:"strategy" yaml:"strategy" toml:"strategy" mapstructure:"strategy"`
	MinDelay time.Duration   `json:"min_delay" yaml:"min_delay" toml:"min_delay" mapstructure:"min_delay"`
	MaxDelay time.Duration   `json:"max_delay" yaml:"max_delay" toml:"max_delay" mapstructure:"max_delay"`
}

// DefaultBackoffPolicy is a fixed delay with a 100ms floor and a 30s ceiling
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Strategy: BackoffFixed,
		MinDelay: DefaultMinDelay,
		MaxDelay: DefaultMaxDelay,
	}
}

func (bp BackoffPolicy) normalized() BackoffPolicy {
	if bp.Strategy == "" {
		bp.Strategy = BackoffFixed
	}
	if bp.MinDelay <= 0 {
		bp.MinDelay = DefaultMinDelay
	}
	if bp.MaxDelay <= 0 {
		bp.MaxDelay = DefaultMaxDelay
	}
	if bp.MaxDelay < bp.MinDelay {
		bp.MaxDelay = bp.MinDelay
	}
	return bp
}

// Validate rejects unknown strategies
func (bp BackoffPolicy) Validate() error {
	switch bp.Strategy {
	case "", BackoffFixed, BackoffExponential:
		return nil
	default:
		return fmt.Errorf("unknown backoff strategy %q", bp.Strategy)
	}
}

// Delays returns the first n inter-attempt delays produced for base
func (bp BackoffPolicy) Delays(base time.Duration, n int) []time.Duration {
	b := bp.backOff(base)
	b.Reset()
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = b.NextBackOff()
	}
	return out
}

// backOff builds the cenkalti/backoff schedule for one call
func (bp BackoffPolicy) backOff(base time.Duration) backoff.BackOff {
	bp = bp.normalized()

	first := base
	if first < bp.MinDelay {
		first = bp.MinDelay
	}
	if first > bp.MaxDelay {
		first = bp.MaxDelay
	}

	if bp.Strategy == BackoffExponential {
		return &backoff.ExponentialBackOff{
			InitialInterval:     first,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         bp.MaxDelay,
		}
	}
	return backoff.NewConstantBackOff(first)
}

// attemptFunc runs one numbered attempt (1-indexed)
type attemptFunc func(ctx context.Context, attempt int) (json.RawMessage, error)

// retry runs op up to RetryCount+1 times. It returns the result or the last
// attempt's error together with the number of attempts made.
func (p *Proxy) retry(ctx context.Context, server descriptor.Server, op attemptFunc) (json.RawMessage, int, error) {
	maxTries := server.RetryCount + 1
	if maxTries < 1 {
		maxTries = 1
	}

	attempts := 0
	var lastErr error

	operation := func() (json.RawMessage, error) {
		attempts++
		result, err := op(ctx, attempts)
		if err == nil {
			p.recordAttempt(server.ID, nil)
			return result, nil
		}
		lastErr = err
		p.recordAttempt(server.ID, err)
		if !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	notify := func(err error, next time.Duration) {
		p.logger.Warn("Tool call attempt failed, retrying",
			zap.String("server_id", server.ID),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", maxTries),
			zap.Duration("next_delay", next),
			zap.String("error_code", ErrorCode(err)),
			zap.Error(err))
	}

	policy := p.policy.normalized()
	budget := time.Duration(maxTries)*(server.Timeout+policy.MaxDelay) + time.Minute

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy.backOff(server.RetryDelay)),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithMaxElapsedTime(budget),
		backoff.WithNotify(notify))
	if err == nil {
		return result, attempts, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, attempts, fmt.Errorf("tool call aborted: %w", ctxErr)
	}
	if lastErr != nil {
		return nil, attempts, lastErr
	}
	return nil, attempts, err
}

func (p *Proxy) recordAttempt(serverID string, err error) {
	if p.recorder == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = attemptOutcome(err)
	}
	p.recorder.RecordAttempt(serverID, outcome)
}

func attemptOutcome(err error) string {
	switch code := ErrorCode(err); code {
	case CodeTimeout:
		return "timeout"
	case CodeOAuth:
		return "oauth_error"
	case CodeCanceled:
		return "canceled"
	case CodeConfig:
		return "config_error"
	case CodeUnknown:
		return "error"
	default:
		var pe *ProtocolError
		if errors.As(err, &pe) {
			return "protocol_error"
		}
		return "http_error"
	}
}
