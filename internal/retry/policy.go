// Package retry implements the exponential-backoff retry policy shared by
// every forwarder: a first-class Policy value configured from
// dto.ForwarderConfig rather than a coroutine-local retry loop, so the
// same policy can wrap an HTTP request, a TCP write, a WebSocket send, or
// an MQTT publish identically.
package retry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wudi/protogate/internal/dto"
)

// Policy implements retry logic with exponential backoff over an arbitrary
// attempt function.
type Policy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Metrics           *Metrics
}

// Metrics tracks retry statistics for one target's forwarder.
type Metrics struct {
	Attempts  atomic.Int64
	Retries   atomic.Int64
	Successes atomic.Int64
	Failures  atomic.Int64
}

type MetricsSnapshot struct {
	Attempts  int64
	Retries   int64
	Successes int64
	Failures  int64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Attempts:  m.Attempts.Load(),
		Retries:   m.Retries.Load(),
		Successes: m.Successes.Load(),
		Failures:  m.Failures.Load(),
	}
}

// NewPolicy builds a Policy from a target's forwarder config, applying the
// same defaults wudi-gateway's HTTP retry policy uses.
func NewPolicy(cfg dto.ForwarderConfig) *Policy {
	p := &Policy{
		MaxRetries:        cfg.RetryCount,
		InitialBackoff:    cfg.RetryDelay,
		BackoffMultiplier: cfg.BackoffMultiplier,
		Metrics:           &Metrics{},
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = 100 * time.Millisecond
	}
	p.MaxBackoff = 10 * time.Second
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = 2.0
	}
	return p
}

// Classify tells Execute whether an attempt's error should be retried at
// all (transient) versus failed immediately (permanent, e.g. 4xx/bad
// payload) — the forwarder-specific equivalent of wudi-gateway's
// status-code/method retryability check.
type Classify func(err error) (retryable bool)

// Execute runs attempt, retrying on transient failures per the policy.
// isRetryable classifies whether a given error is worth retrying; a nil
// isRetryable treats every non-nil error as retryable.
func (p *Policy) Execute(ctx context.Context, isRetryable Classify, attempt func(ctx context.Context) error) error {
	p.Metrics.Attempts.Add(1)
	curve := p.newBackOff()

	var lastErr error
	for try := 0; try <= p.MaxRetries; try++ {
		if try > 0 {
			p.Metrics.Retries.Add(1)
			wait := curve.NextBackOff()
			select {
			case <-ctx.Done():
				p.Metrics.Failures.Add(1)
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err := attempt(ctx)
		if err == nil {
			p.Metrics.Successes.Add(1)
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			break
		}
	}
	p.Metrics.Failures.Add(1)
	return lastErr
}

// newBackOff builds a cenkalti/backoff/v4 exponential curve from the
// policy's configured intervals, with no overall elapsed-time cutoff —
// MaxRetries alone bounds how many times Execute calls NextBackOff.
func (p *Policy) newBackOff() *backoff.ExponentialBackOff {
	curve := backoff.NewExponentialBackOff()
	curve.InitialInterval = p.InitialBackoff
	curve.MaxInterval = p.MaxBackoff
	curve.Multiplier = p.BackoffMultiplier
	curve.MaxElapsedTime = 0
	curve.Reset()
	return curve
}
