// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil is the shared provider-client contract: error taxonomy,
// the retry/backoff policy every provider call runs under, and single-attempt
// HTTP helpers that classify responses.
package httputil

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

// RetryBaseDelay is the first backoff used when a Policy leaves BaseDelay
// unset. Tests override this to avoid real sleeps.
var RetryBaseDelay = 500 * time.Millisecond

const (
	defaultMaxAttempts  = 3
	defaultMaxDelay     = 8 * time.Second
	defaultMaxTotalWait = 30 * time.Second
	defaultJitter       = 0.25
)

// Policy bounds the retries of one provider call.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxTotalWait time.Duration
	Jitter       float64
}

// PolicyFromConfig converts the configured retry settings.
func PolicyFromConfig(cfg types.RetryConfig) Policy {
	return Policy{
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		MaxTotalWait: cfg.MaxTotalWait,
		Jitter:       cfg.Jitter,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = RetryBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxTotalWait <= 0 {
		p.MaxTotalWait = defaultMaxTotalWait
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = defaultJitter
	}
	return p
}

// backoff returns the wait before attempt+1: BaseDelay doubled per attempt,
// capped at MaxDelay, with +/- Jitter applied.
func (p Policy) backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// annotate adds a message to a classified error without hiding its Kind.
func annotate(err error, format string, args ...any) error {
	var pe *Error
	if !errors.As(err, &pe) {
		return eris.Wrapf(err, format, args...)
	}
	out := *pe
	if pe.Err == nil {
		out.Err = eris.Errorf(format, args...)
	} else {
		out.Err = eris.Wrapf(pe.Err, format, args...)
	}
	return &out
}

// Retry runs fn under the policy. Transient failures are retried until
// MaxAttempts is reached, parse failures are retried once, and every other
// failure is returned at once. When the next backoff would push the summed
// wait past MaxTotalWait the last error is returned instead of sleeping. If
// the context is cancelled during a backoff wait Retry returns ctx.Err().
//
// The returned error keeps the provider Kind of the last failure, so callers
// can still inspect it with KindOf.
func Retry[T any](ctx context.Context, p Policy, provider string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var waited time.Duration
	parseRetried := false

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		switch KindOf(err) {
		case KindTransient:
		case KindParse:
			if parseRetried {
				return zero, err
			}
			parseRetried = true
		default:
			return zero, err
		}

		if attempt >= p.MaxAttempts {
			return zero, annotate(err, "giving up after %d attempts", attempt)
		}

		wait := p.backoff(attempt)
		if waited+wait > p.MaxTotalWait {
			return zero, annotate(err, "retry wait ceiling %v reached", p.MaxTotalWait)
		}
		waited += wait

		zap.L().Warn("provider call failed, retrying",
			zap.String("provider", provider),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
