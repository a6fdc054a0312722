// Package backoff implements exponential backoff with jitter and transport
// fault classification for retryable task execution.
package backoff

import (
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-dev/djpcore/internal/orcherr"
)

// Policy controls retry timing. Factor defaults to 2.0 when zero.
// JitterPct is a symmetric fraction (e.g. 0.2 spreads the delay over
// ±20%); zero defaults to 0.1. MaxTotalTime, when positive, bounds the
// whole Run call: no further attempt starts once it has elapsed.
type Policy struct {
	MaxAttempts  int
	Base         time.Duration
	Max          time.Duration
	Factor       float64
	JitterPct    float64
	MaxTotalTime time.Duration
}

// DefaultPolicy returns sane defaults for an opaque task body: 5 attempts,
// 1s base, 2x factor, capped at 2 minutes, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Base:        time.Second,
		Max:         2 * time.Minute,
		Factor:      2.0,
		JitterPct:   0.1,
	}
}

// Delay computes the backoff delay before the given 1-indexed attempt,
// spread uniformly over ±JitterPct around the exponential value (default
// 10% when unset). attempt <= 0 returns 0 (no delay before the first
// try). A zero-or-negative Factor is treated as 2.0.
func Delay(attempt int, p Policy) time.Duration {
	if attempt <= 0 {
		return 0
	}

	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	max := p.Max
	if max <= 0 {
		max = 2 * time.Minute
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2.0
	}
	jitterPct := p.JitterPct
	if jitterPct <= 0 {
		jitterPct = 0.1
	}

	exponent := attempt - 1
	multiplier := math.Pow(factor, float64(exponent))

	var delay time.Duration
	if math.IsInf(multiplier, 1) || multiplier > float64(max)/float64(base) {
		delay = max
	} else {
		delay = time.Duration(float64(base) * multiplier)
		if delay > max {
			delay = max
		}
	}

	jitter := time.Duration((rand.Float64()*2 - 1) * jitterPct * float64(delay))
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return delay
}

// ParseRetryAfter interprets a Retry-After hint as either an integer
// number of seconds or an HTTP (RFC-1123) date, returning the delay
// relative to now.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// RetryAfterOverride takes precedence over the computed delay when a
// downstream call reports an explicit Retry-After hint (e.g. HTTP 429/503).
// The hint is clamped to [1s, p.Max].
func RetryAfterOverride(attempt int, p Policy, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		max := p.Max
		if max <= 0 {
			max = 2 * time.Minute
		}
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		if retryAfter > max {
			retryAfter = max
		}
		return retryAfter
	}
	return Delay(attempt, p)
}

// Fault classifies a failure: transport errors, 5xx, 408 and 429 are
// retryable; any other 4xx is not.
type Fault int

const (
	// FaultNone indicates no error occurred.
	FaultNone Fault = iota
	// FaultRetryable indicates a transient failure worth retrying.
	FaultRetryable
	// FaultFatal indicates a failure that will not succeed on retry.
	FaultFatal
)

// Classify inspects err and an optional HTTP-like status code (0 when not
// applicable) and returns a Fault plus an error wrapped in the matching
// orcherr sentinel.
func Classify(err error, statusCode int) (Fault, error) {
	if err == nil && statusCode == 0 {
		return FaultNone, nil
	}

	if statusCode != 0 {
		switch {
		case statusCode == 408 || statusCode == 429 || statusCode >= 500:
			return FaultRetryable, &orcherr.RetryableError{Cause: err}
		case statusCode >= 400:
			return FaultFatal, &orcherr.FatalError{Cause: err}
		}
	}

	if err == nil {
		return FaultNone, nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FaultRetryable, &orcherr.RetryableError{Cause: err}
	}

	var retryable *orcherr.RetryableError
	if errors.As(err, &retryable) {
		return FaultRetryable, err
	}

	var fatal *orcherr.FatalError
	if errors.As(err, &fatal) {
		return FaultFatal, err
	}

	// An unclassified error is treated as retryable: a transport blip we
	// don't recognize should not be permanently abandoned.
	return FaultRetryable, &orcherr.RetryableError{Cause: err}
}

// ShouldRetry reports whether enough time has elapsed since lastAttempt
// for the given attempt count, so a retry queue never busy-loops.
func ShouldRetry(lastAttempt time.Time, attempt int, p Policy) bool {
	required := Delay(attempt, p)
	return time.Since(lastAttempt) >= required
}

// Run executes fn up to p.MaxAttempts times, sleeping Delay(attempt, p)
// between attempts and stopping early on a FaultFatal classification. A
// nil sleep falls back to time.Sleep; tests pass a fake to avoid waiting.
func Run(fn func(attempt int) (statusCode int, err error), p Policy, sleep func(time.Duration)) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := fn(attempt)
		if err == nil && status == 0 {
			return nil
		}
		fault, classified := Classify(err, status)
		if fault == FaultNone {
			return nil
		}
		lastErr = classified
		if fault == FaultFatal {
			return lastErr
		}
		if attempt < maxAttempts {
			d := Delay(attempt, p)
			if p.MaxTotalTime > 0 && time.Since(start)+d >= p.MaxTotalTime {
				return lastErr
			}
			sleep(d)
		}
	}
	return lastErr
}
