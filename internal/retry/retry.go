// Package retry provides bounded exponential backoff shared by fetch and
// publish paths.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// Policy decides whether and when to retry.
type Policy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Config controls the exponential policy.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// ExponentialPolicy implements Policy with jittered backoff.
type ExponentialPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponential builds a policy, filling zero values with defaults of
// 3 attempts, 250ms base and 5s cap.
func NewExponential(cfg Config) *ExponentialPolicy {
	p := &ExponentialPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 250 * time.Millisecond
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 5 * time.Second
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = p.baseDelay
	}
	return p
}

// MaxAttempts returns the attempt ceiling.
func (p *ExponentialPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether another attempt is allowed after attempt
// (1-based) failed with err.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	return Retryable(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// Retryable classifies errors independently of the attempt count.
func Retryable(err error) bool {
	var fetchErr *catalog.FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.Kind != catalog.FetchHTTP || fetchErr.StatusCode == 0 {
			return true
		}
		return fetchErr.StatusCode >= http.StatusInternalServerError ||
			fetchErr.StatusCode == http.StatusTooManyRequests ||
			fetchErr.StatusCode == http.StatusRequestTimeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, catalog.ErrPublishPermanent) || errors.Is(err, catalog.ErrInvalidTransition) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Do runs fn until it succeeds, the policy refuses another attempt or ctx ends.
// It returns the number of attempts made together with the last error.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempt := 0
	for {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !policy.ShouldRetry(err, attempt) {
			return attempt, err
		}
		timer := time.NewTimer(policy.Backoff(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("retry wait canceled: %w", errors.Join(err, ctx.Err()))
		case <-timer.C:
		}
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
