// Package ratelimit implements the per-crawl throttle: a per-host token
// bucket, a randomized gap between consecutive requests and an in-flight cap.
// Every crawl run owns its own Limiter.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/metal-release-crawler/internal/metrics"
)

// Config holds throttle configuration.
type Config struct {
	RPS         float64       `mapstructure:"rps"`
	Burst       int           `mapstructure:"burst"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxInFlight int           `mapstructure:"max_in_flight"`
}

// Limiter throttles the requests of a single crawl run.
type Limiter struct {
	label string

	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int

	delayMu  sync.Mutex
	nextAt   time.Time
	minDelay time.Duration
	maxDelay time.Duration

	slots chan struct{}
	now   func() time.Time
}

// New creates a Limiter. label names the crawl in metrics (usually the distributor).
func New(cfg Config, label string) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	minDelay, maxDelay := cfg.MinDelay, cfg.MaxDelay
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	inFlight := cfg.MaxInFlight
	if inFlight <= 0 {
		inFlight = 1
	}
	return &Limiter{
		label:        label,
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		slots:        make(chan struct{}, inFlight),
		now:          time.Now,
	}
}

// Acquire blocks until a request to rawURL may start. The returned release
// must be called once the request finished.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	start := l.now()
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("throttle slot: %w", ctx.Err())
	}
	release := func() { <-l.slots }

	if err := l.waitGap(ctx); err != nil {
		release()
		return nil, err
	}
	if err := l.hostLimiter(rawURL).Wait(ctx); err != nil {
		release()
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := l.now().Sub(start); waited > time.Millisecond {
		metrics.ObserveThrottleDelay(l.label, waited)
	}
	return release, nil
}

// InFlight returns the number of currently held slots.
func (l *Limiter) InFlight() int {
	return len(l.slots)
}

// waitGap spaces consecutive request starts by a random delay in
// [minDelay, maxDelay].
func (l *Limiter) waitGap(ctx context.Context) error {
	if l.maxDelay == 0 {
		return nil
	}
	l.delayMu.Lock()
	now := l.now()
	startAt := l.nextAt
	if startAt.Before(now) {
		startAt = now
	}
	l.nextAt = startAt.Add(l.randomDelay())
	l.delayMu.Unlock()

	wait := startAt.Sub(now)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("throttle delay: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) randomDelay() time.Duration {
	spread := l.maxDelay - l.minDelay
	if spread <= 0 {
		return l.minDelay
	}
	return l.minDelay + rand.N(spread+1)
}

func (l *Limiter) hostLimiter(rawURL string) *rate.Limiter {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}
