// Package antibot retrieves distributor pages while coping with anti-bot
// defenses: rotating user agents, per-crawl throttling, block detection with
// escalation to heavier fetch strategies, and bounded retries.
package antibot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/metrics"
	"github.com/JakeFAU/metal-release-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/metal-release-crawler/internal/retry"
	"github.com/JakeFAU/metal-release-crawler/internal/useragent"
)

// Strategy is a named fetch implementation. Strategies are ordered from
// lightest to heaviest.
type Strategy struct {
	Name    string
	Fetcher catalog.Fetcher
}

// Config controls one Fetcher.
type Config struct {
	Label string
	// SessionID scopes fetcher state such as cookies to one crawl.
	SessionID string
	Timeout   time.Duration
	Headers   http.Header
}

// Deps are the collaborators of a Fetcher.
type Deps struct {
	Throttle *ratelimit.Limiter
	Agents   *useragent.Pool
	Detector *Detector
	Policy   *retry.ExponentialPolicy
	Logger   *zap.Logger
}

// Fetcher implements catalog.PageLoader for a single crawl run. Once a
// strategy is blocked the crawl keeps using the heavier one.
type Fetcher struct {
	cfg        Config
	strategies []Strategy
	throttle   *ratelimit.Limiter
	agents     *useragent.Pool
	detector   *Detector
	policy     *retry.ExponentialPolicy
	logger     *zap.Logger

	mu    sync.Mutex
	level int
}

// New builds a Fetcher. strategies must hold at least one entry.
func New(cfg Config, strategies []Strategy, deps Deps) (*Fetcher, error) {
	if len(strategies) == 0 {
		return nil, errors.New("antibot: at least one fetch strategy is required")
	}
	for i, s := range strategies {
		if s.Fetcher == nil {
			return nil, fmt.Errorf("antibot: strategy %d (%s) has no fetcher", i, s.Name)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if deps.Throttle == nil {
		deps.Throttle = ratelimit.New(ratelimit.Config{MaxInFlight: 1}, cfg.Label)
	}
	if deps.Agents == nil {
		deps.Agents = useragent.NewPool(nil)
	}
	if deps.Detector == nil {
		deps.Detector = NewDetector(0)
	}
	if deps.Policy == nil {
		deps.Policy = retry.NewExponential(retry.Config{})
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:        cfg,
		strategies: strategies,
		throttle:   deps.Throttle,
		agents:     deps.Agents,
		detector:   deps.Detector,
		policy:     deps.Policy,
		logger:     deps.Logger.Named("antibot").With(zap.String("distributor", cfg.Label)),
	}, nil
}

// Load returns the raw content of url or a *catalog.FetchError once the
// retry ceiling is exhausted. Context cancellation is returned as is.
func (f *Fetcher) Load(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	attempts, err := retry.Do(ctx, f.policy, func(ctx context.Context, attempt int) error {
		var err error
		body, err = f.attempt(ctx, url, attempt)
		return err
	})
	if err == nil {
		return body, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("load %s: %w", url, ctxErr)
	}
	var fetchErr *catalog.FetchError
	if errors.As(err, &fetchErr) {
		fetchErr.Attempts = attempts
		return nil, fetchErr
	}
	return nil, &catalog.FetchError{Kind: catalog.FetchHTTP, URL: url, Attempts: attempts, Err: err}
}

// Strategy returns the name of the strategy the next request starts with.
func (f *Fetcher) Strategy() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.strategies[f.level].Name
}

func (f *Fetcher) attempt(ctx context.Context, url string, attempt int) ([]byte, error) {
	level := f.currentLevel()
	strategy := f.strategies[level]

	release, err := f.throttle.Acquire(ctx, url)
	if err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	resp, err := strategy.Fetcher.Fetch(reqCtx, catalog.FetchRequest{
		SessionID: f.cfg.SessionID,
		URL:       url,
		UserAgent: f.agents.Next(),
		Headers:   f.cfg.Headers,
		Timeout:   f.cfg.Timeout,
	})
	timedOut := errors.Is(reqCtx.Err(), context.DeadlineExceeded)
	cancel()
	release()

	fields := []zap.Field{
		zap.String("url", url),
		zap.String("strategy", strategy.Name),
		zap.Int("attempt", attempt),
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		kind := catalog.FetchHTTP
		if timedOut || isTimeout(err) {
			kind = catalog.FetchTimeout
		}
		metrics.ObserveFetch(f.cfg.Label, strategy.Name, string(kind), resp.Duration)
		f.logger.Warn("fetch attempt failed", append(fields, zap.Error(err))...)
		return nil, &catalog.FetchError{Kind: kind, URL: url, Err: err}
	}

	if blocked, reason := f.detector.Detect(resp); blocked {
		metrics.ObserveFetch(f.cfg.Label, strategy.Name, "blocked", resp.Duration)
		next := f.escalate(level)
		f.logger.Warn("blocked",
			append(fields, zap.String("reason", reason), zap.Int("status", resp.StatusCode), zap.String("next_strategy", next))...)
		return nil, &catalog.FetchError{Kind: catalog.FetchBlocked, URL: url, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		metrics.ObserveFetch(f.cfg.Label, strategy.Name, "http_error", resp.Duration)
		f.logger.Warn("http error", append(fields, zap.Int("status", resp.StatusCode))...)
		return nil, &catalog.FetchError{Kind: catalog.FetchHTTP, URL: url, StatusCode: resp.StatusCode}
	}

	metrics.ObserveFetch(f.cfg.Label, strategy.Name, "ok", resp.Duration)
	f.logger.Debug("fetched", append(fields, zap.Int("bytes", len(resp.Body)))...)
	return resp.Body, nil
}

func (f *Fetcher) currentLevel() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// escalate moves past the blocked level and returns the strategy name the
// next attempt will use.
func (f *Fetcher) escalate(blockedLevel int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.level == blockedLevel && f.level < len(f.strategies)-1 {
		f.level++
		metrics.ObserveEscalation(f.cfg.Label, f.strategies[f.level].Name)
	}
	return f.strategies[f.level].Name
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
