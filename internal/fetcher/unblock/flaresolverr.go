// Package unblock fetches pages through a FlareSolverr unblocking proxy. One
// Client holds at most one proxy session, so a crawl run reuses the solved
// clearance cookies across its requests.
package unblock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// StrategyName labels responses produced by this fetcher.
const StrategyName = "unblock"

// Config controls the FlareSolverr client.
type Config struct {
	BaseURL    string
	MaxTimeout time.Duration
	HTTPClient *http.Client
}

// Client implements catalog.Fetcher on top of the FlareSolverr JSON API.
type Client struct {
	baseURL    string
	maxTimeout time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	sessionID string
}

type command struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	Session    string `json:"session,omitempty"`
	MaxTimeout int64  `json:"maxTimeout,omitempty"`
}

type reply struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Session  string    `json:"session"`
	Solution *solution `json:"solution"`
}

type solution struct {
	URL      string            `json:"url"`
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers"`
	Response string            `json:"response"`
}

// New validates cfg and builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("unblock base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 60 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.MaxTimeout + 10*time.Second}
	}
	return &Client{
		baseURL:    base,
		maxTimeout: cfg.MaxTimeout,
		httpClient: httpClient,
		logger:     logger.Named("unblock"),
	}, nil
}

// Fetch retrieves request.URL through the proxy session.
func (c *Client) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return catalog.FetchResponse{}, err
	}
	timeout := c.maxTimeout
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	start := time.Now()
	out, err := c.post(ctx, command{
		Cmd:        "request.get",
		URL:        request.URL,
		Session:    session,
		MaxTimeout: timeout.Milliseconds(),
	})
	if err != nil {
		return catalog.FetchResponse{}, err
	}
	if out.Solution == nil {
		return catalog.FetchResponse{}, errors.New("flaresolverr returned no solution")
	}
	headers := http.Header{}
	for k, v := range out.Solution.Headers {
		headers.Set(k, v)
	}
	finalURL := out.Solution.URL
	if finalURL == "" {
		finalURL = request.URL
	}
	c.logger.Debug("unblocked page",
		zap.String("url", request.URL),
		zap.Int("status", out.Solution.Status),
	)
	return catalog.FetchResponse{
		URL:          finalURL,
		StatusCode:   out.Solution.Status,
		Headers:      headers,
		Body:         []byte(out.Solution.Response),
		Duration:     time.Since(start),
		UsedHeadless: true,
		Strategy:     StrategyName,
	}, nil
}

// Close destroys the proxy session, if one was created. Failures are logged.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	session := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if session == "" {
		return
	}
	if _, err := c.post(context.WithoutCancel(ctx), command{Cmd: "sessions.destroy", Session: session}); err != nil {
		c.logger.Warn("destroy flaresolverr session", zap.String("session", session), zap.Error(err))
		return
	}
	c.logger.Info("flaresolverr session destroyed", zap.String("session", session))
}

func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return c.sessionID, nil
	}
	out, err := c.post(ctx, command{Cmd: "sessions.create"})
	if err != nil {
		return "", fmt.Errorf("create flaresolverr session: %w", err)
	}
	if out.Session == "" {
		return "", errors.New("create flaresolverr session: empty session id")
	}
	c.sessionID = out.Session
	c.logger.Info("flaresolverr session created", zap.String("session", out.Session))
	return out.Session, nil
}

func (c *Client) post(ctx context.Context, cmd command) (reply, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return reply{}, fmt.Errorf("marshal %s: %w", cmd.Cmd, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1", bytes.NewReader(body))
	if err != nil {
		return reply{}, fmt.Errorf("build %s request: %w", cmd.Cmd, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reply{}, fmt.Errorf("flaresolverr %s: %w", cmd.Cmd, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply{}, fmt.Errorf("read %s reply: %w", cmd.Cmd, err)
	}
	var out reply
	if err := json.Unmarshal(data, &out); err != nil {
		return reply{}, fmt.Errorf("decode %s reply (http %d): %w", cmd.Cmd, resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || out.Status != "ok" {
		return reply{}, fmt.Errorf("flaresolverr %s: %s (http %d)", cmd.Cmd, out.Message, resp.StatusCode)
	}
	return out, nil
}
