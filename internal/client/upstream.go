// Package client provides the outbound HTTP client for embed pages and media.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"nekostream/internal/config"
	"nekostream/internal/metrics"
	"nekostream/internal/model"
)

// UpstreamClient performs outbound requests with spoofed browser headers.
// Embed hosts and their CDNs reject requests that lack a desktop User-Agent
// and the expected Referer/Origin pair, so every request carries them.
type UpstreamClient struct {
	httpClient    *http.Client
	scrapeTimeout time.Duration
	userAgent     string
	referer       string
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		// No client-wide timeout: media transfers may legitimately run for
		// a long time. Scrape fetches get a per-request context deadline.
		httpClient:    &http.Client{Transport: transport},
		scrapeTimeout: time.Duration(cfg.Upstream.ScrapeTimeoutSeconds) * time.Second,
		userAgent:     cfg.Upstream.UserAgent,
		referer:       cfg.Upstream.Referer,
		logger:        logger.With("component", "upstream_client"),
		metrics:       m,
	}
}

// FetchPage retrieves an embed page and returns its body as text.
// The fetch is bounded by the configured scrape timeout (default 5s) and
// aborts cleanly on expiry. Non-2xx upstream statuses are errors.
func (c *UpstreamClient) FetchPage(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.scrapeTimeout)
	defer cancel()

	resp, err := c.get(ctx, url, false)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upstream body: %w", err)
	}
	return string(body), nil
}

// OpenStream starts a GET against the upstream and returns the response with
// its body as an incremental stream. The caller owns the body and must close
// it. No timeout is applied; the context governs the request lifetime, so
// canceling it (e.g. on client disconnect) aborts the upstream transfer.
func (c *UpstreamClient) OpenStream(ctx context.Context, url string) (*model.UpstreamResponse, error) {
	resp, err := c.get(ctx, url, true)
	if err != nil {
		return nil, err
	}
	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func (c *UpstreamClient) get(ctx context.Context, url string, withOrigin bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.referer)
	if withOrigin {
		req.Header.Set("Origin", c.referer)
	}

	c.logger.Debug("upstream request", "url", req.URL.Redacted())

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues("error").Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(status).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(status).Inc()
	}

	return resp, nil
}
