package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nekostream/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			EmbedHost:            "saitou.my.id",
			Referer:              "https://saitou.my.id/",
			UserAgent:            "Mozilla/5.0 (test)",
			ScrapeTimeoutSeconds: 5,
			IdleConnections:      10,
		},
	}
}

func TestFetchPage_SendsSpoofedHeaders(t *testing.T) {
	var gotUA, gotReferer, gotOrigin string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		gotOrigin = r.Header.Get("Origin")
		_, _ = w.Write([]byte("page body"))
	}))
	defer upstream.Close()

	c := NewUpstreamClient(testConfig(), testLogger(), nil)

	body, err := c.FetchPage(context.Background(), upstream.URL)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if body != "page body" {
		t.Errorf("body = %q, want %q", body, "page body")
	}
	if gotUA != "Mozilla/5.0 (test)" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotReferer != "https://saitou.my.id/" {
		t.Errorf("Referer = %q", gotReferer)
	}
	// Origin is only sent on proxy stream fetches.
	if gotOrigin != "" {
		t.Errorf("Origin = %q, want empty on page fetch", gotOrigin)
	}
}

func TestFetchPage_NonSuccessStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	c := NewUpstreamClient(testConfig(), testLogger(), nil)

	if _, err := c.FetchPage(context.Background(), upstream.URL); err == nil {
		t.Fatal("FetchPage succeeded against a 502 upstream")
	}
}

func TestFetchPage_TimeoutAborts(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer upstream.Close()
	defer close(release)

	cfg := testConfig()
	cfg.Upstream.ScrapeTimeoutSeconds = 1
	c := NewUpstreamClient(cfg, testLogger(), nil)

	start := time.Now()
	_, err := c.FetchPage(context.Background(), upstream.URL)
	if err == nil {
		t.Fatal("FetchPage succeeded against a hung upstream")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("FetchPage took %v, want ~1s timeout", elapsed)
	}
}

func TestOpenStream_SendsOriginAndStreams(t *testing.T) {
	var gotOrigin string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrigin = r.Header.Get("Origin")
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Content-Length", "9")
		_, _ = w.Write([]byte("segbytes!"))
	}))
	defer upstream.Close()

	c := NewUpstreamClient(testConfig(), testLogger(), nil)

	resp, err := c.OpenStream(context.Background(), upstream.URL)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if gotOrigin != "https://saitou.my.id/" {
		t.Errorf("Origin = %q, want referer value", gotOrigin)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp2t" {
		t.Errorf("Content-Type = %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "segbytes!" {
		t.Errorf("body = %q", body)
	}
}

func TestOpenStream_CancelAbortsUpstream(t *testing.T) {
	started := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer upstream.Close()

	c := NewUpstreamClient(testConfig(), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := c.OpenStream(ctx, upstream.URL)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	<-started

	cancel()

	if _, err := io.ReadAll(resp.Body); err == nil {
		t.Fatal("read succeeded after context cancel")
	} else if !strings.Contains(err.Error(), "context canceled") {
		t.Logf("read error after cancel: %v", err)
	}
}
