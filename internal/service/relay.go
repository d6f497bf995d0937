// Package service implements the proxy relay orchestration.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"nekostream/internal/client"
	"nekostream/internal/manifest"
)

// Relayed is the outcome of a successful relay. Exactly one of Playlist or
// Body is set: Playlist holds a fully buffered, rewritten manifest; Body is
// an opaque upstream stream the caller must copy out and close.
type Relayed struct {
	ContentType   string
	ContentLength string
	Playlist      []byte
	Body          io.ReadCloser
}

// RelayService fetches upstream resources for the proxy endpoint and
// rewrites playlist manifests before they are returned.
type RelayService struct {
	client *client.UpstreamClient
	logger *slog.Logger
}

// NewRelayService creates a RelayService.
func NewRelayService(c *client.UpstreamClient, logger *slog.Logger) *RelayService {
	return &RelayService{
		client: c,
		logger: logger.With("component", "relay_service"),
	}
}

// Relay GETs targetURL and classifies the response. Playlists (declared
// mpegurl content type, or a .m3u8 target as fallback) are buffered in full,
// rewritten against proxyBase, and returned as Playlist — a corrupted or
// truncated manifest is never partially flushed. Everything else is returned
// as an unread stream so the caller can pipe it with backpressure intact.
//
// Non-2xx upstream statuses are errors: the relay is a transparent
// pass-through for working streams only.
func (s *RelayService) Relay(ctx context.Context, targetURL, proxyBase string) (*Relayed, error) {
	resp, err := s.client.OpenStream(ctx, targetURL)
	if err != nil {
		return nil, fmt.Errorf("relay fetch: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("relay fetch: upstream returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")

	if manifest.IsPlaylist(contentType, targetURL) {
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("relay read playlist: %w", err)
		}

		rewritten := manifest.Rewrite(string(body), proxyBase)
		s.logger.Debug("rewrote playlist",
			"url", targetURL,
			"bytes_in", len(body),
			"bytes_out", len(rewritten),
		)

		return &Relayed{
			ContentType: contentType,
			Playlist:    []byte(rewritten),
		}, nil
	}

	return &Relayed{
		ContentType:   contentType,
		ContentLength: resp.Header.Get("Content-Length"),
		Body:          resp.Body,
	}, nil
}
