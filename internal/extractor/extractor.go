// Package extractor locates playable stream URLs inside embed page HTML.
//
// The embed pages carry the real stream URL in inline player configuration,
// not in a media tag, so extraction is pattern matching rather than HTML
// parsing. The format is simple enough that a full parser would be
// disproportionate; callers only see Extract and Scrape, so the matching
// strategy can be swapped without touching them.
package extractor

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"nekostream/internal/client"
	"nekostream/internal/config"
	"nekostream/internal/model"
)

// filePattern matches the `"file": "<url>"` token in player config JSON.
var filePattern = regexp.MustCompile(`"file"\s*:\s*"([^"]+)"`)

// Extract scans embed page HTML for the first `"file":"..."` token and
// returns the unescaped stream URL. Pages embedding multiple quality
// variants yield only the first match.
func Extract(html string) model.ExtractResult {
	m := filePattern.FindStringSubmatch(html)
	if m == nil {
		return model.ExtractResult{Success: false, Message: "Source pattern not found"}
	}

	// Undo JSON string escaping of forward slashes.
	streamURL := strings.ReplaceAll(m[1], `\/`, `/`)
	return model.ExtractResult{Success: true, URL: streamURL, Type: model.MediaTypeHLS}
}

// Extractor resolves client-supplied URLs to playable streams, scraping the
// embed host when needed.
type Extractor struct {
	client    *client.UpstreamClient
	embedHost string
	logger    *slog.Logger
}

// New creates an Extractor.
func New(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *Extractor {
	return &Extractor{
		client:    c,
		embedHost: cfg.Upstream.EmbedHost,
		logger:    logger.With("component", "extractor"),
	}
}

// NeedsScrape reports whether targetURL points at an embed page rather than
// a directly playable resource.
func (e *Extractor) NeedsScrape(targetURL string) bool {
	return strings.Contains(targetURL, e.embedHost) || strings.Contains(targetURL, "embed")
}

// Scrape fetches the embed page at targetURL and extracts its stream URL.
// Transport failures are reported as extraction failures with the error
// message as the reason; they never escape as errors.
func (e *Extractor) Scrape(ctx context.Context, targetURL string) model.ExtractResult {
	html, err := e.client.FetchPage(ctx, targetURL)
	if err != nil {
		e.logger.Warn("embed page fetch failed", "url", targetURL, "err", err)
		return model.ExtractResult{Success: false, Message: err.Error()}
	}

	result := Extract(html)
	if !result.Success {
		e.logger.Debug("extraction pattern miss", "url", targetURL)
	}
	return result
}
