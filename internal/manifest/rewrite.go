// Package manifest rewrites HLS playlists so every embedded URL routes back
// through the proxy endpoint.
package manifest

import (
	"net/url"
	"regexp"
	"strings"
)

// absoluteURLPattern matches an absolute http(s) URL: the scheme followed by
// a run of non-whitespace characters. Applied to every line uniformly —
// player-relevant URLs appear both in #EXT-X-* attribute values (key URIs)
// and on bare segment lines, and both must be proxied.
var absoluteURLPattern = regexp.MustCompile(`https?://\S+`)

// Rewrite replaces every absolute URL in manifestText with
// proxyBase + percent-encoded URL, preserving all other content verbatim.
// The matched URL is fully escaped so it survives as a single query value.
//
// Rewrite must not be applied twice to the same body: already-rewritten URLs
// match the pattern again and would be double-wrapped.
func Rewrite(manifestText, proxyBase string) string {
	return absoluteURLPattern.ReplaceAllStringFunc(manifestText, func(m string) string {
		return proxyBase + url.QueryEscape(m)
	})
}

// IsPlaylist reports whether an upstream response should be treated as an
// HLS playlist. Some upstreams omit or mis-set Content-Type for manifests,
// so the target URL is consulted as a fallback.
func IsPlaylist(contentType, targetURL string) bool {
	return strings.Contains(contentType, "mpegurl") || strings.Contains(targetURL, ".m3u8")
}
