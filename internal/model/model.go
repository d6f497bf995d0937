// Package model defines shared types for the extraction and proxy pipeline.
package model

import (
	"io"
	"net/http"
)

// Media types reported by the extraction endpoint.
const (
	MediaTypeHLS    = "hls"
	MediaTypeDirect = "direct"
)

// ExtractResult is the outcome of resolving an embed URL to a playable stream.
// Exactly one of URL (on success) or Message (on failure) is meaningful.
type ExtractResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// UpstreamResponse is a fetched upstream resource. Body ownership transfers
// to the caller, which must close it. Only Content-Type and Content-Length
// are ever forwarded to clients; all other upstream headers are dropped.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
