package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"nekostream/internal/extractor"
	"nekostream/internal/service"
)

// StreamHandler serves the stream extraction and proxy relay endpoints.
type StreamHandler struct {
	extractor *extractor.Extractor
	relay     *service.RelayService
	logger    *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(ex *extractor.Extractor, relay *service.RelayService, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		extractor: ex,
		relay:     relay,
		logger:    logger.With("component", "stream_handler"),
	}
}

// Extract resolves a playable URL from the url query parameter. Embed-page
// URLs are scraped; anything else is passed through as directly playable.
//
// Extraction failures (pattern miss, upstream fetch failure) are 422: the
// request was understood but could not be fulfilled. They are deliberately not
// 500s, which are reserved for unexpected faults.
func (h *StreamHandler) Extract(c echo.Context) error {
	targetURL := c.QueryParam("url")
	if targetURL == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "URL parameter is required",
		})
	}

	if h.extractor.NeedsScrape(targetURL) {
		result := h.extractor.Scrape(c.Request().Context(), targetURL)
		if !result.Success {
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"success": false,
				"message": "Failed to extract video",
				"debug":   result.Message,
			})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"success": true,
			"data":    result,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]string{"url": targetURL, "type": "direct"},
	})
}

// Proxy relays an upstream resource. Playlists come back fully rewritten so
// every segment and key URL routes through this endpoint again; everything
// else is piped through unbuffered. Upstream failures are a flat 500 with a
// generic body — internal detail goes to the log only.
func (h *StreamHandler) Proxy(c echo.Context) error {
	targetURL := c.QueryParam("url")
	if targetURL == "" {
		return c.String(http.StatusBadRequest, "No URL provided")
	}

	// The externally reachable origin, rebuilt per request: the service is
	// reachable under several hostnames and the rewritten manifest must
	// point back at whichever one the client used. TLS terminates ahead of
	// the service, so the public scheme is always https.
	proxyBase := "https://" + c.Request().Host + "/api/proxy?url="

	relayed, err := h.relay.Relay(c.Request().Context(), targetURL, proxyBase)
	if err != nil {
		h.logger.Error("proxy relay failed", "url", targetURL, "err", err)
		return c.String(http.StatusInternalServerError, "Proxy Error")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderAccessControlAllowOrigin, "*")

	if relayed.Playlist != nil {
		contentType := relayed.ContentType
		if contentType == "" {
			contentType = "application/vnd.apple.mpegurl"
		}
		return c.Blob(http.StatusOK, contentType, relayed.Playlist)
	}

	defer func() { _ = relayed.Body.Close() }()

	if relayed.ContentType != "" {
		res.Header().Set(echo.HeaderContentType, relayed.ContentType)
	}
	if relayed.ContentLength != "" {
		res.Header().Set(echo.HeaderContentLength, relayed.ContentLength)
	}
	res.WriteHeader(http.StatusOK)

	// Copy propagates client backpressure to the upstream read; nothing is
	// buffered beyond the copy window. A mid-stream failure after the
	// status line is an inherent trade-off of streaming proxies, so it is
	// only logged.
	if _, err := io.Copy(res, relayed.Body); err != nil {
		h.logger.Error("streaming response body", "url", targetURL, "err", err)
	}

	return nil
}
