package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, stream *StreamHandler, cat *CatalogHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)

	api := e.Group("/api")

	api.GET("/status", health.Status)

	api.GET("/extract", stream.Extract)
	api.GET("/proxy", stream.Proxy)

	api.GET("/home", cat.Home)
	api.GET("/trending", cat.Trending)
	api.GET("/search", cat.Search)
	api.GET("/genres", cat.Genres)
	api.GET("/genre/:genreSlug", cat.Genre)
	api.GET("/watch/:slug", cat.Watch)
	api.GET("/anime/:slug", cat.Anime)
	api.GET("/animes", cat.Animes)
	api.GET("/episodes", cat.Episodes)
}
