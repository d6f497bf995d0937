package handler

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gosimple/slug"
	"github.com/labstack/echo/v4"

	"nekostream/internal/catalog"
)

const defaultImageURL = "/images/default.jpg"

// pagination is the listing envelope shared by every paginated endpoint.
type pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalItems  int  `json:"totalItems"`
	HasNextPage bool `json:"hasNextPage"`
}

func paginate(page, total, limit int) pagination {
	totalPages := (total + limit - 1) / limit
	return pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalItems:  total,
		HasNextPage: page < totalPages,
	}
}

// homeEpisodeCard is the episode projection on the home feed.
type homeEpisodeCard struct {
	WatchURL  string    `json:"watchUrl"`
	Title     string    `json:"title"`
	ImageURL  string    `json:"imageUrl"`
	Quality   string    `json:"quality"`
	Year      string    `json:"year"`
	CreatedAt time.Time `json:"createdAt"`
}

// episodeCard is the episode projection on the episode directory.
type episodeCard struct {
	Title      string    `json:"title"`
	WatchURL   string    `json:"watchUrl"`
	ImageURL   string    `json:"imageUrl"`
	AnimeTitle string    `json:"animeTitle"`
	ReleasedAt time.Time `json:"releasedAt"`
	Quality    string    `json:"quality"`
	Year       int       `json:"year"`
}

// navEntry points a player at the previous or next episode.
type navEntry struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// navigation is the episode prev/next/all block on the watch page.
type navigation struct {
	Prev *navEntry `json:"prev"`
	Next *navEntry `json:"next"`
	All  *string   `json:"all"`
}

// parentAnime is the reduced series block embedded in a watch response.
type parentAnime struct {
	Title    string               `json:"title"`
	Slug     string               `json:"slug"`
	ImageURL string               `json:"imageUrl"`
	Synopsis string               `json:"synopsis"`
	Episodes []catalog.EpisodeRef `json:"episodes"`
}

// CatalogHandler serves the anime/episode catalog endpoints.
type CatalogHandler struct {
	store    catalog.Store
	genres   *catalog.GenreCache
	views    *catalog.ViewCounter
	pageSize int
	logger   *slog.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(store catalog.Store, genres *catalog.GenreCache, views *catalog.ViewCounter, pageSize int, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		store:    store,
		genres:   genres,
		views:    views,
		pageSize: pageSize,
		logger:   logger.With("component", "catalog_handler"),
	}
}

// Home serves the landing feed: the latest episode page plus the newest series.
func (h *CatalogHandler) Home(c echo.Context) error {
	ctx := c.Request().Context()
	page := queryPage(c)

	episodes, total, err := h.store.ListEpisodes(ctx, page, h.pageSize)
	if err != nil {
		return h.serverError(c, err)
	}
	latest, err := h.store.LatestAnimes(ctx, h.pageSize)
	if err != nil {
		return h.serverError(c, err)
	}

	images, err := h.episodeImages(c, episodes)
	if err != nil {
		return h.serverError(c, err)
	}

	cards := make([]homeEpisodeCard, 0, len(episodes))
	for _, ep := range episodes {
		cards = append(cards, homeEpisodeCard{
			WatchURL:  "/watch" + ep.EpisodeSlug,
			Title:     ep.Title,
			ImageURL:  episodeImage(ep, images),
			Quality:   "720p",
			Year:      strconv.Itoa(ep.UpdatedAt.Year()),
			CreatedAt: ep.UpdatedAt,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"episodes":     cards,
			"latestSeries": fillSlugs(latest),
		},
		"pagination": paginate(page, total, h.pageSize),
	})
}

// Episodes serves the paginated episode directory.
func (h *CatalogHandler) Episodes(c echo.Context) error {
	ctx := c.Request().Context()
	page := queryPage(c)

	episodes, total, err := h.store.ListEpisodes(ctx, page, h.pageSize)
	if err != nil {
		return h.serverError(c, err)
	}

	images, err := h.episodeImages(c, episodes)
	if err != nil {
		return h.serverError(c, err)
	}

	cards := make([]episodeCard, 0, len(episodes))
	for _, ep := range episodes {
		cards = append(cards, episodeCard{
			Title:      ep.Title,
			WatchURL:   "/watch" + ep.EpisodeSlug,
			ImageURL:   episodeImage(ep, images),
			AnimeTitle: ep.AnimeTitle,
			ReleasedAt: ep.UpdatedAt,
			Quality:    "HD",
			Year:       ep.UpdatedAt.Year(),
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"data":       cards,
		"pagination": paginate(page, total, h.pageSize),
	})
}

// Animes serves the series directory with sorting and status filtering.
func (h *CatalogHandler) Animes(c echo.Context) error {
	opts := catalog.ListAnimesOptions{
		Sort:   catalog.AnimeSort(c.QueryParam("sort")),
		Status: c.QueryParam("status"),
		Page:   queryPage(c),
		Limit:  h.pageSize,
	}

	animes, total, err := h.store.ListAnimes(c.Request().Context(), opts)
	if err != nil {
		return h.serverError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"data":       fillSlugs(animes),
		"pagination": paginate(opts.Page, total, h.pageSize),
	})
}

// Trending serves the most viewed series.
func (h *CatalogHandler) Trending(c echo.Context) error {
	animes, err := h.store.TrendingAnimes(c.Request().Context(), h.pageSize)
	if err != nil {
		return h.serverError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"animes": fillSlugs(animes)},
	})
}

// Search serves case-insensitive title search.
func (h *CatalogHandler) Search(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"message": `Query parameter "q" is required`,
		})
	}
	page := queryPage(c)

	animes, total, err := h.store.SearchAnimes(c.Request().Context(), q, page, h.pageSize)
	if err != nil {
		return h.serverError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"data":       map[string]any{"query": q, "animes": fillSlugs(animes)},
		"pagination": paginate(page, total, h.pageSize),
	})
}

// Genres serves the cached genre list.
func (h *CatalogHandler) Genres(c echo.Context) error {
	genres, err := h.genres.Genres(c.Request().Context())
	if err != nil {
		return h.serverError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "data": genres})
}

// Genre serves one genre's series page, resolving the slug against the
// cached genre list.
func (h *CatalogHandler) Genre(c echo.Context) error {
	ctx := c.Request().Context()
	page := queryPage(c)

	genre, ok, err := h.genres.ResolveSlug(ctx, c.Param("genreSlug"))
	if err != nil {
		return h.serverError(c, err)
	}
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]any{
			"success": false,
			"message": "Genre not found",
		})
	}

	animes, total, err := h.store.AnimesByGenre(ctx, genre, page, h.pageSize)
	if err != nil {
		return h.serverError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"data":       map[string]any{"genreName": genre, "animes": fillSlugs(animes)},
		"pagination": paginate(page, total, h.pageSize),
	})
}

// Anime serves a series detail page with random recommendations.
func (h *CatalogHandler) Anime(c echo.Context) error {
	ctx := c.Request().Context()
	pageSlug := c.Param("slug")

	anime, err := h.store.AnimeBySlug(ctx, pageSlug)
	if errors.Is(err, catalog.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]any{
			"success": false,
			"message": "Anime not found",
		})
	}
	if err != nil {
		return h.serverError(c, err)
	}

	recommendations, err := h.store.RandomAnimes(ctx, 10, pageSlug)
	if err != nil {
		return h.serverError(c, err)
	}

	h.views.Bump(pageSlug)

	for i := range anime.Episodes {
		anime.Episodes[i].WatchURL = "/watch" + anime.Episodes[i].URL
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"anime":           anime,
			"recommendations": fillSlugs(recommendations),
		},
	})
}

// Watch serves an episode detail page: the episode with base64-encoded
// stream URLs, the parent series, prev/next navigation, recommendations,
// and the latest series strip.
func (h *CatalogHandler) Watch(c echo.Context) error {
	ctx := c.Request().Context()
	episodeSlug := "/" + c.Param("slug")

	episode, err := h.store.EpisodeBySlug(ctx, episodeSlug)
	if errors.Is(err, catalog.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]any{
			"success":       false,
			"message":       "Episode not found (Slug mismatch?)",
			"requestedSlug": episodeSlug,
		})
	}
	if err != nil {
		return h.serverError(c, err)
	}

	recommendations, err := h.store.RandomAnimes(ctx, 10, "")
	if err != nil {
		return h.serverError(c, err)
	}
	latest, err := h.store.LatestAnimes(ctx, h.pageSize)
	if err != nil {
		return h.serverError(c, err)
	}

	var parent *catalog.Anime
	if episode.AnimeSlug != "" {
		parent, err = h.store.AnimeBySlug(ctx, episode.AnimeSlug)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return h.serverError(c, err)
		}
	}

	// Stream URLs go out base64-encoded; the client decodes and feeds the
	// raw value back to /api/extract or /api/proxy.
	for i, src := range episode.Streaming {
		episode.Streaming[i].URL = base64.StdEncoding.EncodeToString([]byte(src.URL))
	}

	nav := navigation{}
	var parentBlock *parentAnime
	if parent != nil {
		h.views.Bump(parent.PageSlug)

		all := "/anime/" + parent.PageSlug
		nav.All = &all
		// The parent's episode list is ordered newest first, so "previous"
		// is the next index down the list.
		for idx, ref := range parent.Episodes {
			if ref.URL != episodeSlug {
				continue
			}
			if idx < len(parent.Episodes)-1 {
				prev := parent.Episodes[idx+1]
				nav.Prev = &navEntry{Title: prev.Title, URL: "/watch" + prev.URL}
			}
			if idx > 0 {
				next := parent.Episodes[idx-1]
				nav.Next = &navEntry{Title: next.Title, URL: "/watch" + next.URL}
			}
			break
		}

		parentBlock = &parentAnime{
			Title:    parent.Title,
			Slug:     parent.PageSlug,
			ImageURL: parent.ImageURL,
			Synopsis: parent.Synopsis,
			Episodes: parent.Episodes,
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"episode":         episode,
			"parentAnime":     parentBlock,
			"navigation":      nav,
			"recommendations": fillSlugs(recommendations),
			"latestSeries":    fillSlugs(latest),
		},
	})
}

func (h *CatalogHandler) serverError(c echo.Context, err error) error {
	h.logger.Error("catalog query failed", "path", c.Request().URL.Path, "err", err)
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"success": false,
		"message": "Internal Server Error",
	})
}

// episodeImages resolves episode card images from the parent series records.
func (h *CatalogHandler) episodeImages(c echo.Context, episodes []catalog.Episode) (map[string]string, error) {
	seen := map[string]bool{}
	slugs := []string{}
	for _, ep := range episodes {
		if ep.AnimeSlug != "" && !seen[ep.AnimeSlug] {
			seen[ep.AnimeSlug] = true
			slugs = append(slugs, ep.AnimeSlug)
		}
	}
	return h.store.ImagesBySlugs(c.Request().Context(), slugs)
}

// episodeImage prefers the parent series image, then the episode's own copy.
func episodeImage(ep catalog.Episode, images map[string]string) string {
	if img := images[ep.AnimeSlug]; img != "" {
		return img
	}
	if ep.AnimeImageURL != "" {
		return ep.AnimeImageURL
	}
	return defaultImageURL
}

// fillSlugs backfills a missing pageSlug from the title, mirroring ingest
// behavior for rows that predate slug generation.
func fillSlugs(cards []catalog.AnimeCard) []catalog.AnimeCard {
	for i := range cards {
		if cards[i].PageSlug == "" {
			cards[i].PageSlug = slug.Make(cards[i].Title)
		}
	}
	return cards
}

func queryPage(c echo.Context) int {
	page, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
