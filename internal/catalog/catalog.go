// Package catalog provides the anime/episode catalog: storage, the genre
// cache, and the best-effort view counter.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up anime or episode does not exist.
var ErrNotFound = errors.New("catalog: not found")

// AnimeInfo holds the free-form metadata block scraped from series pages.
// Field names mirror the upstream site's labels.
type AnimeInfo struct {
	Alternatif string `json:"Alternatif"`
	Type       string `json:"Type"`
	Status     string `json:"Status"`
	Produser   string `json:"Produser"`
	Released   string `json:"Released"`
	Studio     string `json:"Studio"`
	Duration   string `json:"Duration"`
	Censor     string `json:"Censor"`
}

// EpisodeRef is an episode entry embedded in a series, ordered newest first.
type EpisodeRef struct {
	URL        string `json:"url"` // e.g. /kegareboshi-episode-1
	Title      string `json:"title"`
	Date       string `json:"date"`
	EpisodeNum int    `json:"episodeNum"`
	WatchURL   string `json:"watchUrl,omitempty"`
}

// Anime is a catalog series.
type Anime struct {
	ID        int64        `json:"-"`
	Title     string       `json:"title"`
	PageSlug  string       `json:"pageSlug"`
	ImageURL  string       `json:"imageUrl"`
	Synopsis  string       `json:"synopsis"`
	Info      AnimeInfo    `json:"info"`
	Genres    []string     `json:"genres"`
	Episodes  []EpisodeRef `json:"episodes"`
	ViewCount int64        `json:"viewCount"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// AnimeCard is the reduced series projection used by listing endpoints.
type AnimeCard struct {
	Title     string    `json:"title"`
	PageSlug  string    `json:"pageSlug"`
	ImageURL  string    `json:"imageUrl"`
	Info      CardInfo  `json:"info"`
	ViewCount int64     `json:"viewCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// CardInfo is the metadata subset shown on listing cards.
type CardInfo struct {
	Type     string `json:"Type"`
	Status   string `json:"Status"`
	Released string `json:"Released"`
}

// StreamSource is a named streaming mirror for an episode. URL is delivered
// to clients base64-encoded; clients decode it and pass the decoded value to
// /api/extract or /api/proxy.
type StreamSource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// DownloadLink is a single download mirror.
type DownloadLink struct {
	Host string `json:"host"`
	URL  string `json:"url"`
}

// DownloadGroup is the set of download mirrors for one quality.
type DownloadGroup struct {
	Quality string         `json:"quality"`
	Links   []DownloadLink `json:"links"`
}

// Episode is a catalog episode. EpisodeSlug is stored with a leading slash.
type Episode struct {
	ID            int64           `json:"-"`
	EpisodeSlug   string          `json:"episodeSlug"`
	Title         string          `json:"title"`
	EpisodeIndex  int             `json:"episode_index"`
	Streaming     []StreamSource  `json:"streaming"`
	Downloads     []DownloadGroup `json:"downloads"`
	AnimeTitle    string          `json:"animeTitle"`
	AnimeSlug     string          `json:"animeSlug"`
	AnimeImageURL string          `json:"animeImageUrl"`
	ThumbnailURL  string          `json:"thumbnailUrl"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// AnimeSort selects the ordering of directory listings.
type AnimeSort string

// Directory sort orders.
const (
	SortLatest  AnimeSort = "latest"
	SortOldest  AnimeSort = "oldest"
	SortAZ      AnimeSort = "az"
	SortZA      AnimeSort = "za"
	SortPopular AnimeSort = "popular"
)

// ListAnimesOptions filters and orders the anime directory.
type ListAnimesOptions struct {
	Sort   AnimeSort
	Status string // optional, matched case-insensitively
	Page   int
	Limit  int
}

// Store is the catalog storage interface. Implementations return ErrNotFound
// for missing single-row lookups and totals alongside every paginated list.
type Store interface {
	UpsertAnime(ctx context.Context, a *Anime) error
	UpsertEpisode(ctx context.Context, ep *Episode) error

	AnimeBySlug(ctx context.Context, pageSlug string) (*Anime, error)
	EpisodeBySlug(ctx context.Context, episodeSlug string) (*Episode, error)

	ListAnimes(ctx context.Context, opts ListAnimesOptions) ([]AnimeCard, int, error)
	SearchAnimes(ctx context.Context, query string, page, limit int) ([]AnimeCard, int, error)
	AnimesByGenre(ctx context.Context, genre string, page, limit int) ([]AnimeCard, int, error)
	LatestAnimes(ctx context.Context, limit int) ([]AnimeCard, error)
	TrendingAnimes(ctx context.Context, limit int) ([]AnimeCard, error)
	RandomAnimes(ctx context.Context, limit int, excludeSlug string) ([]AnimeCard, error)

	ListEpisodes(ctx context.Context, page, limit int) ([]Episode, int, error)
	ImagesBySlugs(ctx context.Context, slugs []string) (map[string]string, error)

	DistinctGenres(ctx context.Context) ([]string, error)
	IncrementViews(ctx context.Context, pageSlug string) error

	Close() error
}
