package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"nekostream/internal/catalog"
)

type catalogFixture struct {
	handler *CatalogHandler
	store   catalog.Store
	views   *catalog.ViewCounter
}

func newCatalogFixture(t *testing.T, pageSize int) *catalogFixture {
	t.Helper()
	logger := testLogger()

	store, err := catalog.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"), logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	genres := catalog.NewGenreCache(store, time.Hour, nil)
	views := catalog.NewViewCounter(store, 16, logger)
	t.Cleanup(views.Close)

	return &catalogFixture{
		handler: NewCatalogHandler(store, genres, views, pageSize, logger),
		store:   store,
		views:   views,
	}
}

func (f *catalogFixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	day := func(d int) time.Time { return time.Date(2026, 8, d, 12, 0, 0, 0, time.UTC) }

	animes := []*catalog.Anime{
		{
			Title:    "Kegareboshi",
			PageSlug: "kegareboshi",
			ImageURL: "/images/kega.jpg",
			Synopsis: "A falling star.",
			Info:     catalog.AnimeInfo{Type: "TV", Status: "Ongoing", Released: "2026"},
			Genres:   []string{"Action", "Drama"},
			Episodes: []catalog.EpisodeRef{
				{URL: "/kegareboshi-episode-3", Title: "Kegareboshi Episode 3", EpisodeNum: 3},
				{URL: "/kegareboshi-episode-2", Title: "Kegareboshi Episode 2", EpisodeNum: 2},
				{URL: "/kegareboshi-episode-1", Title: "Kegareboshi Episode 1", EpisodeNum: 1},
			},
			CreatedAt: day(1),
		},
		{
			Title:     "Summer Days",
			PageSlug:  "summer-days",
			ImageURL:  "/images/summer.jpg",
			Info:      catalog.AnimeInfo{Type: "Movie", Status: "Completed", Released: "2025"},
			Genres:    []string{"Romance", "Slice of Life"},
			ViewCount: 40,
			CreatedAt: day(2),
		},
		{
			Title:     "Zero Gate",
			PageSlug:  "zero-gate",
			Info:      catalog.AnimeInfo{Type: "TV", Status: "Ongoing"},
			Genres:    []string{"Action"},
			ViewCount: 90,
			CreatedAt: day(3),
		},
	}
	for _, a := range animes {
		if err := f.store.UpsertAnime(ctx, a); err != nil {
			t.Fatalf("UpsertAnime(%s): %v", a.PageSlug, err)
		}
	}

	episodes := []*catalog.Episode{
		{
			EpisodeSlug: "/kegareboshi-episode-2",
			Title:       "Kegareboshi Episode 2",
			Streaming: []catalog.StreamSource{
				{Name: "Server A", URL: "https://saitou.my.id/embed/abc123"},
			},
			AnimeTitle: "Kegareboshi",
			AnimeSlug:  "kegareboshi",
			CreatedAt:  day(9),
		},
		{
			EpisodeSlug: "/orphan-episode-1",
			Title:       "Orphan Episode 1",
			CreatedAt:   day(10),
		},
	}
	for _, ep := range episodes {
		if err := f.store.UpsertEpisode(ctx, ep); err != nil {
			t.Fatalf("UpsertEpisode(%s): %v", ep.EpisodeSlug, err)
		}
	}
}

func doCatalogRequest(t *testing.T, h echo.HandlerFunc, target string, pathParams map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for name, value := range pathParams {
		c.SetParamNames(name)
		c.SetParamValues(value)
	}

	if err := h(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return rec, body
}

func TestHome(t *testing.T) {
	f := newCatalogFixture(t, 20)
	f.seed(t)

	rec, body := doCatalogRequest(t, f.handler.Home, "/api/home", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["success"] != true {
		t.Error("success = false")
	}

	data := body["data"].(map[string]any)
	episodes := data["episodes"].([]any)
	if len(episodes) != 2 {
		t.Fatalf("episodes len = %d, want 2", len(episodes))
	}

	// Newest episode first; orphan episode falls back to the default image.
	first := episodes[0].(map[string]any)
	if first["watchUrl"] != "/watch/orphan-episode-1" {
		t.Errorf("watchUrl = %v", first["watchUrl"])
	}
	if first["imageUrl"] != "/images/default.jpg" {
		t.Errorf("orphan imageUrl = %v", first["imageUrl"])
	}
	if first["quality"] != "720p" {
		t.Errorf("quality = %v", first["quality"])
	}

	// The second episode resolves its image from the parent series.
	second := episodes[1].(map[string]any)
	if second["imageUrl"] != "/images/kega.jpg" {
		t.Errorf("imageUrl = %v, want parent series image", second["imageUrl"])
	}

	latest := data["latestSeries"].([]any)
	if len(latest) != 3 {
		t.Errorf("latestSeries len = %d", len(latest))
	}

	pg := body["pagination"].(map[string]any)
	if pg["currentPage"] != float64(1) || pg["totalItems"] != float64(2) || pg["hasNextPage"] != false {
		t.Errorf("pagination = %v", pg)
	}
}

func TestEpisodes_Pagination(t *testing.T) {
	f := newCatalogFixture(t, 1)
	f.seed(t)

	rec, body := doCatalogRequest(t, f.handler.Episodes, "/api/episodes?page=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	cards := body["data"].([]any)
	if len(cards) != 1 {
		t.Fatalf("cards len = %d", len(cards))
	}
	card := cards[0].(map[string]any)
	if card["quality"] != "HD" {
		t.Errorf("quality = %v", card["quality"])
	}
	if card["animeTitle"] != "Kegareboshi" {
		t.Errorf("animeTitle = %v", card["animeTitle"])
	}

	pg := body["pagination"].(map[string]any)
	if pg["currentPage"] != float64(2) || pg["totalPages"] != float64(2) || pg["hasNextPage"] != false {
		t.Errorf("pagination = %v", pg)
	}
}

func TestAnimes_SortAndFilter(t *testing.T) {
	f := newCatalogFixture(t, 20)
	f.seed(t)

	_, body := doCatalogRequest(t, f.handler.Animes, "/api/animes?sort=az", nil)
	cards := body["data"].([]any)
	if len(cards) != 3 {
		t.Fatalf("cards len = %d", len(cards))
	}
	if cards[0].(map[string]any)["title"] != "Kegareboshi" {
		t.Errorf("az first = %v", cards[0].(map[string]any)["title"])
	}

	_, body = doCatalogRequest(t, f.handler.Animes, "/api/animes?status=completed", nil)
	cards = body["data"].([]any)
	if len(cards) != 1 || cards[0].(map[string]any)["pageSlug"] != "summer-days" {
		t.Errorf("status filter = %v", cards)
	}
	pg := body["pagination"].(map[string]any)
	if pg["totalItems"] != float64(1) {
		t.Errorf("pagination = %v", pg)
	}
}

func TestTrending(t *testing.T) {
	f := newCatalogFixture(t, 20)
	f.seed(t)

	rec, body := doCatalogRequest(t, f.handler.Trending, "/api/trending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	animes := body["data"].(map[string]any)["animes"].([]any)
	if len(animes) != 3 {
		t.Fatalf("animes len = %d", len(animes))
	}
	if animes[0].(map[string]any)["pageSlug"] != "zero-gate" {
		t.Errorf("most viewed first = %v", animes[0])
	}
}

func TestSearch(t *testing.T) {
	f := newCatalogFixture(t, 20)
	f.seed(t)

	rec, body := doCatalogRequest(t, f.handler.Search, "/api/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without q", rec.Code)
	}
	if body["message"] != `Query parameter "q" is required` {
		t.Errorf("message = %v", body["message"])
	}

	rec, body = doCatalogRequest(t, f.handler.Search, "/api/search?q=summer", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := body["data"].(map[string]any)
	if data["query"] != "summer" {
		t.Errorf("query echo = %v", data["query"])
	}
	animes := data["animes"].([]any)
	if len(animes) != 1 || animes[0].(map[string]any)["pageSlug"] != "summer-days" {
		t.Errorf("animes = %v", animes)
	}
}

func TestGenres(t *testing.T) {
	f := newCatalogFixture(t, 20)
	f.seed(t)

	rec, body := doCatalogRequest(t, f.handler.Genres, "/api/genres", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	genres := body["data"].([]any)
	if len(genres) != 4 {
		t.Fatalf("genres = %v, want 4 distinct", genres)
	}
	if genres[0] != "Action" {
		t.Errorf("genres[0] = %v, want sorted list", genres[0])
	}
}

func TestGenre(t *testing.T) {
	f := newCatalogFixture(t, 20)
	f.seed(t)

	rec, body := doCatalogRequest(t, f.handler.Genre, "/api/genre/western", map[string]string{"genreSlug": "western"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body["message"] != "Genre not found" {
		t.Errorf("message = %v", body["message"])
	}

	rec, body = doCatalogRequest(t, f.handler.Genre, "/api/genre/slice-of-life", map[string]string{"genreSlug": "slice-of-life"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := body["data"].(map[string]any)
	if data["genreName"] != "Slice of Life" {
		t.Errorf("genreName = %v", data["genreName"])
	}
	animes := data["animes"].([]any)
	if len(animes) != 1 || animes[0].(map[string]any)["pageSlug"] != "summer-days" {
		t.Errorf("animes = %v", animes)
	}
}

func TestAnime(t *testing.T) {
	f := newCatalogFixture(t, 20)
	f.seed(t)

	rec, body := doCatalogRequest(t, f.handler.Anime, "/api/anime/missing", map[string]string{"slug": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body["message"] != "Anime not found" {
		t.Errorf("message = %v", body["message"])
	}

	rec, body = doCatalogRequest(t, f.handler.Anime, "/api/anime/kegareboshi", map[string]string{"slug": "kegareboshi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := body["data"].(map[string]any)
	anime := data["anime"].(map[string]any)
	if anime["title"] != "Kegareboshi" {
		t.Errorf("title = %v", anime["title"])
	}

	eps := anime["episodes"].([]any)
	if eps[0].(map[string]any)["watchUrl"] != "/watch/kegareboshi-episode-3" {
		t.Errorf("watchUrl = %v", eps[0].(map[string]any)["watchUrl"])
	}

	recs := data["recommendations"].([]any)
	if len(recs) != 2 {
		t.Errorf("recommendations len = %d, want 2 (self excluded)", len(recs))
	}
	for _, r := range recs {
		if r.(map[string]any)["pageSlug"] == "kegareboshi" {
			t.Error("recommendations include the requested series")
		}
	}

	// The async counter must have recorded the visit once drained.
	f.views.Close()
	got, err := f.store.AnimeBySlug(context.Background(), "kegareboshi")
	if err != nil {
		t.Fatalf("AnimeBySlug: %v", err)
	}
	if got.ViewCount != 1 {
		t.Errorf("ViewCount = %d, want 1", got.ViewCount)
	}
}

func TestWatch(t *testing.T) {
	f := newCatalogFixture(t, 20)
	f.seed(t)

	rec, body := doCatalogRequest(t, f.handler.Watch, "/api/watch/missing-episode", map[string]string{"slug": "missing-episode"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body["message"] != "Episode not found (Slug mismatch?)" {
		t.Errorf("message = %v", body["message"])
	}
	if body["requestedSlug"] != "/missing-episode" {
		t.Errorf("requestedSlug = %v", body["requestedSlug"])
	}

	rec, body = doCatalogRequest(t, f.handler.Watch, "/api/watch/kegareboshi-episode-2", map[string]string{"slug": "kegareboshi-episode-2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := body["data"].(map[string]any)

	episode := data["episode"].(map[string]any)
	streaming := episode["streaming"].([]any)
	want := base64.StdEncoding.EncodeToString([]byte("https://saitou.my.id/embed/abc123"))
	if got := streaming[0].(map[string]any)["url"]; got != want {
		t.Errorf("stream url = %v, want base64 %q", got, want)
	}

	parent := data["parentAnime"].(map[string]any)
	if parent["slug"] != "kegareboshi" {
		t.Errorf("parent slug = %v", parent["slug"])
	}

	nav := data["navigation"].(map[string]any)
	prev := nav["prev"].(map[string]any)
	if prev["url"] != "/watch/kegareboshi-episode-1" {
		t.Errorf("prev url = %v", prev["url"])
	}
	next := nav["next"].(map[string]any)
	if next["url"] != "/watch/kegareboshi-episode-3" {
		t.Errorf("next url = %v", next["url"])
	}
	if nav["all"] != "/anime/kegareboshi" {
		t.Errorf("all = %v", nav["all"])
	}

	if _, ok := data["latestSeries"].([]any); !ok {
		t.Error("latestSeries missing")
	}
}

func TestWatch_OrphanEpisodeHasNoParentBlock(t *testing.T) {
	f := newCatalogFixture(t, 20)
	f.seed(t)

	rec, body := doCatalogRequest(t, f.handler.Watch, "/api/watch/orphan-episode-1", map[string]string{"slug": "orphan-episode-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := body["data"].(map[string]any)
	if data["parentAnime"] != nil {
		t.Errorf("parentAnime = %v, want null", data["parentAnime"])
	}
	nav := data["navigation"].(map[string]any)
	if nav["prev"] != nil || nav["next"] != nil || nav["all"] != nil {
		t.Errorf("navigation = %v, want empty", nav)
	}
}
