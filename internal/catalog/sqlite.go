package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS animes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	page_slug TEXT NOT NULL UNIQUE,
	image_url TEXT NOT NULL DEFAULT '/images/default.jpg',
	synopsis TEXT NOT NULL DEFAULT '',
	info_alternatif TEXT NOT NULL DEFAULT '',
	info_type TEXT NOT NULL DEFAULT '',
	info_status TEXT NOT NULL DEFAULT 'Unknown',
	info_produser TEXT NOT NULL DEFAULT '',
	info_released TEXT NOT NULL DEFAULT '',
	info_studio TEXT NOT NULL DEFAULT '',
	info_duration TEXT NOT NULL DEFAULT '',
	info_censor TEXT NOT NULL DEFAULT '',
	view_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_animes_view_count ON animes(view_count);
CREATE INDEX IF NOT EXISTS idx_animes_created_at ON animes(created_at);

CREATE TABLE IF NOT EXISTS anime_genres (
	anime_id INTEGER NOT NULL REFERENCES animes(id) ON DELETE CASCADE,
	genre TEXT NOT NULL,
	PRIMARY KEY (anime_id, genre)
);

CREATE TABLE IF NOT EXISTS anime_episodes (
	anime_id INTEGER NOT NULL REFERENCES animes(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	date TEXT NOT NULL DEFAULT '',
	episode_num INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (anime_id, position)
);

CREATE TABLE IF NOT EXISTS episodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	episode_slug TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	episode_index INTEGER NOT NULL DEFAULT 0,
	streaming TEXT NOT NULL DEFAULT '[]',
	downloads TEXT NOT NULL DEFAULT '[]',
	anime_title TEXT NOT NULL DEFAULT '',
	anime_slug TEXT NOT NULL DEFAULT '',
	anime_image_url TEXT NOT NULL DEFAULT '',
	thumbnail_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodes_anime_slug ON episodes(anime_slug);
CREATE INDEX IF NOT EXISTS idx_episodes_updated_at ON episodes(updated_at);
`

const animeCardColumns = `title, page_slug, image_url, info_type, info_status, info_released, view_count, created_at`

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (creating if needed) the catalog database at path and
// initializes the schema. WAL mode is enabled for read concurrency.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("catalog: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: init schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "catalog_store"),
		now:    time.Now,
	}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertAnime inserts or updates a series by page slug, replacing its genre
// list and embedded episode refs.
func (s *SQLiteStore) UpsertAnime(ctx context.Context, a *Anime) error {
	now := s.now().UTC()
	created := a.CreatedAt
	if created.IsZero() {
		created = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO animes (title, page_slug, image_url, synopsis,
			info_alternatif, info_type, info_status, info_produser,
			info_released, info_studio, info_duration, info_censor,
			view_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(page_slug) DO UPDATE SET
			title = excluded.title,
			image_url = excluded.image_url,
			synopsis = excluded.synopsis,
			info_alternatif = excluded.info_alternatif,
			info_type = excluded.info_type,
			info_status = excluded.info_status,
			info_produser = excluded.info_produser,
			info_released = excluded.info_released,
			info_studio = excluded.info_studio,
			info_duration = excluded.info_duration,
			info_censor = excluded.info_censor,
			updated_at = excluded.updated_at`,
		a.Title, a.PageSlug, a.ImageURL, a.Synopsis,
		a.Info.Alternatif, a.Info.Type, a.Info.Status, a.Info.Produser,
		a.Info.Released, a.Info.Studio, a.Info.Duration, a.Info.Censor,
		a.ViewCount, created, now,
	)
	if err != nil {
		return fmt.Errorf("catalog: upsert anime %s: %w", a.PageSlug, err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM animes WHERE page_slug = ?`, a.PageSlug).Scan(&id); err != nil {
		return fmt.Errorf("catalog: resolve anime id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM anime_genres WHERE anime_id = ?`, id); err != nil {
		return fmt.Errorf("catalog: clear genres: %w", err)
	}
	for _, g := range a.Genres {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO anime_genres (anime_id, genre) VALUES (?, ?)`, id, g); err != nil {
			return fmt.Errorf("catalog: insert genre: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM anime_episodes WHERE anime_id = ?`, id); err != nil {
		return fmt.Errorf("catalog: clear episode refs: %w", err)
	}
	for i, ep := range a.Episodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO anime_episodes (anime_id, position, url, title, date, episode_num)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, ep.URL, ep.Title, ep.Date, ep.EpisodeNum,
		); err != nil {
			return fmt.Errorf("catalog: insert episode ref: %w", err)
		}
	}

	a.ID = id
	return tx.Commit()
}

// UpsertEpisode inserts or updates an episode by slug.
func (s *SQLiteStore) UpsertEpisode(ctx context.Context, ep *Episode) error {
	now := s.now().UTC()
	created := ep.CreatedAt
	if created.IsZero() {
		created = now
	}

	streaming, err := json.Marshal(emptyIfNilStreams(ep.Streaming))
	if err != nil {
		return fmt.Errorf("catalog: marshal streaming: %w", err)
	}
	downloads, err := json.Marshal(emptyIfNilDownloads(ep.Downloads))
	if err != nil {
		return fmt.Errorf("catalog: marshal downloads: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodes (episode_slug, title, episode_index, streaming, downloads,
			anime_title, anime_slug, anime_image_url, thumbnail_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(episode_slug) DO UPDATE SET
			title = excluded.title,
			episode_index = excluded.episode_index,
			streaming = excluded.streaming,
			downloads = excluded.downloads,
			anime_title = excluded.anime_title,
			anime_slug = excluded.anime_slug,
			anime_image_url = excluded.anime_image_url,
			thumbnail_url = excluded.thumbnail_url,
			updated_at = excluded.updated_at`,
		ep.EpisodeSlug, ep.Title, ep.EpisodeIndex, string(streaming), string(downloads),
		ep.AnimeTitle, ep.AnimeSlug, ep.AnimeImageURL, ep.ThumbnailURL, created, now,
	)
	if err != nil {
		return fmt.Errorf("catalog: upsert episode %s: %w", ep.EpisodeSlug, err)
	}
	return nil
}

// AnimeBySlug returns the full series record including genres and episode refs.
func (s *SQLiteStore) AnimeBySlug(ctx context.Context, pageSlug string) (*Anime, error) {
	a := &Anime{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, page_slug, image_url, synopsis,
			info_alternatif, info_type, info_status, info_produser,
			info_released, info_studio, info_duration, info_censor,
			view_count, created_at, updated_at
		FROM animes WHERE page_slug = ?`, pageSlug,
	).Scan(
		&a.ID, &a.Title, &a.PageSlug, &a.ImageURL, &a.Synopsis,
		&a.Info.Alternatif, &a.Info.Type, &a.Info.Status, &a.Info.Produser,
		&a.Info.Released, &a.Info.Studio, &a.Info.Duration, &a.Info.Censor,
		&a.ViewCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: anime by slug: %w", err)
	}

	a.Genres, err = s.genresFor(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT url, title, date, episode_num FROM anime_episodes
		WHERE anime_id = ? ORDER BY position`, a.ID)
	if err != nil {
		return nil, fmt.Errorf("catalog: episode refs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	a.Episodes = []EpisodeRef{}
	for rows.Next() {
		var ref EpisodeRef
		if err := rows.Scan(&ref.URL, &ref.Title, &ref.Date, &ref.EpisodeNum); err != nil {
			return nil, fmt.Errorf("catalog: scan episode ref: %w", err)
		}
		a.Episodes = append(a.Episodes, ref)
	}
	return a, rows.Err()
}

func (s *SQLiteStore) genresFor(ctx context.Context, animeID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT genre FROM anime_genres WHERE anime_id = ? ORDER BY genre`, animeID)
	if err != nil {
		return nil, fmt.Errorf("catalog: genres for anime: %w", err)
	}
	defer func() { _ = rows.Close() }()

	genres := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("catalog: scan genre: %w", err)
		}
		genres = append(genres, g)
	}
	return genres, rows.Err()
}

// EpisodeBySlug returns the full episode record.
func (s *SQLiteStore) EpisodeBySlug(ctx context.Context, episodeSlug string) (*Episode, error) {
	ep := &Episode{}
	var streaming, downloads string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, episode_slug, title, episode_index, streaming, downloads,
			anime_title, anime_slug, anime_image_url, thumbnail_url, created_at, updated_at
		FROM episodes WHERE episode_slug = ?`, episodeSlug,
	).Scan(
		&ep.ID, &ep.EpisodeSlug, &ep.Title, &ep.EpisodeIndex, &streaming, &downloads,
		&ep.AnimeTitle, &ep.AnimeSlug, &ep.AnimeImageURL, &ep.ThumbnailURL, &ep.CreatedAt, &ep.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: episode by slug: %w", err)
	}

	if err := json.Unmarshal([]byte(streaming), &ep.Streaming); err != nil {
		return nil, fmt.Errorf("catalog: unmarshal streaming: %w", err)
	}
	if err := json.Unmarshal([]byte(downloads), &ep.Downloads); err != nil {
		return nil, fmt.Errorf("catalog: unmarshal downloads: %w", err)
	}
	return ep, nil
}

// ListAnimes returns one directory page plus the total matching count.
func (s *SQLiteStore) ListAnimes(ctx context.Context, opts ListAnimesOptions) ([]AnimeCard, int, error) {
	where := ""
	args := []any{}
	if opts.Status != "" {
		where = ` WHERE lower(info_status) = lower(?)`
		args = append(args, opts.Status)
	}

	order := ` ORDER BY created_at DESC`
	switch opts.Sort {
	case SortOldest:
		order = ` ORDER BY created_at ASC`
	case SortAZ:
		order = ` ORDER BY title ASC`
	case SortZA:
		order = ` ORDER BY title DESC`
	case SortPopular:
		order = ` ORDER BY view_count DESC`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM animes`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count animes: %w", err)
	}

	query := `SELECT ` + animeCardColumns + ` FROM animes` + where + order + ` LIMIT ? OFFSET ?`
	cards, err := s.queryCards(ctx, query, append(args, opts.Limit, pageOffset(opts.Page, opts.Limit))...)
	if err != nil {
		return nil, 0, err
	}
	return cards, total, nil
}

// SearchAnimes returns animes whose title contains query, newest first.
func (s *SQLiteStore) SearchAnimes(ctx context.Context, query string, page, limit int) ([]AnimeCard, int, error) {
	pattern := "%" + query + "%"

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM animes WHERE title LIKE ?`, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count search: %w", err)
	}

	cards, err := s.queryCards(ctx, `
		SELECT `+animeCardColumns+` FROM animes
		WHERE title LIKE ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		pattern, limit, pageOffset(page, limit))
	if err != nil {
		return nil, 0, err
	}
	return cards, total, nil
}

// AnimesByGenre returns animes tagged with genre (case-insensitive), newest first.
func (s *SQLiteStore) AnimesByGenre(ctx context.Context, genre string, page, limit int) ([]AnimeCard, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT a.id) FROM animes a
		JOIN anime_genres g ON g.anime_id = a.id
		WHERE lower(g.genre) = lower(?)`, genre).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count by genre: %w", err)
	}

	cards, err := s.queryCards(ctx, `
		SELECT DISTINCT a.title, a.page_slug, a.image_url, a.info_type, a.info_status,
			a.info_released, a.view_count, a.created_at
		FROM animes a
		JOIN anime_genres g ON g.anime_id = a.id
		WHERE lower(g.genre) = lower(?)
		ORDER BY a.created_at DESC LIMIT ? OFFSET ?`,
		genre, limit, pageOffset(page, limit))
	if err != nil {
		return nil, 0, err
	}
	return cards, total, nil
}

// LatestAnimes returns the newest series.
func (s *SQLiteStore) LatestAnimes(ctx context.Context, limit int) ([]AnimeCard, error) {
	return s.queryCards(ctx, `SELECT `+animeCardColumns+` FROM animes ORDER BY created_at DESC LIMIT ?`, limit)
}

// TrendingAnimes returns series ranked by view count.
func (s *SQLiteStore) TrendingAnimes(ctx context.Context, limit int) ([]AnimeCard, error) {
	return s.queryCards(ctx, `SELECT `+animeCardColumns+` FROM animes ORDER BY view_count DESC LIMIT ?`, limit)
}

// RandomAnimes returns a random sample excluding excludeSlug (pass "" to
// exclude none).
func (s *SQLiteStore) RandomAnimes(ctx context.Context, limit int, excludeSlug string) ([]AnimeCard, error) {
	return s.queryCards(ctx, `
		SELECT `+animeCardColumns+` FROM animes
		WHERE page_slug <> ? ORDER BY RANDOM() LIMIT ?`, excludeSlug, limit)
}

func (s *SQLiteStore) queryCards(ctx context.Context, query string, args ...any) ([]AnimeCard, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: query cards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cards := []AnimeCard{}
	for rows.Next() {
		var c AnimeCard
		if err := rows.Scan(&c.Title, &c.PageSlug, &c.ImageURL, &c.Info.Type,
			&c.Info.Status, &c.Info.Released, &c.ViewCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// ListEpisodes returns one page of episodes, most recently updated first,
// plus the total count.
func (s *SQLiteStore) ListEpisodes(ctx context.Context, page, limit int) ([]Episode, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count episodes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, episode_slug, title, episode_index, streaming, downloads,
			anime_title, anime_slug, anime_image_url, thumbnail_url, created_at, updated_at
		FROM episodes ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		limit, pageOffset(page, limit))
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	eps := []Episode{}
	for rows.Next() {
		var ep Episode
		var streaming, downloads string
		if err := rows.Scan(&ep.ID, &ep.EpisodeSlug, &ep.Title, &ep.EpisodeIndex,
			&streaming, &downloads, &ep.AnimeTitle, &ep.AnimeSlug,
			&ep.AnimeImageURL, &ep.ThumbnailURL, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("catalog: scan episode: %w", err)
		}
		if err := json.Unmarshal([]byte(streaming), &ep.Streaming); err != nil {
			return nil, 0, fmt.Errorf("catalog: unmarshal streaming: %w", err)
		}
		if err := json.Unmarshal([]byte(downloads), &ep.Downloads); err != nil {
			return nil, 0, fmt.Errorf("catalog: unmarshal downloads: %w", err)
		}
		eps = append(eps, ep)
	}
	return eps, total, rows.Err()
}

// ImagesBySlugs returns a page-slug → image-URL map for the given slugs.
func (s *SQLiteStore) ImagesBySlugs(ctx context.Context, slugs []string) (map[string]string, error) {
	images := map[string]string{}
	if len(slugs) == 0 {
		return images, nil
	}

	placeholders := strings.Repeat("?,", len(slugs)-1) + "?"
	args := make([]any, len(slugs))
	for i, s := range slugs {
		args[i] = s
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT page_slug, image_url FROM animes WHERE page_slug IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: images by slugs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var slug, image string
		if err := rows.Scan(&slug, &image); err != nil {
			return nil, fmt.Errorf("catalog: scan image: %w", err)
		}
		images[slug] = image
	}
	return images, rows.Err()
}

// DistinctGenres returns every genre in the catalog, sorted.
func (s *SQLiteStore) DistinctGenres(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT genre FROM anime_genres ORDER BY genre`)
	if err != nil {
		return nil, fmt.Errorf("catalog: distinct genres: %w", err)
	}
	defer func() { _ = rows.Close() }()

	genres := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("catalog: scan genre: %w", err)
		}
		genres = append(genres, g)
	}
	return genres, rows.Err()
}

// IncrementViews bumps a series view count without touching its timestamps.
func (s *SQLiteStore) IncrementViews(ctx context.Context, pageSlug string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE animes SET view_count = view_count + 1 WHERE page_slug = ?`, pageSlug)
	if err != nil {
		return fmt.Errorf("catalog: increment views: %w", err)
	}
	return nil
}

func pageOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

func emptyIfNilStreams(s []StreamSource) []StreamSource {
	if s == nil {
		return []StreamSource{}
	}
	return s
}

func emptyIfNilDownloads(d []DownloadGroup) []DownloadGroup {
	if d == nil {
		return []DownloadGroup{}
	}
	return d
}
