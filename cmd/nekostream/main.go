package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"nekostream/internal/catalog"
	"nekostream/internal/client"
	"nekostream/internal/config"
	"nekostream/internal/extractor"
	"nekostream/internal/handler"
	"nekostream/internal/metrics"
	"nekostream/internal/middleware"
	"nekostream/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("nekostream"),
		kong.Description("Content catalog API with stream extraction and manifest-rewriting proxy."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newEcho,
			metrics.New,
			newStore,
			newGenreCache,
			newViewCounter,
			client.NewUpstreamClient,
			extractor.New,
			service.NewRelayService,
			handler.NewStreamHandler,
			newCatalogHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			registerMetrics,
			startGenreRefresh,
			warnConfigPermissions,
			startServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) to avoid cutting off valid long-running
	// media relays. Protection is provided by ReadTimeout and IdleTimeout.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func newStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (catalog.Store, error) {
	store, err := catalog.NewSQLiteStore(cfg.Catalog.DBPath, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error { return store.Close() },
	})
	return store, nil
}

func newGenreCache(store catalog.Store, cfg *config.Config) *catalog.GenreCache {
	ttl := time.Duration(cfg.Catalog.GenreTTLSeconds) * time.Second
	return catalog.NewGenreCache(store, ttl, nil)
}

func newViewCounter(lc fx.Lifecycle, store catalog.Store, cfg *config.Config, logger *slog.Logger) *catalog.ViewCounter {
	views := catalog.NewViewCounter(store, cfg.Catalog.ViewQueueSize, logger)
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			views.Close()
			return nil
		},
	})
	return views
}

func newCatalogHandler(store catalog.Store, genres *catalog.GenreCache, views *catalog.ViewCounter, cfg *config.Config, logger *slog.Logger) *handler.CatalogHandler {
	return handler.NewCatalogHandler(store, genres, views, cfg.Catalog.PageSize, logger)
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.Use(middleware.MetricsMiddleware(m))
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

// startGenreRefresh re-warms the genre cache on a schedule so the first
// request after a TTL lapse doesn't pay the refresh cost.
func startGenreRefresh(lc fx.Lifecycle, cfg *config.Config, genres *catalog.GenreCache, logger *slog.Logger) error {
	c := cron.New()
	_, err := c.AddFunc(cfg.Catalog.GenreRefreshCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := genres.Refresh(ctx); err != nil {
			logger.Warn("genre cache refresh failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("parse catalog.genre_refresh_cron: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
	return nil
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "version", version)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
