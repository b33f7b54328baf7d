// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/blogview/internal/blogapi"
	"github.com/starford/blogview/internal/board"
	"github.com/starford/blogview/internal/mcpserver"
	"github.com/starford/blogview/internal/models"
	"github.com/starford/blogview/internal/persist"
	"github.com/starford/blogview/internal/query"
	"github.com/starford/blogview/internal/session"
	"github.com/starford/blogview/internal/sse"
	"github.com/starford/blogview/internal/web"
	pkgconfig "github.com/starford/blogview/pkg/config"
)

// persistDecoders maps cached resources to their stored value types.
var persistDecoders = persist.Decoders{
	"posts":    persist.DecoderFor[[]models.Post](),
	"comments": persist.DecoderFor[[]models.Comment](),
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

func newAPIClient(cfg *Config) *blogapi.Client {
	return blogapi.New(cfg.API.BaseURL, blogapi.WithPageSize(cfg.API.PageSize))
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	var level slog.LevelVar
	level.Set(cfg.App.LogLevel)
	logger := newLogger(os.Stdout, &level)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("api_base_url", cfg.API.BaseURL),
		slog.Duration("stale_time", cfg.Query.StaleTime),
		slog.Int("max_page", cfg.Board.MaxPage),
		slog.String("persist_path", cfg.Persist.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(500 * time.Millisecond)
	defer broker.Close()

	cache := query.NewClient(
		query.WithStaleTime(cfg.Query.StaleTime),
		query.WithGCTime(cfg.Query.GCTime),
		query.WithRenderWait(cfg.Query.RenderWait),
		query.WithLogger(logger),
		query.WithListener(func(ev query.Event) {
			broker.PublishQueryEvent(ev.Key.String(), ev.Status.String(), ev.Settled())
		}),
	)
	defer cache.Close()

	// Restore the cache snapshot.
	var snapshot *persist.Store
	if cfg.Persist.Enabled() {
		snapshot, err = persist.Open(cfg.Persist.Path)
		if err != nil {
			return fmt.Errorf("init persist: %w", err)
		}
		defer snapshot.Close()

		items, loadErr := snapshot.Load(ctx, persistDecoders, cfg.Persist.MaxAge, time.Now())
		if loadErr != nil {
			logger.Warn("cache restore failed", slog.String("error", loadErr.Error()))
		} else {
			logger.Info("cache restored", slog.Int("entries", cache.Hydrate(items)))
		}
	}

	src := newAPIClient(cfg)
	boardOpts := board.Options{
		MaxPage:              cfg.Board.MaxPage,
		InvalidateOnMutation: cfg.Board.InvalidateOnMutation,
		OnMutation: func(name string, status query.Status) {
			broker.PublishMutationEvent(name, status.String())
		},
	}
	sessions := session.NewStore(cfg.Session.TTL, func() *board.Posts {
		return board.NewPosts(src, cache, boardOpts)
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Mount("/", web.NewRouter(web.Deps{
		Sessions:    sessions,
		Cache:       cache,
		Source:      src,
		Events:      broker,
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		MaxPage:     cfg.Board.MaxPage,
	}))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Follow config edits for the settings that can change live.
	if app.configPath != "" {
		g.Go(func() error {
			return pkgconfig.Watch(gCtx, app.configPath, NewDefaultConfig, logger, func(next *Config) {
				level.Set(next.App.LogLevel)
				cache.SetStaleTime(next.Query.StaleTime)
				logger.Info("config applied",
					slog.String("log_level", next.App.LogLevel.String()),
					slog.Duration("stale_time", next.Query.StaleTime))
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// The watcher only stops with the group context.
		return errShutdown
	})

	err = g.Wait()

	if snapshot != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, saveErr := snapshot.Save(saveCtx, cache.Dehydrate())
		cancel()
		if saveErr != nil {
			logger.Error("cache snapshot failed", slog.String("error", saveErr.Error()))
		} else {
			logger.Info("cache snapshot saved", slog.Int("entries", n))
		}
	}

	if err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout until the input closes. Logs
// go to stderr so they do not corrupt the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	var level slog.LevelVar
	level.Set(cfg.App.LogLevel)
	logger := newLogger(os.Stderr, &level)
	slog.SetDefault(logger)

	cache := query.NewClient(
		query.WithStaleTime(cfg.Query.StaleTime),
		query.WithGCTime(cfg.Query.GCTime),
		query.WithLogger(logger),
	)
	defer cache.Close()

	srv := mcpserver.New(cache, newAPIClient(cfg), cfg.Board.MaxPage)
	logger.Info("MCP server starting", slog.String("api_base_url", cfg.API.BaseURL))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
