package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/feed-comb/app/aggregator"
	"github.com/lysyi3m/feed-comb/app/api"
	"github.com/lysyi3m/feed-comb/app/cache"
	"github.com/lysyi3m/feed-comb/app/cfg"
	"github.com/lysyi3m/feed-comb/app/database"
	"github.com/lysyi3m/feed-comb/app/feed"
	"github.com/lysyi3m/feed-comb/app/graph"
	"github.com/lysyi3m/feed-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load(os.Args[1:])
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(appCfg); err != nil {
		slog.Error("Feed Comb stopped", "error", err)
		os.Exit(1)
	}
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting Feed Comb", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Debug("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	configCache := feed.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load feed configurations: %w", err)
	}

	opts, err := graph.FromConfigs(configCache.Global(), configCache.All(), configCache.GetConfigs())
	if err != nil {
		return err
	}

	g, err := graph.Build(opts)
	if err != nil {
		return err
	}
	slog.Info("Feed graph loaded", "nodes", len(g.Nodes()), "sources", len(g.Sources()))

	filterer := feed.NewFilterer()
	agg := aggregator.New(g, filterer)

	feedRepo := database.NewFeedRepository(db)
	entryRepo := database.NewEntryRepository(db)

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	fetcher := feed.NewFetcher(httpClient, appCfg.UserAgent)

	scheduler := tasks.NewScheduler(g, agg, fetcher, filterer, feed.NewContentExtractor(), feedRepo, entryRepo, tasks.Options{
		WorkerCount:    appCfg.WorkerCount,
		Interval:       appCfg.SchedulerInterval,
		BackoffInitial: appCfg.BackoffInitial,
		BackoffMax:     appCfg.BackoffMax,
		TidySchedule:   appCfg.TidySchedule,
	})

	if err := restore(g, agg, scheduler, feedRepo, entryRepo); err != nil {
		return err
	}

	var renderCache cache.CacheInterface
	cacheTTL := time.Duration(feed.DefaultCacheTTL) * time.Second
	if appCfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(context.Background(), appCfg.RedisAddr)
		if err != nil {
			return err
		}
		renderCache = redisCache
	} else {
		renderCache = cache.NewMemoryCache(0, cacheTTL)
	}
	defer renderCache.Close()

	scheduler.Start()
	defer scheduler.Stop()

	generator := feed.NewGenerator(appCfg.BaseUrl, appCfg.Version)
	handler := api.NewHandler(agg, scheduler, generator, renderCache, cacheTTL, appCfg.Version)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port, "base_url", appCfg.BaseUrl)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case serveErr = <-serverErrChan:
	}

	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	return serveErr
}

// restore loads persisted entries and schedules so a restart serves the
// last known state before the first fetch completes.
func restore(g *graph.Graph, agg *aggregator.Aggregator, scheduler *tasks.Scheduler,
	feedRepo database.FeedRepositoryInterface, entryRepo database.EntryRepositoryInterface) error {
	feeds, err := feedRepo.GetFeeds()
	if err != nil {
		return err
	}

	for _, f := range feeds {
		scheduler.Seed(f.Name, tasks.ScheduleStateFromFetchState(f.FetchState))
	}

	for _, node := range g.Sources() {
		entries, err := entryRepo.GetEntries(node.Name, 0)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			continue
		}
		if err := agg.Seed(node.Name, entries); err != nil {
			return err
		}
	}

	slog.Info("State restored", "feeds", len(feeds))
	return nil
}
