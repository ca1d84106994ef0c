package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/couchcryptid/agrodecision-cache/internal/acquire"
	"github.com/couchcryptid/agrodecision-cache/internal/adapter/geocode"
	httpadapter "github.com/couchcryptid/agrodecision-cache/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/agrodecision-cache/internal/adapter/kafka"
	"github.com/couchcryptid/agrodecision-cache/internal/adapter/nasapower"
	"github.com/couchcryptid/agrodecision-cache/internal/adapter/news"
	"github.com/couchcryptid/agrodecision-cache/internal/adapter/worldbank"
	"github.com/couchcryptid/agrodecision-cache/internal/agro"
	"github.com/couchcryptid/agrodecision-cache/internal/bgsync"
	"github.com/couchcryptid/agrodecision-cache/internal/config"
	"github.com/couchcryptid/agrodecision-cache/internal/connectivity"
	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/fetcher"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
	"github.com/couchcryptid/agrodecision-cache/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	backend, err := store.Open(cfg.CachePath, store.Options{
		MaxEntries:   cfg.CacheMaxEntries,
		TTL:          cfg.CacheTTL,
		HistoryLimit: cfg.HistoryLimit,
		Evictions:    metrics.CacheEvictions,
	})
	if err != nil {
		logger.Error("failed to open cache", "path", cfg.CachePath, "error", err)
		os.Exit(1)
	}
	logger.Info("cache opened", "path", cfg.CachePath, "max_entries", cfg.CacheMaxEntries, "ttl", cfg.CacheTTL)

	// Pending items are replayed to Kafka when brokers are configured;
	// otherwise they stay queued.
	var replayer bgsync.Replayer
	var writer *kafkaadapter.Writer
	if cfg.SyncEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger)
		replayer = writer
		logger.Info("sync replay enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSyncTopic)
	} else {
		logger.Info("sync replay disabled, pending items stay queued")
	}

	monitor := connectivity.NewMonitor(nil, connectivity.Options{
		ProbeURL:      cfg.ProbeURL,
		ProbeInterval: cfg.ProbeInterval,
		ProbeTimeout:  cfg.UpstreamTimeout,
		AutoSync:      cfg.SyncAuto,
	}, metrics, logger)
	syncer := bgsync.New(backend, replayer, monitor, metrics, logger)
	monitor.SetRegistrar(syncer)

	var inner domain.Geocoder
	if cfg.Geocoder == config.GeocoderMapbox {
		inner = geocode.NewMapbox(cfg.MapboxToken, cfg.UpstreamTimeout, metrics, logger)
	} else {
		inner = geocode.NewNominatim(cfg.NominatimUserAgent, cfg.NominatimRPS, cfg.UpstreamTimeout, metrics, logger)
	}
	geocoder := geocode.NewCachedGeocoder(inner, cfg.GeocodeCacheSize, metrics, logger)
	logger.Info("reverse geocoding", "provider", cfg.Geocoder, "cache_size", cfg.GeocodeCacheSize)

	var newsProvider domain.NewsProvider
	if cfg.NewsProvider == config.NewsProviderGNews {
		newsProvider = news.NewGNews(cfg.GNewsAPIKey, cfg.UpstreamTimeout, metrics, logger)
	} else {
		newsProvider = news.NewRSS(cfg.NewsFeedURL, cfg.NominatimUserAgent, cfg.UpstreamTimeout, metrics, logger)
	}
	logger.Info("news search", "provider", cfg.NewsProvider)

	acq := acquire.New(backend, monitor, cfg.OfflineStorage, metrics, logger)
	svc := agro.NewServices(acq, agro.Upstreams{
		Climate:    nasapower.NewClient(cfg.UpstreamTimeout, metrics, logger),
		Geocoder:   geocoder,
		Indicators: worldbank.NewClient(cfg.UpstreamTimeout, metrics, logger),
		News:       newsProvider,
	}, domain.NewRandomSynthesizer(), logger)

	fetch := fetcher.New(backend, fetcher.Options{
		Origin:      cfg.OriginURL,
		BypassHosts: cfg.BypassHosts,
		Timeout:     cfg.UpstreamTimeout,
		Online:      monitor.Online,
	}, metrics, logger)

	state := agro.NewState(svc, logger)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Ready:        syncer,
		Services:     svc,
		State:        state,
		Connectivity: monitor,
		Sync:         syncer,
		History:      backend,
		Cache:        fetch,
		Static:       fetch,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Panels filled from cache or placeholders while offline are reloaded
	// once upstreams are reachable again.
	monitor.OnChange(state.ReconnectListener(ctx))

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	var wg sync.WaitGroup

	// Warm the static app cache; a missing origin only costs cache misses.
	wg.Go(func() {
		if err := fetch.Precache(ctx, cfg.PrecachePaths); err != nil {
			logger.Warn("precache incomplete", "error", err)
		}
	})

	// Start connectivity probe and background sync.
	wg.Go(func() {
		if err := monitor.Run(ctx); err != nil {
			logger.Error("connectivity monitor error", "error", err)
		}
	})
	wg.Go(func() {
		if err := syncer.Run(ctx); err != nil {
			logger.Error("sync manager error", "error", err)
		}
	})

	// Items left from a previous run are drained once the service is up.
	if n, err := syncer.PendingCount(ctx); err == nil && n > 0 && monitor.Online() {
		if _, err := syncer.Register(ctx, domain.SyncTag); err != nil {
			logger.Error("register startup sync", "error", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	wg.Wait()
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := backend.Close(); err != nil {
		logger.Error("cache close error", "error", err)
	}

	logger.Info("shutdown complete")
}
