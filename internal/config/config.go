package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// News providers and geocoders selectable through the environment.
const (
	NewsProviderRSS   = "rss"
	NewsProviderGNews = "gnews"

	GeocoderNominatim = "nominatim"
	GeocoderMapbox    = "mapbox"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Resource cache.
	CachePath       string
	CacheMaxEntries int
	CacheTTL        time.Duration
	HistoryLimit    int
	// OfflineStorage persists fetched data for offline reads.
	OfflineStorage bool

	// Static app served cache-first.
	OriginURL     string
	PrecachePaths []string
	BypassHosts   []string

	// Upstreams and connectivity.
	UpstreamTimeout time.Duration
	ProbeURL        string
	ProbeInterval   time.Duration

	NewsProvider string
	GNewsAPIKey  string
	NewsFeedURL  string

	Geocoder           string
	MapboxToken        string
	GeocodeCacheSize   int
	NominatimRPS       float64
	NominatimUserAgent string

	// Background sync.
	KafkaBrokers   []string
	KafkaSyncTopic string
	SyncAuto       bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("CACHE_TTL", "0", true)
	if err != nil {
		return nil, err
	}
	upstreamTimeout, err := parseDuration("UPSTREAM_TIMEOUT", "10s", false)
	if err != nil {
		return nil, err
	}
	probeInterval, err := parseDuration("PROBE_INTERVAL", "15s", false)
	if err != nil {
		return nil, err
	}
	maxEntries, err := parsePositiveInt("CACHE_MAX_ENTRIES", 5000)
	if err != nil {
		return nil, err
	}
	historyLimit, err := parsePositiveInt("HISTORY_LIMIT", 50)
	if err != nil {
		return nil, err
	}
	geocodeCacheSize, err := parsePositiveInt("GEOCODE_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	nominatimRPS, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("NOMINATIM_RPS", "1"), 64)
	if err != nil || nominatimRPS <= 0 {
		return nil, errors.New("invalid NOMINATIM_RPS: must be a positive number")
	}
	syncAuto, err := parseBool("SYNC_AUTO", true)
	if err != nil {
		return nil, err
	}
	offlineStorage, err := parseBool("OFFLINE_STORAGE", true)
	if err != nil {
		return nil, err
	}

	gnewsKey := os.Getenv("GNEWS_API_KEY")
	newsDefault := NewsProviderRSS
	if gnewsKey != "" {
		newsDefault = NewsProviderGNews
	}
	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	geocoderDefault := GeocoderNominatim
	if mapboxToken != "" {
		geocoderDefault = GeocoderMapbox
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		CachePath:       sharedcfg.EnvOrDefault("CACHE_PATH", "data/agrodecision.db"),
		CacheMaxEntries: maxEntries,
		CacheTTL:        cacheTTL,
		HistoryLimit:    historyLimit,
		OfflineStorage:  offlineStorage,

		OriginURL:     strings.TrimRight(sharedcfg.EnvOrDefault("ORIGIN_URL", "http://localhost:3000"), "/"),
		PrecachePaths: parseList(sharedcfg.EnvOrDefault("PRECACHE_PATHS", "/,/index.html,/offline.html,/manifest.json")),
		BypassHosts:   parseList(sharedcfg.EnvOrDefault("BYPASS_HOSTS", "power.larc.nasa.gov,gnews.io,nominatim.openstreetmap.org,api.nasa.gov")),

		UpstreamTimeout: upstreamTimeout,
		ProbeURL:        sharedcfg.EnvOrDefault("PROBE_URL", "https://power.larc.nasa.gov"),
		ProbeInterval:   probeInterval,

		NewsProvider: strings.ToLower(sharedcfg.EnvOrDefault("NEWS_PROVIDER", newsDefault)),
		GNewsAPIKey:  gnewsKey,
		NewsFeedURL:  sharedcfg.EnvOrDefault("NEWS_FEED_URL", "https://news.google.com/rss/search"),

		Geocoder:           strings.ToLower(sharedcfg.EnvOrDefault("GEOCODER", geocoderDefault)),
		MapboxToken:        mapboxToken,
		GeocodeCacheSize:   geocodeCacheSize,
		NominatimRPS:       nominatimRPS,
		NominatimUserAgent: sharedcfg.EnvOrDefault("NOMINATIM_USER_AGENT", "agrodecision-cache/1.0"),

		KafkaBrokers:   sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaSyncTopic: sharedcfg.EnvOrDefault("KAFKA_SYNC_TOPIC", "agrodecision-sync"),
		SyncAuto:       syncAuto,
	}

	switch cfg.NewsProvider {
	case NewsProviderRSS:
	case NewsProviderGNews:
		if cfg.GNewsAPIKey == "" {
			return nil, errors.New("NEWS_PROVIDER is gnews but GNEWS_API_KEY is not set")
		}
	default:
		return nil, fmt.Errorf("invalid NEWS_PROVIDER %q: must be rss or gnews", cfg.NewsProvider)
	}

	switch cfg.Geocoder {
	case GeocoderNominatim:
	case GeocoderMapbox:
		if cfg.MapboxToken == "" {
			return nil, errors.New("GEOCODER is mapbox but MAPBOX_TOKEN is not set")
		}
	default:
		return nil, fmt.Errorf("invalid GEOCODER %q: must be nominatim or mapbox", cfg.Geocoder)
	}

	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaSyncTopic == "" {
		return nil, errors.New("KAFKA_SYNC_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// SyncEnabled reports whether pending items can be replayed to Kafka.
func (c *Config) SyncEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parseDuration(key, fallback string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseBool(key string, fallback bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: must be a boolean", key)
	}
	return b, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

// parseList splits a comma-separated list, trimming whitespace and dropping
// empty items.
func parseList(value string) []string {
	return sharedcfg.ParseBrokers(value)
}
