// Package fetcher serves resources cache-first: a stored copy is returned
// without touching the network, a miss is fetched and stored, and a failed
// fetch degrades to the offline page or a 503 instead of an error.
package fetcher

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/agrodecision-cache/internal/observability"
	"github.com/couchcryptid/agrodecision-cache/internal/store"
)

//go:embed offline.html
var offlinePage []byte

// OfflinePath is where the origin serves its own offline page.
const OfflinePath = "/offline.html"

// unavailableBody is the body of the synthetic 503 for non-navigation requests.
const unavailableBody = "Recurso não disponível offline"

// maxBodyBytes bounds what is read from the network into the cache.
const maxBodyBytes = 32 << 20

// errBodyTooLarge is returned for responses over the body limit; they are
// neither stored nor served truncated.
var errBodyTooLarge = errors.New("response body exceeds limit")

// Outcome describes how a response was produced.
type Outcome string

const (
	// OutcomeHit is a response served from the store.
	OutcomeHit Outcome = "hit"
	// OutcomeCached is a 200 from the network that was stored.
	OutcomeCached Outcome = "cached"
	// OutcomeNetwork is a network response passed through unstored: a
	// non-200 status or a bypassed host.
	OutcomeNetwork Outcome = "network"
	// OutcomeFallback is the offline page or the synthetic 503.
	OutcomeFallback Outcome = "fallback"
)

// Request identifies a resource. Navigation marks a page load, which falls
// back to the offline page instead of a 503.
type Request struct {
	URL        string
	Navigation bool
}

// Response is always returned, even when the network is unreachable.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Outcome     Outcome
}

// Options configures a Fetcher.
type Options struct {
	// Origin is the base URL relative paths are resolved against.
	Origin string
	// BypassHosts are fetched straight from the network and never stored.
	BypassHosts []string
	Timeout     time.Duration
	// Online, when set, lets the fetcher skip the network while offline.
	Online func() bool
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Fetcher implements the cache-first strategy over a store.Store.
type Fetcher struct {
	store   store.Store
	client  *http.Client
	origin  string
	bypass  map[string]struct{}
	online  func() bool
	maxBody int64
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a Fetcher.
func New(st store.Store, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	bypass := make(map[string]struct{}, len(opts.BypassHosts))
	for _, h := range opts.BypassHosts {
		bypass[strings.ToLower(h)] = struct{}{}
	}
	return &Fetcher{
		store:   st,
		client:  client,
		origin:  strings.TrimRight(opts.Origin, "/"),
		bypass:  bypass,
		online:  opts.Online,
		maxBody: maxBodyBytes,
		metrics: metrics,
		logger:  logger,
	}
}

// Resolve turns a path into an absolute URL on the origin. Absolute URLs are
// returned unchanged.
func (f *Fetcher) Resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return f.origin + path
}

// Fetch returns the resource for req. Network failures are never returned as
// errors: they produce an OutcomeFallback response.
func (f *Fetcher) Fetch(ctx context.Context, req Request) Response {
	resp := f.fetch(ctx, req)
	f.metrics.FetchOutcomes.WithLabelValues(string(resp.Outcome)).Inc()
	return resp
}

func (f *Fetcher) fetch(ctx context.Context, req Request) Response {
	key := req.URL

	if f.bypassed(key) {
		resp, err := f.network(ctx, key)
		if err != nil {
			f.logger.Warn("bypassed fetch failed", "url", key, "error", err)
			return f.fallback(ctx, req)
		}
		resp.Outcome = OutcomeNetwork
		return resp
	}

	entry, err := f.store.Get(ctx, key)
	switch {
	case err == nil:
		f.logger.Debug("cache hit", "key", key)
		return Response{Status: http.StatusOK, ContentType: entry.ContentType, Body: entry.Value, Outcome: OutcomeHit}
	case !errors.Is(err, store.ErrNotFound):
		f.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
	}

	if f.online != nil && !f.online() {
		return f.fallback(ctx, req)
	}

	resp, err := f.network(ctx, key)
	if err != nil {
		f.logger.Warn("fetch failed", "url", key, "error", err)
		return f.fallback(ctx, req)
	}
	if resp.Status != http.StatusOK {
		resp.Outcome = OutcomeNetwork
		return resp
	}

	if err := f.store.Put(ctx, store.Entry{Key: key, Value: resp.Body, ContentType: resp.ContentType}); err != nil {
		f.logger.Warn("cache write failed", "key", key, "error", err)
	} else {
		f.refreshEntries(ctx)
	}
	resp.Outcome = OutcomeCached
	return resp
}

func (f *Fetcher) bypassed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for h := range f.bypass {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (f *Fetcher) network(ctx context.Context, rawURL string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return Response{}, fmt.Errorf("%s: %w (%d bytes)", rawURL, errBodyTooLarge, f.maxBody)
	}
	return Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// fallback serves the offline page for navigations, preferring the copy the
// origin shipped, and a 503 for everything else.
func (f *Fetcher) fallback(ctx context.Context, req Request) Response {
	if req.Navigation {
		if entry, err := f.store.Get(ctx, f.Resolve(OfflinePath)); err == nil {
			return Response{Status: http.StatusOK, ContentType: entry.ContentType, Body: entry.Value, Outcome: OutcomeFallback}
		}
		return Response{Status: http.StatusOK, ContentType: "text/html; charset=utf-8", Body: offlinePage, Outcome: OutcomeFallback}
	}
	return Response{
		Status:      http.StatusServiceUnavailable,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte(unavailableBody),
		Outcome:     OutcomeFallback,
	}
}

// Precache fetches and stores every path, like a service worker install.
// Failed paths are reported together; the ones that succeeded stay stored.
func (f *Fetcher) Precache(ctx context.Context, paths []string) error {
	var errs []error
	for _, p := range paths {
		u := f.Resolve(p)
		resp, err := f.network(ctx, u)
		if err != nil {
			errs = append(errs, fmt.Errorf("precache %s: %w", u, err))
			continue
		}
		if resp.Status != http.StatusOK {
			errs = append(errs, fmt.Errorf("precache %s: status %d", u, resp.Status))
			continue
		}
		if err := f.store.Put(ctx, store.Entry{Key: u, Value: resp.Body, ContentType: resp.ContentType}); err != nil {
			errs = append(errs, fmt.Errorf("precache %s: %w", u, err))
		}
	}
	f.refreshEntries(ctx)
	f.logger.Info("precache complete", "paths", len(paths), "failed", len(errs))
	return errors.Join(errs...)
}

// Clear drops every stored resource.
func (f *Fetcher) Clear(ctx context.Context) error {
	if err := f.store.Clear(ctx); err != nil {
		return err
	}
	f.metrics.CacheEntries.Set(0)
	return nil
}

func (f *Fetcher) refreshEntries(ctx context.Context) {
	if n, err := f.store.Len(ctx); err == nil {
		f.metrics.CacheEntries.Set(float64(n))
	}
}

// ServeHTTP serves the static app cache-first from the origin.
func (f *Fetcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	resp := f.Fetch(r.Context(), Request{URL: f.Resolve(r.URL.RequestURI()), Navigation: IsNavigation(r)})

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("X-Cache", string(resp.Outcome))
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodGet {
		w.Write(resp.Body) //nolint:errcheck // client went away
	}
}

// IsNavigation reports whether r is a page load: the browser says so through
// Sec-Fetch-Mode, or it is a GET that accepts HTML.
func IsNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
