package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/google/uuid"

	"github.com/couchcryptid/agrodecision-cache/internal/acquire"
	"github.com/couchcryptid/agrodecision-cache/internal/agro"
	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// historyKind is the PendingSyncItem kind of a history entry saved offline.
const historyKind = "history"

// Connectivity is the connectivity control surface the API exposes.
type Connectivity interface {
	Online() bool
	AutoSync() bool
	SetAutoSync(enabled bool)
	Override(ctx context.Context, online bool) bool
	ClearOverride()
	Overridden() bool
}

// Syncer accepts writes for background replay.
type Syncer interface {
	Submit(ctx context.Context, item domain.PendingSyncItem) (bool, error)
	PendingCount(ctx context.Context) (int, error)
}

// Cache is the bulk-clearable resource cache.
type Cache interface {
	Clear(ctx context.Context) error
}

// Deps are the components behind the routes.
type Deps struct {
	Ready        sharedobs.ReadinessChecker
	Services     *agro.Services
	State        *agro.State
	Connectivity Connectivity
	Sync         Syncer
	History      store.History
	Cache        Cache
	// Static serves everything outside /api, normally the cache-first
	// fetcher. May be nil.
	Static http.Handler
}

type api struct {
	Deps
	logger *slog.Logger
}

func newAPI(deps Deps, logger *slog.Logger) *api {
	return &api{Deps: deps, logger: logger}
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/climate", a.handleClimate)
	mux.HandleFunc("GET /api/monthly", a.handleMonthly)
	mux.HandleFunc("GET /api/indicators", a.handleIndicators)
	mux.HandleFunc("GET /api/news", a.handleNews)
	mux.HandleFunc("GET /api/place", a.handlePlace)

	mux.HandleFunc("GET /api/dashboard", a.handleDashboard)
	mux.HandleFunc("POST /api/location", a.handleLocation)
	mux.HandleFunc("POST /api/section", a.handleSection)
	mux.HandleFunc("POST /api/refresh", a.handleRefresh)

	mux.HandleFunc("GET /api/connectivity", a.handleConnectivity)
	mux.HandleFunc("PUT /api/connectivity", a.handleSetConnectivity)
	mux.HandleFunc("DELETE /api/connectivity", a.handleClearOverride)

	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.HandleFunc("POST /api/history", a.handleAppendHistory)
	mux.HandleFunc("DELETE /api/history", a.handleClearHistory)

	mux.HandleFunc("DELETE /api/cache", a.handleClearCache)
	mux.HandleFunc("GET /api/sync", a.handleSync)
}

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Error string `json:"error"`
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		a.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	sharedobs.WriteJSON(w, status, errorBody{Error: err.Error()})
}

// failAcquire maps an acquisition error to a status.
func (a *api) failAcquire(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, acquire.ErrNoData):
		a.fail(w, r, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing to write to.
	default:
		a.fail(w, r, http.StatusInternalServerError, err)
	}
}

// coordinates reads lat and lon from the query string.
func coordinates(r *http.Request) (domain.Coordinates, error) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return domain.Coordinates{}, fmt.Errorf("invalid lat %q", q.Get("lat"))
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return domain.Coordinates{}, fmt.Errorf("invalid lon %q", q.Get("lon"))
	}
	c := domain.Coordinates{Lat: lat, Lon: lon}
	return c, c.Validate()
}

// location reads coordinates and the optional name from the query string.
func location(r *http.Request) (domain.Location, error) {
	c, err := coordinates(r)
	if err != nil {
		return domain.Location{}, err
	}
	return domain.Location{Coordinates: c, Name: r.URL.Query().Get("name")}, nil
}

// serveResult answers a data request with fetch.
func serveResult[T any](a *api, w http.ResponseWriter, r *http.Request, fetch func(context.Context) (acquire.Result[T], error)) {
	res, err := fetch(r.Context())
	if err != nil {
		a.failAcquire(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, res)
}

func (a *api) handleClimate(w http.ResponseWriter, r *http.Request) {
	c, err := coordinates(r)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	serveResult(a, w, r, func(ctx context.Context) (acquire.Result[domain.ClimateSummary], error) {
		return a.Services.Climate(ctx, c)
	})
}

func (a *api) handleMonthly(w http.ResponseWriter, r *http.Request) {
	c, err := coordinates(r)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	serveResult(a, w, r, func(ctx context.Context) (acquire.Result[domain.MonthlyClimate], error) {
		return a.Services.Monthly(ctx, c)
	})
}

func (a *api) handlePlace(w http.ResponseWriter, r *http.Request) {
	c, err := coordinates(r)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	serveResult(a, w, r, func(ctx context.Context) (acquire.Result[domain.Place], error) {
		return a.Services.Place(ctx, c)
	})
}

func (a *api) handleIndicators(w http.ResponseWriter, r *http.Request) {
	loc, err := location(r)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	serveResult(a, w, r, func(ctx context.Context) (acquire.Result[domain.Indicators], error) {
		return a.Services.Indicators(ctx, loc)
	})
}

func (a *api) handleNews(w http.ResponseWriter, r *http.Request) {
	loc, err := location(r)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	serveResult(a, w, r, func(ctx context.Context) (acquire.Result[domain.RegionalNews], error) {
		return a.Services.News(ctx, loc)
	})
}

func (a *api) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, a.State.Dashboard())
}

type locationRequest struct {
	Lat     *float64     `json:"lat"`
	Lon     *float64     `json:"lon"`
	Name    string       `json:"name"`
	Section agro.Section `json:"section"`
}

func (a *api) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if req.Lat == nil || req.Lon == nil {
		a.fail(w, r, http.StatusBadRequest, errors.New("lat and lon are required"))
		return
	}
	if req.Section != "" {
		if _, err := agro.ParseSection(string(req.Section)); err != nil {
			a.fail(w, r, http.StatusBadRequest, err)
			return
		}
	}
	loc := domain.Location{Coordinates: domain.Coordinates{Lat: *req.Lat, Lon: *req.Lon}, Name: req.Name}
	if err := loc.Validate(); err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	a.writeDashboard(w, r)(a.State.SelectLocation(r.Context(), loc, req.Section))
}

type sectionRequest struct {
	Section string `json:"section"`
}

func (a *api) handleSection(w http.ResponseWriter, r *http.Request) {
	var req sectionRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	section, err := agro.ParseSection(req.Section)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	a.writeDashboard(w, r)(a.State.SelectSection(r.Context(), section))
}

func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	d, err := a.State.Refresh(r.Context())
	if errors.Is(err, agro.ErrNoLocation) {
		a.fail(w, r, http.StatusConflict, err)
		return
	}
	a.writeDashboard(w, r)(d, err)
}

// writeDashboard answers a state change. A superseded selection is a
// conflict: a newer request owns the dashboard.
func (a *api) writeDashboard(w http.ResponseWriter, r *http.Request) func(agro.Dashboard, error) {
	return func(d agro.Dashboard, err error) {
		switch {
		case err == nil:
			sharedobs.WriteJSON(w, http.StatusOK, d)
		case errors.Is(err, agro.ErrSuperseded):
			a.fail(w, r, http.StatusConflict, err)
		case errors.Is(err, context.Canceled):
		default:
			a.fail(w, r, http.StatusInternalServerError, err)
		}
	}
}

type connectivityStatus struct {
	Online     bool `json:"online"`
	Overridden bool `json:"overridden"`
	AutoSync   bool `json:"autoSync"`
}

func (a *api) connectivityStatus() connectivityStatus {
	return connectivityStatus{
		Online:     a.Connectivity.Online(),
		Overridden: a.Connectivity.Overridden(),
		AutoSync:   a.Connectivity.AutoSync(),
	}
}

func (a *api) handleConnectivity(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, a.connectivityStatus())
}

type connectivityRequest struct {
	Online   *bool `json:"online"`
	AutoSync *bool `json:"autoSync"`
}

// handleSetConnectivity pins the online state and toggles auto-sync.
func (a *api) handleSetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if req.AutoSync != nil {
		a.Connectivity.SetAutoSync(*req.AutoSync)
	}
	if req.Online != nil {
		if a.Connectivity.Override(r.Context(), *req.Online) {
			a.logger.Info("connectivity overridden", "online", *req.Online)
		}
	}
	sharedobs.WriteJSON(w, http.StatusOK, a.connectivityStatus())
}

func (a *api) handleClearOverride(w http.ResponseWriter, _ *http.Request) {
	a.Connectivity.ClearOverride()
	sharedobs.WriteJSON(w, http.StatusOK, a.connectivityStatus())
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.fail(w, r, http.StatusBadRequest, fmt.Errorf("invalid limit %q", s))
			return
		}
		limit = n
	}
	entries, err := a.History.List(r.Context(), limit)
	if err != nil {
		a.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, entries)
}

type historyRequest struct {
	Type     string           `json:"type"`
	Location *domain.Location `json:"location"`
	Payload  json.RawMessage  `json:"payload"`
}

type historyResponse struct {
	Entry  domain.HistoryEntry `json:"entry"`
	Queued bool                `json:"queued"`
}

// handleAppendHistory saves an entry. While offline the entry is also queued
// for background replay.
func (a *api) handleAppendHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if req.Type == "" {
		a.fail(w, r, http.StatusBadRequest, errors.New("type is required"))
		return
	}
	if req.Location != nil {
		if err := req.Location.Validate(); err != nil {
			a.fail(w, r, http.StatusBadRequest, err)
			return
		}
	}

	entry := domain.HistoryEntry{
		ID:       uuid.NewString(),
		Type:     req.Type,
		Date:     domain.Now().UTC(),
		Location: req.Location,
		Payload:  req.Payload,
	}
	if err := a.History.Append(r.Context(), entry); err != nil {
		a.fail(w, r, http.StatusInternalServerError, err)
		return
	}

	resp := historyResponse{Entry: entry}
	if a.Sync != nil && !a.Connectivity.Online() {
		payload, err := json.Marshal(entry)
		if err != nil {
			a.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		if _, err := a.Sync.Submit(r.Context(), domain.PendingSyncItem{
			ID:      entry.ID,
			Kind:    historyKind,
			Payload: payload,
		}); err != nil {
			a.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		resp.Queued = true
	}
	sharedobs.WriteJSON(w, http.StatusCreated, resp)
}

func (a *api) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.History.ClearHistory(r.Context()); err != nil {
		a.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := a.Cache.Clear(r.Context()); err != nil {
		a.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	a.logger.Info("cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

type syncStatus struct {
	Pending int `json:"pending"`
}

func (a *api) handleSync(w http.ResponseWriter, r *http.Request) {
	n, err := a.Sync.PendingCount(r.Context())
	if err != nil {
		a.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, syncStatus{Pending: n})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
