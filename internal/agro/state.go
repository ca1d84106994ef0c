package agro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/agrodecision-cache/internal/acquire"
	"github.com/couchcryptid/agrodecision-cache/internal/domain"
)

// Section is one of the app's navigable views.
type Section string

const (
	SectionMap        Section = "mapa"
	SectionMonthly    Section = "consulta"
	SectionIndicators Section = "indicadores"
	SectionNews       Section = "noticias"
)

// Sections lists every section in menu order.
var Sections = []Section{SectionMap, SectionMonthly, SectionIndicators, SectionNews}

// ParseSection converts a string to a Section.
func ParseSection(s string) (Section, error) {
	for _, sec := range Sections {
		if string(sec) == s {
			return sec, nil
		}
	}
	return "", fmt.Errorf("unknown section %q", s)
}

// ErrSuperseded is returned when a newer selection replaced the one whose
// results were being gathered. Those results are discarded.
var ErrSuperseded = errors.New("superseded by a newer selection")

// ErrNoLocation is returned when a refresh needs a location and none is set.
var ErrNoLocation = errors.New("no location selected")

// Dashboard is everything shown for the selected location.
type Dashboard struct {
	Generation uint64           `json:"generation"`
	Section    Section          `json:"section"`
	Location   *domain.Location `json:"location,omitempty"`
	UpdatedAt  time.Time        `json:"updatedAt,omitzero"`

	Place      *acquire.Result[domain.Place]          `json:"place,omitempty"`
	Climate    *acquire.Result[domain.ClimateSummary] `json:"climate,omitempty"`
	Monthly    *acquire.Result[domain.MonthlyClimate] `json:"monthly,omitempty"`
	Indicators *acquire.Result[domain.Indicators]     `json:"indicators,omitempty"`
	News       *acquire.Result[domain.RegionalNews]   `json:"news,omitempty"`

	// Errors maps a panel name to why it could not be filled.
	Errors map[string]string `json:"errors,omitempty"`
}

// State is the current selection. Each selection starts a new generation and
// cancels the work of the previous one; results are applied only while their
// generation is current, so a slow response for an old location never
// overwrites a newer one.
type State struct {
	svc    *Services
	logger *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	dash   Dashboard
}

// NewState creates a State showing the map section with no location.
func NewState(svc *Services, logger *slog.Logger) *State {
	return &State{
		svc:    svc,
		logger: logger,
		dash:   Dashboard{Section: SectionMap},
	}
}

// Dashboard returns the current dashboard.
func (s *State) Dashboard() Dashboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dash
}

// Generation returns the current generation.
func (s *State) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// SelectLocation makes loc current, optionally switching to section, and
// refreshes the climate summary, the place label and the section's data.
func (s *State) SelectLocation(ctx context.Context, loc domain.Location, section Section) (Dashboard, error) {
	if err := loc.Validate(); err != nil {
		return Dashboard{}, err
	}
	ctx, gen, base := s.begin(ctx, func(d *Dashboard) {
		d.Location = &loc
		if section != "" {
			d.Section = section
		}
	})
	d := Dashboard{Generation: gen, Section: base.Section, Location: &loc}
	if err := s.gather(ctx, &d, true); err != nil {
		return Dashboard{}, s.abort(gen, err)
	}
	if loc.Name == "" && d.Place != nil {
		named := loc
		named.Name = d.Place.Value.Label()
		d.Location = &named
	}
	return s.apply(d)
}

// SelectSection switches to section and, when a location is selected, loads
// that section's data for it.
func (s *State) SelectSection(ctx context.Context, section Section) (Dashboard, error) {
	ctx, gen, base := s.begin(ctx, func(d *Dashboard) { d.Section = section })
	if base.Location == nil {
		return s.apply(base)
	}
	d := base
	d.Generation = gen
	d.Monthly, d.Indicators, d.News, d.Errors = nil, nil, nil, nil
	if err := s.gather(ctx, &d, false); err != nil {
		return Dashboard{}, s.abort(gen, err)
	}
	return s.apply(d)
}

// Refresh reloads everything for the current location.
func (s *State) Refresh(ctx context.Context) (Dashboard, error) {
	cur := s.Dashboard()
	if cur.Location == nil {
		return Dashboard{}, ErrNoLocation
	}
	return s.SelectLocation(ctx, *cur.Location, cur.Section)
}

// ReconnectListener returns a connectivity listener that reloads the
// dashboard in the background when the service comes back online, replacing
// panels that were served from cache or synthesized while offline.
func (s *State) ReconnectListener(ctx context.Context) func(online bool) {
	return func(online bool) {
		if !online || ctx.Err() != nil {
			return
		}
		go func() {
			d, err := s.Refresh(ctx)
			switch {
			case err == nil:
				s.logger.Info("dashboard refreshed after reconnect", "generation", d.Generation)
			case errors.Is(err, ErrNoLocation), errors.Is(err, ErrSuperseded), ctx.Err() != nil:
				s.logger.Debug("reconnect refresh skipped", "reason", err)
			default:
				s.logger.Warn("reconnect refresh failed", "error", err)
			}
		}()
	}
}

// begin starts a new generation: it cancels the previous one, applies edit to
// the current dashboard and returns a context scoped to the new generation.
func (s *State) begin(ctx context.Context, edit func(*Dashboard)) (context.Context, uint64, Dashboard) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.gen++
	edit(&s.dash)
	s.dash.Generation = s.gen
	return ctx, s.gen, s.dash
}

// apply stores d if its generation is still current.
func (s *State) apply(d Dashboard) (Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Generation != s.gen {
		s.logger.Debug("discarding stale results", "generation", d.Generation, "current", s.gen)
		return Dashboard{}, ErrSuperseded
	}
	d.UpdatedAt = domain.Now().UTC()
	s.dash = d
	return d, nil
}

// abort explains why gathering for gen stopped.
func (s *State) abort(gen uint64, err error) error {
	if s.Generation() != gen {
		return ErrSuperseded
	}
	return err
}

// gather fills d's panels concurrently. Panel failures are recorded in
// d.Errors; only cancellation aborts the whole refresh.
func (s *State) gather(ctx context.Context, d *Dashboard, withBase bool) error {
	loc := *d.Location
	var mu sync.Mutex
	fail := func(panel string, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mu.Lock()
		defer mu.Unlock()
		if d.Errors == nil {
			d.Errors = make(map[string]string)
		}
		d.Errors[panel] = err.Error()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	if withBase {
		g.Go(func() error {
			res, err := s.svc.Climate(ctx, loc.Coordinates)
			if err != nil {
				return fail("climate", err)
			}
			d.Climate = &res
			return nil
		})
		g.Go(func() error {
			res, err := s.svc.Place(ctx, loc.Coordinates)
			if err != nil {
				return fail("place", err)
			}
			d.Place = &res
			return nil
		})
	}

	switch d.Section {
	case SectionMonthly:
		g.Go(func() error {
			res, err := s.svc.Monthly(ctx, loc.Coordinates)
			if err != nil {
				return fail("monthly", err)
			}
			d.Monthly = &res
			return nil
		})
	case SectionIndicators:
		g.Go(func() error {
			res, err := s.svc.Indicators(ctx, loc)
			if err != nil {
				return fail("indicators", err)
			}
			d.Indicators = &res
			return nil
		})
	case SectionNews:
		g.Go(func() error {
			res, err := s.svc.News(ctx, loc)
			if err != nil {
				return fail("news", err)
			}
			d.News = &res
			return nil
		})
	}

	return g.Wait()
}
