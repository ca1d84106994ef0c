// Package connectivity tracks whether upstreams are reachable and requests a
// background sync when the service comes back online.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
)

// Registrar accepts sync registrations. It reports whether the registration
// was queued or coalesced into a pending one.
type Registrar interface {
	Register(ctx context.Context, tag string) (bool, error)
}

// Options configures a Monitor.
type Options struct {
	// ProbeURL is requested on every tick; any HTTP response counts as online.
	ProbeURL      string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	// AutoSync registers a sync on every offline to online transition.
	AutoSync bool
	Clock    clockwork.Clock
	Client   *http.Client
}

// Monitor holds the process-wide connectivity flag.
type Monitor struct {
	online   atomic.Bool
	override atomic.Bool
	autoSync atomic.Bool

	registrar Registrar
	probeURL  string
	interval  time.Duration
	client    *http.Client
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger

	mu        sync.Mutex
	listeners []func(online bool)

	// transition serializes Set so the gauge, listeners and registrar see
	// transitions in the order the flag changed.
	transition sync.Mutex
}

// NewMonitor creates a Monitor that starts online, like a browser does until
// told otherwise. registrar may be nil.
func NewMonitor(registrar Registrar, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 15 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.ProbeTimeout}
	}

	m := &Monitor{
		registrar: registrar,
		probeURL:  opts.ProbeURL,
		interval:  opts.ProbeInterval,
		client:    client,
		clock:     opts.Clock,
		metrics:   metrics,
		logger:    logger,
	}
	m.online.Store(true)
	m.autoSync.Store(opts.AutoSync)
	metrics.Online.Set(1)
	return m
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// AutoSync reports whether reconnection registers a sync.
func (m *Monitor) AutoSync() bool {
	return m.autoSync.Load()
}

// SetAutoSync toggles sync registration on reconnection.
func (m *Monitor) SetAutoSync(enabled bool) {
	m.autoSync.Store(enabled)
}

// SetRegistrar replaces the registrar notified on reconnection. It lets the
// monitor and a registrar that reads the monitor be built in either order.
func (m *Monitor) SetRegistrar(r Registrar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrar = r
}

// OnChange registers fn to run after every transition. Listeners run one
// transition at a time and must not call Set or Override.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Set records the state and reports whether it changed. Only the caller that
// performs an offline to online transition registers the sync, so concurrent
// or repeated calls never register twice for one transition.
func (m *Monitor) Set(ctx context.Context, online bool) bool {
	m.transition.Lock()
	defer m.transition.Unlock()

	if !m.online.CompareAndSwap(!online, online) {
		return false
	}

	if online {
		m.metrics.Online.Set(1)
		m.logger.Info("connectivity restored")
	} else {
		m.metrics.Online.Set(0)
		m.logger.Warn("connectivity lost")
	}

	m.mu.Lock()
	listeners := append([]func(bool){}, m.listeners...)
	registrar := m.registrar
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(online)
	}

	if online && m.autoSync.Load() && registrar != nil {
		if _, err := registrar.Register(ctx, domain.SyncTag); err != nil {
			m.logger.Error("register sync failed", "tag", domain.SyncTag, "error", err)
		}
	}
	return true
}

// Override pins the state and stops probes from changing it, the way the
// app's "simulate offline" test forces the offline event.
func (m *Monitor) Override(ctx context.Context, online bool) bool {
	m.override.Store(true)
	return m.Set(ctx, online)
}

// ClearOverride lets probes drive the state again.
func (m *Monitor) ClearOverride() {
	m.override.Store(false)
}

// Overridden reports whether the state is pinned.
func (m *Monitor) Overridden() bool {
	return m.override.Load()
}

// Run probes ProbeURL every interval until ctx is cancelled. Without a probe
// URL the state only changes through Set and Override.
func (m *Monitor) Run(ctx context.Context) error {
	if m.probeURL == "" {
		<-ctx.Done()
		return nil
	}

	m.logger.Info("connectivity probe started", "url", m.probeURL, "interval", m.interval)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.Probe(ctx)
		}
	}
}

// Probe checks reachability once and feeds the result to Set, unless the
// state is overridden.
func (m *Monitor) Probe(ctx context.Context) {
	if m.override.Load() {
		return
	}
	online := m.reachable(ctx)
	if ctx.Err() != nil {
		return
	}
	m.Set(ctx, online)
}

func (m *Monitor) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.logger.Error("build probe request", "url", m.probeURL, "error", err)
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("probe failed", "url", m.probeURL, "error", err)
		return false
	}
	resp.Body.Close()
	return true
}
