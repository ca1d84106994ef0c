// Package bgsync replays writes queued while offline once connectivity
// returns.
package bgsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
	"github.com/couchcryptid/agrodecision-cache/internal/store"
)

// Replayer delivers one queued item upstream.
type Replayer interface {
	Replay(ctx context.Context, item domain.PendingSyncItem) error
}

// Connectivity reports whether replay should be attempted.
type Connectivity interface {
	Online() bool
}

// drainBatch bounds how many queued items are read per pass.
const drainBatch = 100

// maxAttempts is how many failed replays an item gets before it is dropped.
const maxAttempts = 10

// Manager coalesces sync registrations and drains the durable queue.
type Manager struct {
	queue    store.Queue
	replayer Replayer
	conn     Connectivity
	metrics  *observability.Metrics
	logger   *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxAttempts    int

	mu         sync.Mutex
	registered map[string]bool
	wake       chan struct{}
	running    atomic.Bool
}

// New creates a Manager. A nil replayer keeps every item queued.
func New(queue store.Queue, replayer Replayer, conn Connectivity, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		queue:          queue,
		replayer:       replayer,
		conn:           conn,
		metrics:        metrics,
		logger:         logger,
		initialBackoff: 200 * time.Millisecond,
		maxBackoff:     5 * time.Second,
		maxAttempts:    maxAttempts,
		registered:     make(map[string]bool),
		wake:           make(chan struct{}, 1),
	}
}

// Register requests a drain under tag. While a registration for the tag is
// still waiting, further ones are coalesced and Register returns false.
func (m *Manager) Register(_ context.Context, tag string) (bool, error) {
	if tag == "" {
		return false, errors.New("sync tag is required")
	}

	m.mu.Lock()
	if m.registered[tag] {
		m.mu.Unlock()
		m.metrics.SyncRegistrations.WithLabelValues("coalesced").Inc()
		return false, nil
	}
	m.registered[tag] = true
	m.mu.Unlock()

	m.metrics.SyncRegistrations.WithLabelValues("queued").Inc()
	m.logger.Info("sync registered", "tag", tag)
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true, nil
}

// Registered reports whether tag is waiting to be drained.
func (m *Manager) Registered(tag string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registered[tag]
}

// Submit delivers item now when online, and queues it otherwise or when
// delivery fails. It reports whether the item was delivered.
func (m *Manager) Submit(ctx context.Context, item domain.PendingSyncItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Tag == "" {
		item.Tag = domain.SyncTag
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = domain.Now()
	}

	if m.conn.Online() && m.replayer != nil {
		err := m.replayer.Replay(ctx, item)
		if err == nil {
			m.metrics.SyncReplayed.Inc()
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		m.metrics.SyncFailed.Inc()
		m.logger.Warn("replay failed, queueing", "id", item.ID, "kind", item.Kind, "error", err)
	}

	if err := m.queue.Enqueue(ctx, item); err != nil {
		return false, fmt.Errorf("enqueue %s: %w", item.ID, err)
	}
	m.refreshPending(ctx)

	if m.conn.Online() {
		if _, err := m.Register(ctx, item.Tag); err != nil {
			return false, err
		}
	}
	return false, nil
}

// PendingCount returns the number of queued items.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.queue.PendingCount(ctx)
}

// CheckReadiness returns nil once Run has started.
func (m *Manager) CheckReadiness(_ context.Context) error {
	if !m.running.Load() {
		return errors.New("sync manager is not running")
	}
	return nil
}

// Run waits for registrations and drains the queue until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("sync manager started", "replay", m.replayer != nil)
	m.metrics.SyncRunning.Set(1)
	m.running.Store(true)
	defer func() {
		m.running.Store(false)
		m.metrics.SyncRunning.Set(0)
	}()
	m.refreshPending(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sync manager stopping", "reason", ctx.Err())
			return nil
		case <-m.wake:
		}

		for _, tag := range m.take() {
			if !m.drain(ctx, tag) {
				return nil
			}
		}
	}
}

// take clears and returns the waiting tags. Registrations arriving during the
// drain that follows wait for another pass.
func (m *Manager) take() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tags := make([]string, 0, len(m.registered))
	for tag := range m.registered {
		tags = append(tags, tag)
	}
	clear(m.registered)
	return tags
}

// drain replays queued items oldest first. A failed item is skipped for the
// rest of the pass so it cannot hold back the items behind it; passes with
// failures are retried with exponential backoff while online, and an item is
// dropped once it has failed maxAttempts times. Items stay queued when going
// offline mid-drain. Returns false if the manager should stop.
func (m *Manager) drain(ctx context.Context, tag string) bool {
	log := m.logger.With("tag", tag)
	if m.replayer == nil {
		n, _ := m.queue.PendingCount(ctx)
		log.Warn("no replay sink configured, items stay queued", "pending", n)
		return ctx.Err() == nil
	}

	backoff := m.initialBackoff
	replayed := 0
	defer func() {
		m.refreshPending(ctx)
		if replayed > 0 {
			log.Info("sync drained", "replayed", replayed)
		}
	}()

	for {
		if ctx.Err() != nil {
			return false
		}
		if !m.conn.Online() {
			log.Info("offline, sync postponed")
			return true
		}

		items, err := m.queue.Pending(ctx, drainBatch)
		if err != nil {
			log.Error("read pending items failed", "error", err)
			if !m.backoffOrStop(ctx, &backoff) {
				return false
			}
			continue
		}
		if len(items) == 0 {
			return true
		}

		failed := 0
		for _, item := range items {
			if !m.conn.Online() {
				log.Info("offline, sync postponed")
				return true
			}
			if err := m.replay(ctx, item); err != nil {
				if ctx.Err() != nil {
					return false
				}
				failed++
				attempts := item.Attempts + 1
				if attempts >= m.maxAttempts {
					m.drop(ctx, item, attempts, err)
					continue
				}
				log.Warn("replay failed", "id", item.ID, "kind", item.Kind, "attempts", attempts, "error", err)
				continue
			}
			replayed++
		}

		if failed == 0 {
			backoff = m.initialBackoff
			continue
		}
		if !m.backoffOrStop(ctx, &backoff) {
			return false
		}
	}
}

// drop removes an item that keeps failing.
func (m *Manager) drop(ctx context.Context, item domain.PendingSyncItem, attempts int, cause error) {
	m.metrics.SyncDropped.Inc()
	m.logger.Error("dropping sync item after repeated failures",
		"id", item.ID, "tag", item.Tag, "kind", item.Kind, "attempts", attempts, "error", cause)
	if err := m.queue.Remove(ctx, item.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("remove dropped item failed", "id", item.ID, "error", err)
	}
}

func (m *Manager) replay(ctx context.Context, item domain.PendingSyncItem) error {
	if err := m.replayer.Replay(ctx, item); err != nil {
		m.metrics.SyncFailed.Inc()
		if markErr := m.queue.MarkAttempt(ctx, item.ID); markErr != nil {
			m.logger.Warn("mark attempt failed", "id", item.ID, "error", markErr)
		}
		return err
	}
	m.metrics.SyncReplayed.Inc()
	if err := m.queue.Remove(ctx, item.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("remove replayed item failed", "id", item.ID, "error", err)
	}
	return nil
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the context was cancelled.
func (m *Manager) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, m.maxBackoff)
	return true
}

func (m *Manager) refreshPending(ctx context.Context) {
	n, err := m.queue.PendingCount(ctx)
	if err != nil {
		return
	}
	m.metrics.SyncPending.Set(float64(n))
}
