package bgsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
	"github.com/couchcryptid/agrodecision-cache/internal/store"
)

type fakeConn struct{ online atomic.Bool }

func (f *fakeConn) Online() bool { return f.online.Load() }

func newConn(online bool) *fakeConn {
	c := &fakeConn{}
	c.online.Store(online)
	return c
}

// recordingReplayer records delivered ids, fails the first failN calls and
// always fails the ids in failIDs.
type recordingReplayer struct {
	mu      sync.Mutex
	ids     []string
	calls   int
	failN   int
	failIDs map[string]bool
}

func (r *recordingReplayer) Replay(_ context.Context, item domain.PendingSyncItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failN {
		return errors.New("broker unavailable")
	}
	if r.failIDs[item.ID] {
		return errors.New("message rejected")
	}
	r.ids = append(r.ids, item.ID)
	return nil
}

func (r *recordingReplayer) delivered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func newTestManager(q store.Queue, r Replayer, conn Connectivity) *Manager {
	m := New(q, r, conn, observability.NewMetricsForTesting(), observability.DiscardLogger())
	m.initialBackoff = time.Millisecond
	m.maxBackoff = 5 * time.Millisecond
	return m
}

func item(id string) domain.PendingSyncItem {
	return domain.PendingSyncItem{ID: id, Tag: domain.SyncTag, Kind: "history", Payload: json.RawMessage(`{}`)}
}

func startManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, m.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return m.CheckReadiness(ctx) == nil }, time.Second, time.Millisecond)
}

func pendingCount(t *testing.T, q store.Queue) int {
	t.Helper()
	n, err := q.PendingCount(context.Background())
	require.NoError(t, err)
	return n
}

func TestRegister_Coalesces(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(store.NewMemory(store.Options{}), nil, newConn(true))

	queued, err := m.Register(ctx, domain.SyncTag)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.True(t, m.Registered(domain.SyncTag))

	queued, err = m.Register(ctx, domain.SyncTag)
	require.NoError(t, err)
	assert.False(t, queued, "second registration coalesces")

	queued, err = m.Register(ctx, "other")
	require.NoError(t, err)
	assert.True(t, queued, "tags are independent")
}

func TestRegister_EmptyTag(t *testing.T) {
	m := newTestManager(store.NewMemory(store.Options{}), nil, newConn(true))
	_, err := m.Register(context.Background(), "")
	require.Error(t, err)
}

func TestCheckReadiness(t *testing.T) {
	m := newTestManager(store.NewMemory(store.Options{}), nil, newConn(true))
	require.Error(t, m.CheckReadiness(context.Background()))
	startManager(t, m)
	require.NoError(t, m.CheckReadiness(context.Background()))
}

func TestSubmit_OnlineDelivers(t *testing.T) {
	q := store.NewMemory(store.Options{})
	r := &recordingReplayer{}
	m := newTestManager(q, r, newConn(true))

	delivered, err := m.Submit(context.Background(), item("a"))
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, []string{"a"}, r.delivered())
	assert.Zero(t, pendingCount(t, q))
}

func TestSubmit_OfflineQueues(t *testing.T) {
	q := store.NewMemory(store.Options{})
	r := &recordingReplayer{}
	m := newTestManager(q, r, newConn(false))

	delivered, err := m.Submit(context.Background(), domain.PendingSyncItem{Kind: "history"})
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Empty(t, r.delivered())
	assert.False(t, m.Registered(domain.SyncTag), "offline submit waits for reconnection")

	items, err := q.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotEmpty(t, items[0].ID)
	assert.Equal(t, domain.SyncTag, items[0].Tag)
	assert.False(t, items[0].CreatedAt.IsZero())
}

func TestSubmit_FailedDeliveryQueuesAndRegisters(t *testing.T) {
	q := store.NewMemory(store.Options{})
	r := &recordingReplayer{failN: 1}
	m := newTestManager(q, r, newConn(true))

	delivered, err := m.Submit(context.Background(), item("a"))
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, 1, pendingCount(t, q))
	assert.True(t, m.Registered(domain.SyncTag))
}

func TestRun_DrainsInOrder(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemory(store.Options{})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, item(id)))
	}
	r := &recordingReplayer{}
	m := newTestManager(q, r, newConn(true))
	startManager(t, m)

	_, err := m.Register(ctx, domain.SyncTag)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pendingCount(t, q) == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, r.delivered())
	assert.False(t, m.Registered(domain.SyncTag))
}

func TestRun_RetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemory(store.Options{})
	require.NoError(t, q.Enqueue(ctx, item("a")))
	r := &recordingReplayer{failN: 3}
	m := newTestManager(q, r, newConn(true))
	startManager(t, m)

	_, err := m.Register(ctx, domain.SyncTag)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pendingCount(t, q) == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a"}, r.delivered())
}

func TestDrain_FailedAttemptsAreCounted(t *testing.T) {
	q := store.NewMemory(store.Options{})
	require.NoError(t, q.Enqueue(context.Background(), item("a")))
	m := newTestManager(q, &recordingReplayer{failN: 1 << 30}, newConn(true))
	m.maxAttempts = 1 << 30

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.False(t, m.drain(ctx, domain.SyncTag), "cancellation stops the drain")

	items, err := q.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.GreaterOrEqual(t, items[0].Attempts, 2)
}

func TestRun_FailingItemDoesNotBlockLaterItems(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemory(store.Options{})
	for _, id := range []string{"rejected", "a", "b"} {
		require.NoError(t, q.Enqueue(ctx, item(id)))
	}
	r := &recordingReplayer{failIDs: map[string]bool{"rejected": true}}
	m := newTestManager(q, r, newConn(true))
	m.maxAttempts = 1 << 30
	startManager(t, m)

	_, err := m.Register(ctx, domain.SyncTag)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pendingCount(t, q) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, r.delivered())

	items, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "rejected", items[0].ID)
}

func TestDrain_DropsItemAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemory(store.Options{})
	for _, id := range []string{"rejected", "a"} {
		require.NoError(t, q.Enqueue(ctx, item(id)))
	}
	r := &recordingReplayer{failIDs: map[string]bool{"rejected": true}}
	m := newTestManager(q, r, newConn(true))
	m.maxAttempts = 3

	assert.True(t, m.drain(ctx, domain.SyncTag))
	assert.Zero(t, pendingCount(t, q))
	assert.Equal(t, []string{"a"}, r.delivered())

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, 4, r.calls, "one delivery plus three attempts for the rejected item")
}

func TestRun_OfflineKeepsItems(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemory(store.Options{})
	require.NoError(t, q.Enqueue(ctx, item("a")))
	r := &recordingReplayer{}
	m := newTestManager(q, r, newConn(false))

	assert.True(t, m.drain(ctx, domain.SyncTag))
	assert.Equal(t, 1, pendingCount(t, q))
	assert.Empty(t, r.delivered())
}

func TestRun_NoReplayerKeepsItems(t *testing.T) {
	ctx := context.Background()
	q := store.NewMemory(store.Options{})
	require.NoError(t, q.Enqueue(ctx, item("a")))
	m := newTestManager(q, nil, newConn(true))

	assert.True(t, m.drain(ctx, domain.SyncTag))
	assert.Equal(t, 1, pendingCount(t, q))
}

func TestRun_StopsOnCancel(t *testing.T) {
	q := store.NewMemory(store.Options{})
	require.NoError(t, q.Enqueue(context.Background(), item("a")))
	m := newTestManager(q, &recordingReplayer{failN: 1 << 30}, newConn(true))
	m.initialBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	_, err := m.Register(ctx, domain.SyncTag)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, pendingCount(t, q), "undelivered item stays queued")
}
