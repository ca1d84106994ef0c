//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/agrodecision-cache/internal/adapter/kafka"
	"github.com/couchcryptid/agrodecision-cache/internal/bgsync"
	"github.com/couchcryptid/agrodecision-cache/internal/config"
	"github.com/couchcryptid/agrodecision-cache/internal/connectivity"
	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
	"github.com/couchcryptid/agrodecision-cache/internal/store"
)

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("agrodecision-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func readItems(ctx context.Context, t *testing.T, reader *kafka.Reader, n int) []domain.PendingSyncItem {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	items := make([]domain.PendingSyncItem, 0, n)
	for len(items) < n {
		item, err := reader.ReadItem(readCtx)
		require.NoError(t, err, "read from sync topic")
		items = append(items, item)
	}
	return items
}

// TestOfflineWritesReplayOnReconnect queues writes while offline and checks
// that reconnecting drains them to Kafka in order and empties the queue.
func TestOfflineWritesReplayOnReconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	topic := fmt.Sprintf("sync-%d", time.Now().UnixNano())
	createTopic(t, broker, topic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSyncTopic: topic}
	metrics := observability.NewMetricsForTesting()
	logger := observability.DiscardLogger()

	backend, err := store.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	monitor := connectivity.NewMonitor(nil, connectivity.Options{AutoSync: true}, metrics, logger)
	manager := bgsync.New(backend, writer, monitor, metrics, logger)
	monitor.SetRegistrar(manager)

	runCtx, stopRun := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = manager.Run(runCtx)
	}()
	t.Cleanup(func() {
		stopRun()
		<-done
	})

	require.True(t, monitor.Set(ctx, false))
	for i := range 3 {
		payload, err := json.Marshal(map[string]int{"seq": i})
		require.NoError(t, err)
		delivered, err := manager.Submit(ctx, domain.PendingSyncItem{
			ID:      fmt.Sprintf("item-%d", i),
			Kind:    "history",
			Payload: payload,
		})
		require.NoError(t, err)
		assert.False(t, delivered)
	}
	n, err := manager.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.True(t, monitor.Set(ctx, true))

	reader := kafka.NewReader([]string{broker}, topic, "")
	t.Cleanup(func() { _ = reader.Close() })

	items := readItems(ctx, t, reader, 3)
	for i, item := range items {
		assert.Equal(t, fmt.Sprintf("item-%d", i), item.ID)
		assert.Equal(t, domain.SyncTag, item.Tag)
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), string(item.Payload))
	}

	require.Eventually(t, func() bool {
		n, err := manager.PendingCount(ctx)
		return err == nil && n == 0
	}, 10*time.Second, 50*time.Millisecond, "queue should drain after replay")
}

// TestOnlineSubmitDeliversDirectly checks that writes made while online skip
// the queue.
func TestOnlineSubmitDeliversDirectly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	topic := fmt.Sprintf("sync-%d", time.Now().UnixNano())
	createTopic(t, broker, topic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSyncTopic: topic}
	metrics := observability.NewMetricsForTesting()
	logger := observability.DiscardLogger()

	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	monitor := connectivity.NewMonitor(nil, connectivity.Options{}, metrics, logger)
	manager := bgsync.New(store.NewMemory(store.Options{}), writer, monitor, metrics, logger)

	delivered, err := manager.Submit(ctx, domain.PendingSyncItem{ID: "direct", Kind: "history", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.True(t, delivered)

	reader := kafka.NewReader([]string{broker}, topic, "")
	t.Cleanup(func() { _ = reader.Close() })
	items := readItems(ctx, t, reader, 1)
	assert.Equal(t, "direct", items[0].ID)

	n, err := manager.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
