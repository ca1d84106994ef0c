package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
)

// Reader consumes replayed items, for the maintenance tool and tests.
type Reader struct {
	reader *kafkago.Reader
}

// NewReader creates a consumer of topic in group. An empty group reads the
// partition-0 log from the start without committing offsets.
func NewReader(brokers []string, topic, group string) *Reader {
	cfg := kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	}
	if group == "" {
		cfg.StartOffset = kafkago.FirstOffset
	}
	return &Reader{reader: kafkago.NewReader(cfg)}
}

// ReadItem blocks until the next item arrives or ctx is done.
func (r *Reader) ReadItem(ctx context.Context) (domain.PendingSyncItem, error) {
	msg, err := r.reader.ReadMessage(ctx)
	if err != nil {
		return domain.PendingSyncItem{}, err
	}
	return mapMessageToItem(msg)
}

// Close closes the consumer.
func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToItem decodes a replayed message.
func mapMessageToItem(msg kafkago.Message) (domain.PendingSyncItem, error) {
	var item domain.PendingSyncItem
	if err := json.Unmarshal(msg.Value, &item); err != nil {
		return domain.PendingSyncItem{}, fmt.Errorf("decode sync item at offset %d: %w", msg.Offset, err)
	}
	if item.ID == "" {
		item.ID = string(msg.Key)
	}
	return item, nil
}
