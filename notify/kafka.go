package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// producer is the subset of *kgo.Client used by Kafka.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Kafka publishes the JSON event to a topic, keyed by watch ID so events
// of one watch stay ordered within a partition.
type Kafka struct {
	client producer
	topic  string
}

// NewKafka creates a producer for topic. Brokers are contacted lazily.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: kafka client: %w", err)
	}
	return &Kafka{client: cl, topic: topic}, nil
}

// Send produces e and waits for the broker acknowledgement.
func (k *Kafka) Send(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return sendErr("kafka", "marshal event: %w", err)
	}
	rec := kgo.KeySliceRecord([]byte(e.WatchID), value)
	rec.Topic = k.topic
	if err := k.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return sendErr("kafka", "produce to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the client.
func (k *Kafka) Close() error {
	k.client.Close()
	return nil
}
