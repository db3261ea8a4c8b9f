package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"cna/internal/provenance"
)

// DefaultTopic receives trace records when no topic is configured.
const DefaultTopic = "cna.trace-records"

// Exporter publishes each trace record as one Kafka message keyed by session id,
// so a session's lineage lands on a single partition in order.
type Exporter struct {
	client *kgo.Client
	topic  string
}

// New connects a producer to the given comma-separated broker list.
func New(brokers, topic string) (*Exporter, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	seeds := splitBrokers(brokers)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("kafka exporter requires at least one broker")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Exporter{client: client, topic: topic}, nil
}

func (e *Exporter) Topic() string {
	return e.topic
}

// Export blocks until the broker acknowledges the record.
func (e *Exporter) Export(ctx context.Context, record provenance.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal trace %s: %w", record.ID, err)
	}
	msg := &kgo.Record{
		Key:   []byte(record.SessionID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "stage", Value: []byte(record.Stage)},
			{Key: "data_type", Value: []byte(record.DataType)},
		},
	}
	if err := e.client.ProduceSync(ctx, msg).FirstErr(); err != nil {
		return fmt.Errorf("publish trace %s: %w", record.ID, err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (e *Exporter) Close(ctx context.Context) error {
	err := e.client.Flush(ctx)
	e.client.Close()
	if err != nil {
		return fmt.Errorf("flush kafka client: %w", err)
	}
	return nil
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
