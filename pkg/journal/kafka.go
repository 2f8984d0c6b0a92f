package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSinkConfig holds broker settings for the Kafka journal sink.
type KafkaSinkConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink mirrors journal entries onto a Kafka/Redpanda topic so downstream
// consumers (ticketing, chat bridges) can react to lifecycle changes. Entries
// about the same subject share a partition key, preserving their order.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// kafkaEntry is the wire form of an Entry.
type kafkaEntry struct {
	ID string `json:"id"`
	Entry
}

func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),

		// Wait for all in-sync replicas; franz-go enables the idempotent
		// producer with these acks, so broker retries do not duplicate.
		kgo.RequiredAcks(kgo.AllISRAcks()),

		kgo.ProducerBatchCompression(kgo.GzipCompression()),

		kgo.RetryBackoffFn(func(tries int) time.Duration {
			backoff := time.Duration(tries) * 100 * time.Millisecond
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
			return backoff
		}),
		kgo.RequestRetries(10),

		kgo.ProducerLinger(10*time.Millisecond),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &KafkaSink{
		client: client,
		topic:  cfg.Topic,
	}, nil
}

func (s *KafkaSink) Append(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	payload, err := json.Marshal(kafkaEntry{
		ID:    uuid.New().String(),
		Entry: entry,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(entry.SubjectRef),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish journal entry: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (s *KafkaSink) Close() {
	s.client.Close()
}
