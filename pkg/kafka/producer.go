package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes ledger events. A nil *Producer is valid and drops
// every event, so callers never need to gate on configuration.
type Producer struct {
	client *kgo.Client
	logger *logrus.Logger
	topic  string
}

// NewProducer creates a Kafka producer for the given topic.
func NewProducer(brokers []string, clientID, topic string, logger *logrus.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{client: client, logger: logger, topic: topic}, nil
}

// PublishLedgerEvent serializes and produces one event. Failures are
// logged, never surfaced: events are derived state and must not gate or
// roll back a committed ledger mutation.
func (p *Producer) PublishLedgerEvent(ctx context.Context, event *LedgerEvent) {
	if p == nil || event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal ledger event")
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatInt(event.TransactionID, 10)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.client.ProduceSync(pctx, record).FirstErr(); err != nil {
		p.logger.WithError(err).WithField("event_type", event.EventType).Error("Failed to produce ledger event")
	}
}

// HealthCheck pings the brokers.
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("kafka producer not configured")
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.client.Ping(pctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// Close flushes and releases the client.
func (p *Producer) Close() {
	if p == nil {
		return
	}
	p.client.Close()
}
