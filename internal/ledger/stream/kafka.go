// Package stream mirrors committed ledger entries to a Kafka topic so
// external supervisors and SIEM pipelines can observe the audit stream
// without read access to the ledger store. The mirror is strictly
// fire-and-forget: a Kafka outage never blocks or fails an append.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"assent/internal/ledger"
	"assent/pkg/platform/circuit"
)

// KafkaMirror publishes ledger entries to a topic, keyed by proposal ID so
// per-proposal ordering survives partitioning.
type KafkaMirror struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	breaker *circuit.Breaker
}

// NewKafkaMirror connects to the given brokers. Returns nil if brokers is
// empty (mirroring not configured).
func NewKafkaMirror(brokers []string, topic string, logger *slog.Logger) (*KafkaMirror, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaMirror{
		client:  client,
		topic:   topic,
		logger:  logger,
		breaker: circuit.New("ledger-kafka-mirror", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
	}, nil
}

// Publish sends one entry asynchronously. Errors trip the breaker, which
// suppresses repeated per-entry error logs during a broker outage; the
// produce path itself stays open so the first successful ack closes the
// breaker again.
func (m *KafkaMirror) Publish(ctx context.Context, entry ledger.Entry) {
	value, err := json.Marshal(entry)
	if err != nil {
		m.logger.ErrorContext(ctx, "marshal ledger entry for mirror", "seq", entry.Seq, "error", err)
		return
	}

	record := &kgo.Record{
		Topic: m.topic,
		Key:   []byte(entry.ProposalID.String()),
		Value: value,
	}
	m.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			alreadyOpen := m.breaker.IsOpen()
			_, change := m.breaker.RecordFailure()
			if change.Opened {
				m.logger.Warn("ledger mirror circuit opened", "topic", m.topic, "error", err)
			} else if !alreadyOpen {
				m.logger.Warn("ledger mirror publish failed", "seq", entry.Seq, "error", err)
			}
			return
		}
		if _, change := m.breaker.RecordSuccess(); change.Closed {
			m.logger.Info("ledger mirror circuit closed", "topic", m.topic)
		}
	})
}

// Close flushes pending records and releases the client.
func (m *KafkaMirror) Close() {
	m.client.Close()
}
