package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"assent/internal/envelope"
)

// KafkaTransport publishes delivery envelopes to a topic, keyed by
// correlation ID so the consumer sees each proposal's messages in order.
//
// A queue cannot answer synchronously, so the broker's produce ack stands in
// for the target's acknowledgement: on ack the transport synthesizes a
// success response echoing the correlation ID. The consumer contract still
// requires deduplication by correlation ID downstream.
type KafkaTransport struct {
	client *kgo.Client
	topic  string
	codec  *envelope.Codec
}

// NewKafkaTransport connects to the given brokers.
func NewKafkaTransport(brokers []string, topic string, codec *envelope.Codec) (*KafkaTransport, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka transport requires at least one broker")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaTransport{client: client, topic: topic, codec: codec}, nil
}

func (t *KafkaTransport) Name() string { return "kafka" }

func (t *KafkaTransport) Send(ctx context.Context, env envelope.Envelope) (envelope.Envelope, error) {
	raw, err := t.codec.Encode(env)
	if err != nil {
		return envelope.Envelope{}, err
	}

	record := &kgo.Record{
		Topic: t.topic,
		Key:   []byte(env.CorrelationID),
		Value: raw,
	}
	if err := t.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return envelope.Envelope{}, fmt.Errorf("produce envelope: %w", err)
	}

	return envelope.Envelope{
		ID:            env.ID,
		Source:        env.Target,
		Target:        env.Source,
		Action:        env.Action,
		Payload:       []byte(`{}`),
		CorrelationID: env.CorrelationID,
		Timestamp:     time.Now().UTC(),
		Status:        envelope.StatusSuccess,
	}, nil
}

// Close flushes pending records and releases the client.
func (t *KafkaTransport) Close() {
	t.client.Close()
}
