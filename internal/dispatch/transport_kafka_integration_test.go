//go:build integration

package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"assent/internal/dispatch"
	"assent/internal/envelope"
	id "assent/pkg/domain"
	"assent/pkg/testutil/containers"
)

const deliveryTopic = "assent.deliveries"

type KafkaTransportSuite struct {
	suite.Suite
	redpanda  *containers.RedpandaContainer
	codec     *envelope.Codec
	transport *dispatch.KafkaTransport
}

func TestKafkaTransportSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaTransportSuite))
}

func (s *KafkaTransportSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redpanda = mgr.GetRedpanda(s.T())
	s.codec = envelope.NewCodec(1 << 20)

	admin, err := kgo.NewClient(kgo.SeedBrokers(s.redpanda.Brokers...))
	s.Require().NoError(err)
	defer admin.Close()
	_, err = kadm.NewClient(admin).CreateTopic(context.Background(), 1, 1, nil, deliveryTopic)
	s.Require().NoError(err)

	s.transport, err = dispatch.NewKafkaTransport(s.redpanda.Brokers, deliveryTopic, s.codec)
	s.Require().NoError(err)
}

func (s *KafkaTransportSuite) TearDownSuite() {
	if s.transport != nil {
		s.transport.Close()
	}
}

func (s *KafkaTransportSuite) TestSendAcksAndPublishesEnvelope() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	correlation := id.NewProposalID().String()
	sent := envelope.Envelope{
		ID:            id.NewEnvelopeID().String(),
		Source:        "assent",
		Target:        "deploy-service",
		Action:        "execute",
		Payload:       []byte(`{"release":"v42"}`),
		CorrelationID: correlation,
		Timestamp:     time.Now().UTC(),
	}

	ack, err := s.transport.Send(ctx, sent)
	s.Require().NoError(err)
	s.Equal(envelope.StatusSuccess, ack.Status)
	s.Equal(correlation, ack.CorrelationID)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(deliveryTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())

	records := fetches.Records()
	s.Require().NotEmpty(records)
	record := records[len(records)-1]
	s.Equal(correlation, string(record.Key))

	decoded, err := s.codec.Decode(record.Value)
	s.Require().NoError(err)
	s.Equal(correlation, decoded.CorrelationID)
	s.Equal("deploy-service", decoded.Target)
	s.JSONEq(`{"release":"v42"}`, string(decoded.Payload))
}
