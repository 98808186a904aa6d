package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"assent/internal/dispatch"
	"assent/internal/dispatch/mocks"
	"assent/internal/envelope"
	"assent/internal/ledger"
	"assent/internal/proposal"
	id "assent/pkg/domain"
)

type DispatcherSuite struct {
	suite.Suite

	ctrl      *gomock.Controller
	transport *mocks.MockTransport
	markers   *dispatch.MemoryMarkers
	ledger    *ledger.Service
	store     *ledger.MemoryStore
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.transport = mocks.NewMockTransport(s.ctrl)
	s.transport.EXPECT().Name().Return("http").AnyTimes()
	s.markers = dispatch.NewMemoryMarkers()
	s.store = ledger.NewMemoryStore()

	signer, err := ledger.NewSigner("dispatch-test-secret")
	s.Require().NoError(err)
	led, err := ledger.NewService(s.store, signer)
	s.Require().NoError(err)
	s.ledger = led
}

func (s *DispatcherSuite) newDispatcher() *dispatch.Dispatcher {
	d, err := dispatch.New(s.transport, s.markers, envelope.NewCodec(0), s.ledger,
		dispatch.Config{BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond},
		dispatch.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	s.Require().NoError(err)
	return d
}

func approvedProposal() *proposal.Proposal {
	return &proposal.Proposal{
		ID:      id.NewProposalID(),
		Summary: "rotate primary API key",
		Payload: json.RawMessage(`{"target":"key-vault","action":"rotate","key":"openai_primary"}`),
		State:   proposal.StateApproved,
	}
}

func ack(env envelope.Envelope) envelope.Envelope {
	return envelope.Envelope{
		ID:            env.ID,
		Source:        env.Target,
		Target:        env.Source,
		Action:        env.Action,
		Payload:       json.RawMessage(`{}`),
		CorrelationID: env.CorrelationID,
		Timestamp:     time.Now().UTC(),
		Status:        envelope.StatusSuccess,
	}
}

// =====================================================================
// Happy path
// =====================================================================

func (s *DispatcherSuite) TestDeliversOnFirstAttempt() {
	p := approvedProposal()

	var sent envelope.Envelope
	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, env envelope.Envelope) (envelope.Envelope, error) {
			sent = env
			return ack(env), nil
		})

	out := s.newDispatcher().Deliver(context.Background(), p)
	s.True(out.Delivered)
	s.Equal(1, out.Attempts)
	s.Equal("key-vault", out.Target)

	// Routing comes from the payload, the correlation from the proposal.
	s.Equal("key-vault", sent.Target)
	s.Equal("rotate", sent.Action)
	s.Equal(p.ID.String(), sent.CorrelationID)

	entries, err := s.ledger.EntriesForProposal(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Empty(entries, "a clean delivery writes no failure entries")
}

// =====================================================================
// Retries
// =====================================================================

func (s *DispatcherSuite) TestRetriesTransientFailuresThenSucceeds() {
	p := approvedProposal()

	calls := 0
	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).Times(3).
		DoAndReturn(func(_ context.Context, env envelope.Envelope) (envelope.Envelope, error) {
			calls++
			if calls <= 2 {
				return envelope.Envelope{}, errors.New("connection refused")
			}
			return ack(env), nil
		})

	out := s.newDispatcher().Deliver(context.Background(), p)
	s.True(out.Delivered)
	s.Equal(3, out.Attempts)

	entries, err := s.ledger.EntriesForProposal(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Len(entries, 2, "one ledger record per failed attempt")
	for _, e := range entries {
		s.Equal(ledger.EventDeliveryFailed, e.Type)
	}
}

func (s *DispatcherSuite) TestExhaustsRetriesAndReleasesMarker() {
	p := approvedProposal()

	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).Times(5).
		Return(envelope.Envelope{}, errors.New("connection refused"))

	out := s.newDispatcher().Deliver(context.Background(), p)
	s.False(out.Delivered)
	s.Equal(5, out.Attempts)
	s.Contains(out.Err, "connection refused")

	entries, err := s.ledger.EntriesForProposal(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Len(entries, 5)

	// The marker was released on failure, so a manual re-trigger gets
	// through to the wire again.
	acquired, err := s.markers.Acquire(context.Background(), p.ID.String())
	s.Require().NoError(err)
	s.True(acquired)
}

func (s *DispatcherSuite) TestRetriesOnCorrelationMismatch() {
	p := approvedProposal()

	calls := 0
	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).Times(2).
		DoAndReturn(func(_ context.Context, env envelope.Envelope) (envelope.Envelope, error) {
			calls++
			if calls == 1 {
				bad := ack(env)
				bad.CorrelationID = id.NewProposalID().String()
				return bad, nil
			}
			return ack(env), nil
		})

	out := s.newDispatcher().Deliver(context.Background(), p)
	s.True(out.Delivered)
	s.Equal(2, out.Attempts)

	entries, err := s.ledger.EntriesForProposal(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Contains(string(entries[0].Snapshot), "does not match")
}

func (s *DispatcherSuite) TestErrorStatusResponseIsAFailure() {
	p := approvedProposal()

	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).Times(5).
		DoAndReturn(func(_ context.Context, env envelope.Envelope) (envelope.Envelope, error) {
			bad := ack(env)
			bad.Status = envelope.StatusError
			return bad, nil
		})

	out := s.newDispatcher().Deliver(context.Background(), p)
	s.False(out.Delivered)
	s.Contains(out.Err, "status")
}

// =====================================================================
// Idempotency marker
// =====================================================================

func (s *DispatcherSuite) TestMarkerSuppressesDuplicateRun() {
	p := approvedProposal()

	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, env envelope.Envelope) (envelope.Envelope, error) {
			return ack(env), nil
		})

	d := s.newDispatcher()
	first := d.Deliver(context.Background(), p)
	s.True(first.Delivered)

	// The marker survives success, so a duplicated trigger makes zero
	// wire attempts.
	second := d.Deliver(context.Background(), p)
	s.False(second.Delivered)
	s.Zero(second.Attempts)
	s.Empty(second.Err)
}

func (s *DispatcherSuite) TestDefaultsActionWhenPayloadOmitsRouting() {
	p := approvedProposal()
	p.Payload = json.RawMessage(`{"key":"openai_primary"}`)

	var sent envelope.Envelope
	s.transport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, env envelope.Envelope) (envelope.Envelope, error) {
			sent = env
			return ack(env), nil
		})

	out := s.newDispatcher().Deliver(context.Background(), p)
	s.True(out.Delivered)
	s.Equal("execute", sent.Action)
	s.Equal("http", sent.Target, "falls back to the transport name")
}
