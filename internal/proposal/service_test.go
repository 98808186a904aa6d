package proposal_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"assent/internal/ledger"
	"assent/internal/policy"
	"assent/internal/proposal"
	"assent/internal/quorum"
	id "assent/pkg/domain"
	dErrors "assent/pkg/domain-errors"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   int
	outcome proposal.DeliveryOutcome
}

func (f *fakeDispatcher) Deliver(_ context.Context, _ *proposal.Proposal) proposal.DeliveryOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.outcome
}

func (f *fakeDispatcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type ServiceSuite struct {
	suite.Suite

	now         time.Time
	ledgerStore *ledger.MemoryStore
	ledger      *ledger.Service
	registry    *policy.MemoryRegistry
	store       *proposal.MemoryStore
	dispatcher  *fakeDispatcher
	signer      *ledger.Signer
	service     *proposal.Service

	policyID id.PolicyID
	security id.ReviewerID
	director id.ReviewerID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.ledgerStore = ledger.NewMemoryStore()
	s.registry = policy.NewMemoryRegistry()
	s.store = proposal.NewMemoryStore()
	s.dispatcher = &fakeDispatcher{outcome: proposal.DeliveryOutcome{Delivered: true, Attempts: 1, Target: "key-vault"}}
	s.security = id.NewReviewerID()
	s.director = id.NewReviewerID()

	signer, err := ledger.NewSigner("lifecycle-test-secret")
	s.Require().NoError(err)
	s.signer = signer
	led, err := ledger.NewService(s.ledgerStore, signer, ledger.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	s.ledger = led

	registered, err := s.registry.Register(policy.QuorumPolicy{
		ID:                   id.PolicyID("key-rotation"),
		RequiredRoles:        map[string]int{"security": 1, "program_director": 1},
		TTL:                  48 * time.Hour,
		OnTimeout:            policy.TimeoutEscalate,
		VetoOnAnyReject:      true,
		AmendResetsApprovals: true,
	})
	s.Require().NoError(err)
	s.policyID = registered.ID

	svc, err := proposal.NewService(s.store, s.ledger, s.registry, signer,
		proposal.WithClock(func() time.Time { return s.now }),
		proposal.WithDispatcher(s.dispatcher),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ServiceSuite) create() *proposal.Proposal {
	p, err := s.service.Create(context.Background(), proposal.CreateInput{
		Summary:  "rotate the primary API key",
		Payload:  json.RawMessage(`{"target":"key-vault","key":"openai_primary"}`),
		PolicyID: s.policyID,
	})
	s.Require().NoError(err)
	return p
}

func (s *ServiceSuite) approve(p *proposal.Proposal, reviewer id.ReviewerID, role string) (*proposal.Proposal, error) {
	return s.service.RecordDecision(context.Background(), p.ID, proposal.DecisionInput{
		Reviewer: reviewer,
		Roles:    []string{role},
		Verdict:  quorum.VerdictApprove,
	})
}

func (s *ServiceSuite) entryTypes(p *proposal.Proposal) []ledger.EventType {
	entries, err := s.ledger.EntriesForProposal(context.Background(), p.ID)
	s.Require().NoError(err)
	types := make([]ledger.EventType, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.Type)
	}
	return types
}

// =====================================================================
// Creation
// =====================================================================

func (s *ServiceSuite) TestCreate() {
	s.Run("starts pending with ttl applied", func() {
		p := s.create()
		s.Equal(proposal.StatePending, p.State)
		s.Equal(1, p.Revision)
		s.Equal(s.now.Add(48*time.Hour), p.ExpiresAt)
		s.Equal([]ledger.EventType{ledger.EventCreated}, s.entryTypes(p))
	})

	s.Run("unknown policy is refused", func() {
		_, err := s.service.Create(context.Background(), proposal.CreateInput{
			Summary:  "anything",
			Payload:  json.RawMessage(`{}`),
			PolicyID: id.PolicyID("no-such-policy"),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeUnknownPolicy))
	})

	s.Run("rejects malformed payload", func() {
		_, err := s.service.Create(context.Background(), proposal.CreateInput{
			Summary:  "anything",
			Payload:  json.RawMessage(`{"broken":`),
			PolicyID: s.policyID,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =====================================================================
// Review flow
// =====================================================================

func (s *ServiceSuite) TestFirstDecisionMovesToUnderReview() {
	p := s.create()

	p, err := s.approve(p, s.security, "security")
	s.Require().NoError(err)
	s.Equal(proposal.StateUnderReview, p.State)
	s.Require().Len(p.Decisions, 1)
	s.NotEmpty(p.Decisions[0].Signature, "decisions are signed at the moment of recording")
}

func (s *ServiceSuite) TestApprovalFlowDeliversDownstream() {
	// Security approves at t=0, the program director an hour later. The
	// second approval completes quorum and delivery follows.
	p := s.create()

	p, err := s.approve(p, s.security, "security")
	s.Require().NoError(err)
	s.Equal(proposal.StateUnderReview, p.State)

	s.now = s.now.Add(time.Hour)
	p, err = s.approve(p, s.director, "program_director")
	s.Require().NoError(err)
	s.Equal(proposal.StateApproved, p.State)

	s.service.Close() // drain the async delivery

	final, err := s.service.Get(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(proposal.StateDelivered, final.State)
	s.Equal(1, final.DeliveryAttempts)
	s.Equal(1, s.dispatcher.Calls())

	s.Equal([]ledger.EventType{
		ledger.EventCreated,
		ledger.EventDecisionRecorded,
		ledger.EventDecisionRecorded,
		ledger.EventQuorumReached,
		ledger.EventDelivered,
	}, s.entryTypes(final))

	s.NoError(s.ledger.VerifyChain(context.Background(), 0, 0), "chain stays intact end to end")
}

func (s *ServiceSuite) TestRejectionVetoesAndSkipsDelivery() {
	p := s.create()

	p, err := s.approve(p, s.security, "security")
	s.Require().NoError(err)

	s.now = s.now.Add(time.Hour)
	p, err = s.service.RecordDecision(context.Background(), p.ID, proposal.DecisionInput{
		Reviewer: s.director,
		Roles:    []string{"program_director"},
		Verdict:  quorum.VerdictReject,
		Comment:  "key rotation window is frozen this week",
	})
	s.Require().NoError(err)

	s.Equal(proposal.StateRejected, p.State)
	s.Require().NotNil(p.VetoedBy)
	s.Equal(s.director, *p.VetoedBy)

	s.service.Close()
	s.Zero(s.dispatcher.Calls(), "rejected proposals never reach the dispatcher")

	s.Equal([]ledger.EventType{
		ledger.EventCreated,
		ledger.EventDecisionRecorded,
		ledger.EventDecisionRecorded,
		ledger.EventStateChanged,
	}, s.entryTypes(p))
}

func (s *ServiceSuite) TestTerminalProposalRefusesDecisions() {
	p := s.create()

	p, err := s.approve(p, s.security, "security")
	s.Require().NoError(err)
	p, err = s.approve(p, s.director, "program_director")
	s.Require().NoError(err)
	s.Equal(proposal.StateApproved, p.State)

	_, err = s.approve(p, id.NewReviewerID(), "security")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

// =====================================================================
// Amendments
// =====================================================================

func (s *ServiceSuite) TestAmendResetsAccumulatedApprovals() {
	p := s.create()

	p, err := s.approve(p, s.security, "security")
	s.Require().NoError(err)

	// The director amends instead of approving: the payload changes, the
	// revision bumps, and security's approval stops counting.
	amended := json.RawMessage(`{"target":"key-vault","key":"openai_secondary"}`)
	p, err = s.service.RecordDecision(context.Background(), p.ID, proposal.DecisionInput{
		Reviewer:  s.director,
		Roles:     []string{"program_director"},
		Verdict:   quorum.VerdictAmend,
		Amendment: amended,
	})
	s.Require().NoError(err)
	s.Equal(proposal.StateUnderReview, p.State)
	s.Equal(2, p.Revision)
	s.JSONEq(string(amended), string(p.Payload))

	// Both roles must now approve the amended revision.
	p, err = s.approve(p, s.director, "program_director")
	s.Require().NoError(err)
	s.Equal(proposal.StateUnderReview, p.State)

	p, err = s.approve(p, s.security, "security")
	s.Require().NoError(err)
	s.Equal(proposal.StateApproved, p.State)

	s.service.Close()
}

// =====================================================================
// Expiry
// =====================================================================

func (s *ServiceSuite) TestExpiryAfterTTL() {
	p := s.create()

	s.now = s.now.Add(48*time.Hour + time.Minute)
	p, err := s.service.Expire(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(proposal.StateExpired, p.State)
	s.True(p.Escalated)

	_, err = s.approve(p, s.security, "security")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestExpireIsIdempotentAndRespectsDeadline() {
	p := s.create()

	// Before the deadline nothing happens.
	early, err := s.service.Expire(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(proposal.StatePending, early.State)

	s.now = s.now.Add(49 * time.Hour)
	_, err = s.service.Expire(context.Background(), p.ID)
	s.Require().NoError(err)

	again, err := s.service.Expire(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(proposal.StateExpired, again.State)

	s.Equal([]ledger.EventType{
		ledger.EventCreated,
		ledger.EventStateChanged,
	}, s.entryTypes(p), "repeat expiry writes no extra entries")
}

func (s *ServiceSuite) TestAutoRejectTimeoutMode() {
	registered, err := s.registry.Register(policy.QuorumPolicy{
		ID:                   id.PolicyID("emergency-patch"),
		RequiredRoles:        map[string]int{"sre": 1},
		TTL:                  time.Hour,
		OnTimeout:            policy.TimeoutAutoReject,
		VetoOnAnyReject:      true,
		AmendResetsApprovals: true,
	})
	s.Require().NoError(err)

	p, err := s.service.Create(context.Background(), proposal.CreateInput{
		Summary:  "hotfix rollout",
		Payload:  json.RawMessage(`{"target":"deployer"}`),
		PolicyID: registered.ID,
	})
	s.Require().NoError(err)

	s.now = s.now.Add(2 * time.Hour)
	p, err = s.service.Expire(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(proposal.StateRejected, p.State)
	s.True(p.Escalated, "auto-rejected timeouts are flagged for follow-up")
}

func (s *ServiceSuite) TestOverdueDecisionExpiresFirst() {
	p := s.create()

	s.now = s.now.Add(50 * time.Hour)
	_, err := s.approve(p, s.security, "security")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	settled, err := s.service.Get(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(proposal.StateExpired, settled.State)
}

func (s *ServiceSuite) TestGetSettlesOverdueProposals() {
	p := s.create()

	s.now = s.now.Add(72 * time.Hour)
	settled, err := s.service.Get(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(proposal.StateExpired, settled.State)
}

// =====================================================================
// Delivery outcomes
// =====================================================================

func (s *ServiceSuite) TestFailedDeliveryStaysRetriable() {
	s.dispatcher.outcome = proposal.DeliveryOutcome{Attempts: 5, Target: "key-vault", Err: "connection refused"}

	p := s.create()
	_, err := s.approve(p, s.security, "security")
	s.Require().NoError(err)
	_, err = s.approve(p, s.director, "program_director")
	s.Require().NoError(err)
	s.service.Close()

	failed, err := s.service.Get(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(proposal.StateDeliveryFailed, failed.State)
	s.Equal(5, failed.DeliveryAttempts)

	// No new decisions, but a manual re-trigger is allowed.
	_, err = s.approve(failed, id.NewReviewerID(), "security")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	s.dispatcher.outcome = proposal.DeliveryOutcome{Delivered: true, Attempts: 1, Target: "key-vault"}
	_, err = s.service.Redeliver(context.Background(), p.ID)
	s.Require().NoError(err)
	s.service.Close()

	final, err := s.service.Get(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(proposal.StateDelivered, final.State)
	s.Equal(6, final.DeliveryAttempts)
}

// =====================================================================
// Concurrency
// =====================================================================

func (s *ServiceSuite) TestIndependentProposalsProgressInParallel() {
	const n = 16
	var wg sync.WaitGroup
	ids := make([]id.ProposalID, n)

	for i := 0; i < n; i++ {
		ids[i] = s.create().ID
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(pid id.ProposalID) {
			defer wg.Done()
			_, err := s.service.RecordDecision(context.Background(), pid, proposal.DecisionInput{
				Reviewer: id.NewReviewerID(),
				Roles:    []string{"security"},
				Verdict:  quorum.VerdictApprove,
			})
			s.NoError(err)
		}(ids[i])
	}
	wg.Wait()

	for _, pid := range ids {
		p, err := s.service.Get(context.Background(), pid)
		s.Require().NoError(err)
		s.Equal(proposal.StateUnderReview, p.State)
		s.Len(p.Decisions, 1)
	}
	s.NoError(s.ledger.VerifyChain(context.Background(), 0, 0))
}

// =====================================================================
// Notifications
// =====================================================================

type blockingNotifier struct {
	mu      sync.Mutex
	kinds   []string
	release chan struct{}
}

func (n *blockingNotifier) Notify(_ context.Context, kind string, _ *proposal.Proposal) {
	<-n.release
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func (n *blockingNotifier) Kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.kinds...)
}

func (s *ServiceSuite) TestSlowSinkDoesNotBlockTransitions() {
	notifier := &blockingNotifier{release: make(chan struct{})}
	svc, err := proposal.NewService(s.store, s.ledger, s.registry, s.signer,
		proposal.WithClock(func() time.Time { return s.now }),
		proposal.WithNotifier(notifier),
	)
	s.Require().NoError(err)

	// Nothing has released the sink yet; create and both decisions must
	// return anyway, with the announcements still in flight.
	start := time.Now()
	p, err := svc.Create(context.Background(), proposal.CreateInput{
		Summary:  "rotate the primary API key",
		Payload:  json.RawMessage(`{"target":"key-vault"}`),
		PolicyID: s.policyID,
	})
	s.Require().NoError(err)
	for _, in := range []proposal.DecisionInput{
		{Reviewer: s.security, Roles: []string{"security"}, Verdict: quorum.VerdictApprove},
		{Reviewer: s.director, Roles: []string{"program_director"}, Verdict: quorum.VerdictApprove},
	} {
		p, err = svc.RecordDecision(context.Background(), p.ID, in)
		s.Require().NoError(err)
	}
	s.Equal(proposal.StateApproved, p.State)
	s.Less(time.Since(start), time.Second)
	s.Empty(notifier.Kinds())

	close(notifier.release)
	svc.Close()
	s.ElementsMatch([]string{proposal.NotifyCreated, proposal.NotifyApproved}, notifier.Kinds())
}
