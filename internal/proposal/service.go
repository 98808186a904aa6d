package proposal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"assent/internal/ledger"
	"assent/internal/policy"
	"assent/internal/proposal/metrics"
	"assent/internal/quorum"
	id "assent/pkg/domain"
	dErrors "assent/pkg/domain-errors"
)

// DeliveryOutcome is the dispatcher's report after a delivery run.
type DeliveryOutcome struct {
	Delivered bool
	// Attempts is the number of wire attempts made during this run,
	// successful attempt included.
	Attempts int
	Target   string
	Err      string
}

// Dispatcher delivers an approved proposal downstream. Implementations
// record their per-attempt outcomes in the ledger themselves; the lifecycle
// service records only the resulting state transition.
type Dispatcher interface {
	Deliver(ctx context.Context, p *Proposal) DeliveryOutcome
}

// Notifier receives fire-and-forget lifecycle announcements. Implementations
// must never block and their failures never propagate into the state machine.
type Notifier interface {
	Notify(ctx context.Context, kind string, p *Proposal)
}

// Notification kinds emitted by the lifecycle service.
const (
	NotifyCreated        = "proposal.created"
	NotifyApproved       = "proposal.approved"
	NotifyRejected       = "proposal.rejected"
	NotifyEscalated      = "proposal.escalated"
	NotifyExpired        = "proposal.expired"
	NotifyDelivered      = "proposal.delivered"
	NotifyDeliveryFailed = "proposal.delivery_failed"
)

const lockStripes = 64

// Service is the sole mutation gateway for proposal state. Every write goes
// through a per-proposal lock and a ledger append before the projection is
// touched; a failed append aborts the whole operation.
type Service struct {
	store    Store
	ledger   *ledger.Service
	policies policy.Registry
	signer   *ledger.Signer

	dispatcher Dispatcher
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clock      func() time.Time
	tracer     trace.Tracer

	locks [lockStripes]sync.Mutex

	// background tracks in-flight async deliveries and notifications so
	// Close can drain them.
	background sync.WaitGroup
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source, used by expiry tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithDispatcher sets the downstream delivery dispatcher. Without one,
// approved proposals stay in Approved until delivery is triggered manually.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics sets the module metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the lifecycle service.
func NewService(store Store, led *ledger.Service, policies policy.Registry, signer *ledger.Signer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if led == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy registry is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}

	s := &Service{
		store:    store,
		ledger:   led,
		policies: policies,
		signer:   signer,
		logger:   slog.Default(),
		clock:    time.Now,
		tracer:   otel.Tracer("assent/proposal"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close waits for in-flight async deliveries and notifications to settle.
func (s *Service) Close() {
	s.background.Wait()
}

func (s *Service) lock(proposalID id.ProposalID) *sync.Mutex {
	h := fnv.New32a()
	raw := [16]byte(proposalID)
	h.Write(raw[:])
	return &s.locks[h.Sum32()%lockStripes]
}

// CreateInput is the producer's request for human authorization.
type CreateInput struct {
	Summary  string
	Payload  json.RawMessage
	PolicyID id.PolicyID
}

// Create registers a new proposal in Pending state and logs its creation.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Proposal, error) {
	ctx, span := s.tracer.Start(ctx, "proposal.Create")
	defer span.End()

	if in.Summary == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "summary is required")
	}
	if len(in.Payload) == 0 || !json.Valid(in.Payload) {
		return nil, dErrors.New(dErrors.CodeValidation, "payload must be a JSON document")
	}

	pol, err := s.policies.Get(in.PolicyID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	p := &Proposal{
		ID:            id.NewProposalID(),
		Summary:       in.Summary,
		Payload:       append(json.RawMessage(nil), in.Payload...),
		PolicyID:      pol.ID,
		PolicyVersion: pol.Version,
		Revision:      1,
		State:         StatePending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(pol.TTL),
	}
	span.SetAttributes(
		attribute.String("proposal.id", p.ID.String()),
		attribute.String("proposal.policy", pol.ID.String()),
	)

	snapshot, err := marshalSnapshot(createdSnapshot{
		Summary:       p.Summary,
		Payload:       p.Payload,
		PolicyID:      p.PolicyID,
		PolicyVersion: p.PolicyVersion,
		ExpiresAt:     p.ExpiresAt,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "snapshot proposal")
	}
	if _, err := s.ledger.Append(ctx, ledger.Event{
		ProposalID: p.ID,
		Type:       ledger.EventCreated,
		Snapshot:   snapshot,
		Timestamp:  now,
	}); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "cache proposal")
	}

	s.metrics.IncrementCreated(pol.ID.String())
	s.notify(ctx, NotifyCreated, p)
	s.logger.InfoContext(ctx, "proposal created",
		"proposal_id", p.ID,
		"policy_id", pol.ID,
		"policy_version", pol.Version,
		"expires_at", p.ExpiresAt,
	)
	return p, nil
}

// DecisionInput is one reviewer's verdict as received from the API.
type DecisionInput struct {
	Reviewer  id.ReviewerID
	Roles     []string
	Verdict   quorum.Verdict
	Amendment json.RawMessage
	Comment   string
}

func (in DecisionInput) validate() error {
	if in.Reviewer.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "reviewer_id is required")
	}
	if len(in.Roles) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one reviewer role is required")
	}
	switch in.Verdict {
	case quorum.VerdictApprove, quorum.VerdictReject:
		if len(in.Amendment) != 0 {
			return dErrors.New(dErrors.CodeValidation, "amendment is only valid with an amend verdict")
		}
	case quorum.VerdictAmend:
		if len(in.Amendment) == 0 || !json.Valid(in.Amendment) {
			return dErrors.New(dErrors.CodeValidation, "amend verdict requires a JSON amendment payload")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown verdict %q", in.Verdict))
	}
	return nil
}

// RecordDecision appends a reviewer's verdict to the proposal, re-evaluates
// quorum under the policy version pinned at creation, and commits any
// resulting transition. Deciding on a settled proposal fails with an invalid
// state error; an overdue proposal is expired first and the decision then
// refused the same way.
func (s *Service) RecordDecision(ctx context.Context, proposalID id.ProposalID, in DecisionInput) (*Proposal, error) {
	ctx, span := s.tracer.Start(ctx, "proposal.RecordDecision",
		trace.WithAttributes(attribute.String("proposal.id", proposalID.String())))
	defer span.End()

	if err := in.validate(); err != nil {
		return nil, err
	}

	mu := s.lock(proposalID)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.store.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if p.State.AcceptsDecisions() && now.After(p.ExpiresAt) {
		if _, err := s.expireLocked(ctx, p, now); err != nil {
			return nil, err
		}
		return nil, dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("proposal %s expired at %s", p.ID, p.ExpiresAt.Format(time.RFC3339)))
	}
	if !p.State.AcceptsDecisions() {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("proposal %s is %s and no longer accepts decisions", p.ID, p.State))
	}

	decision := Decision{
		ProposalID: p.ID,
		Reviewer:   in.Reviewer,
		Roles:      append([]string(nil), in.Roles...),
		Verdict:    in.Verdict,
		Amendment:  append(json.RawMessage(nil), in.Amendment...),
		Comment:    in.Comment,
		Revision:   p.Revision,
		DecidedAt:  now,
	}
	sig, err := s.signDecision(decision)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sign decision")
	}
	decision.Signature = sig

	p.Decisions = append(p.Decisions, decision)
	if p.State == StatePending {
		p.State = StateUnderReview
	}
	if in.Verdict == quorum.VerdictAmend {
		// An amendment replaces the payload under review and bumps the
		// revision. Approvals against older revisions stop counting when
		// the policy says so; the policy itself never changes mid-flight.
		p.Payload = append(json.RawMessage(nil), in.Amendment...)
		p.Revision++
	}

	snapshot, err := marshalSnapshot(decisionSnapshot{
		Decision: decision,
		NewState: p.State,
		Payload:  amendedPayload(in.Verdict, p.Payload),
		Revision: p.Revision,
		Origin:   decisionOrigin(ctx),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "snapshot decision")
	}
	if _, err := s.ledger.Append(ctx, ledger.Event{
		ProposalID: p.ID,
		Type:       ledger.EventDecisionRecorded,
		Snapshot:   snapshot,
		Timestamp:  now,
	}); err != nil {
		return nil, err
	}

	pol, err := s.policies.GetVersion(p.PolicyID, p.PolicyVersion)
	if err != nil {
		return nil, err
	}
	outcome := quorum.Evaluate(*pol, p.Revision, p.quorumLog())

	switch outcome.State {
	case quorum.StateApproved:
		if err := s.transitionLocked(ctx, p, StateApproved, transition{
			reason: "quorum", satisfied: outcome.Satisfied, at: now,
		}); err != nil {
			return nil, err
		}
	case quorum.StateRejected:
		if err := s.transitionLocked(ctx, p, StateRejected, transition{
			reason: "veto", vetoedBy: outcome.VetoedBy, at: now,
		}); err != nil {
			return nil, err
		}
	default:
		if err := s.store.Put(ctx, p); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "cache proposal")
		}
	}

	s.metrics.IncrementDecision(string(in.Verdict))
	s.logger.InfoContext(ctx, "decision recorded",
		"proposal_id", p.ID,
		"reviewer_id", in.Reviewer,
		"verdict", in.Verdict,
		"state", p.State,
	)

	if p.State == StateApproved {
		s.dispatchAsync(p.clone())
	}
	return p, nil
}

// amendedPayload returns the payload for a decision snapshot, present only
// when the decision changed it.
func amendedPayload(v quorum.Verdict, payload json.RawMessage) json.RawMessage {
	if v != quorum.VerdictAmend {
		return nil
	}
	return payload
}

// transition carries the audit detail for a state change.
type transition struct {
	reason      string
	target      string
	vetoedBy    *id.ReviewerID
	escalated   bool
	deliveryErr string
	satisfied   map[string]int
	at          time.Time
}

// transitionLocked appends the transition's ledger entry, then commits the
// new state to the projection and fans out notifications. Callers hold the
// proposal lock. A failed append aborts the transition: the projection keeps
// its previous state and the caller sees the error.
func (s *Service) transitionLocked(ctx context.Context, p *Proposal, to State, t transition) error {
	from := p.State
	p.State = to
	p.VetoedBy = t.vetoedBy
	if t.escalated {
		p.Escalated = true
	}

	var (
		snapshot json.RawMessage
		err      error
		event    = ledger.EventStateChanged
	)
	switch {
	case to == StateApproved:
		event = ledger.EventQuorumReached
		snapshot, err = marshalSnapshot(quorumSnapshot{From: from, To: to, Satisfied: t.satisfied})
	case to == StateDelivered:
		event = ledger.EventDelivered
		snapshot, err = marshalSnapshot(deliverySnapshot{Attempt: p.DeliveryAttempts, Target: t.target})
	default:
		snapshot, err = marshalSnapshot(stateSnapshot{
			From: from, To: to, Reason: t.reason,
			VetoedBy: t.vetoedBy, Escalated: t.escalated, Error: t.deliveryErr,
		})
	}
	if err != nil {
		p.State = from
		return dErrors.Wrap(err, dErrors.CodeInternal, "snapshot transition")
	}

	if _, err := s.ledger.Append(ctx, ledger.Event{
		ProposalID: p.ID,
		Type:       event,
		Snapshot:   snapshot,
		Timestamp:  t.at,
	}); err != nil {
		p.State = from
		return err
	}
	if err := s.store.Put(ctx, p); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "cache proposal")
	}

	s.metrics.IncrementTransition(string(to), t.reason)
	if to == StateApproved || to == StateRejected || to == StateExpired {
		s.metrics.ObserveReviewLatency(t.at.Sub(p.CreatedAt))
	}
	switch to {
	case StateApproved:
		s.notify(ctx, NotifyApproved, p)
	case StateRejected:
		if t.escalated {
			s.notify(ctx, NotifyEscalated, p)
		}
		s.notify(ctx, NotifyRejected, p)
	case StateExpired:
		s.notify(ctx, NotifyEscalated, p)
		s.notify(ctx, NotifyExpired, p)
	case StateDelivered:
		s.notify(ctx, NotifyDelivered, p)
	case StateDeliveryFailed:
		s.notify(ctx, NotifyDeliveryFailed, p)
	}

	s.logger.InfoContext(ctx, "proposal state changed",
		"proposal_id", p.ID,
		"from", from,
		"to", to,
		"reason", t.reason,
	)
	return nil
}

// Expire settles an overdue proposal per its policy's timeout mode. Expiring
// a proposal that already settled, or one whose deadline has not passed, is
// a no-op.
func (s *Service) Expire(ctx context.Context, proposalID id.ProposalID) (*Proposal, error) {
	ctx, span := s.tracer.Start(ctx, "proposal.Expire",
		trace.WithAttributes(attribute.String("proposal.id", proposalID.String())))
	defer span.End()

	mu := s.lock(proposalID)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.store.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return s.expireLocked(ctx, p, s.clock())
}

func (s *Service) expireLocked(ctx context.Context, p *Proposal, now time.Time) (*Proposal, error) {
	if !p.State.AcceptsDecisions() || now.Before(p.ExpiresAt) {
		return p, nil
	}

	pol, err := s.policies.GetVersion(p.PolicyID, p.PolicyVersion)
	if err != nil {
		return nil, err
	}

	to := StateExpired
	if pol.OnTimeout == policy.TimeoutAutoReject {
		to = StateRejected
	}
	if err := s.transitionLocked(ctx, p, to, transition{reason: "timeout", escalated: true, at: now}); err != nil {
		return nil, err
	}
	return p, nil
}

// MarkDelivered records the outcome of a delivery run. Valid only from
// Approved or a previous DeliveryFailed; marking an already Delivered
// proposal again is a no-op.
func (s *Service) MarkDelivered(ctx context.Context, proposalID id.ProposalID, outcome DeliveryOutcome) (*Proposal, error) {
	ctx, span := s.tracer.Start(ctx, "proposal.MarkDelivered",
		trace.WithAttributes(attribute.String("proposal.id", proposalID.String())))
	defer span.End()

	mu := s.lock(proposalID)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.store.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.State == StateDelivered {
		return p, nil
	}
	if !p.State.Deliverable() {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("proposal %s is %s, not awaiting delivery", p.ID, p.State))
	}

	p.DeliveryAttempts += outcome.Attempts
	now := s.clock()
	if outcome.Delivered {
		err = s.transitionLocked(ctx, p, StateDelivered, transition{reason: "delivery", target: outcome.Target, at: now})
	} else {
		err = s.transitionLocked(ctx, p, StateDeliveryFailed, transition{
			reason: "delivery", deliveryErr: outcome.Err, at: now,
		})
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Redeliver re-triggers delivery for a proposal stuck in DeliveryFailed, or
// one Approved before a dispatcher was configured.
func (s *Service) Redeliver(ctx context.Context, proposalID id.ProposalID) (*Proposal, error) {
	mu := s.lock(proposalID)
	mu.Lock()
	p, err := s.store.Get(ctx, proposalID)
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !p.State.Deliverable() {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("proposal %s is %s, not awaiting delivery", p.ID, p.State))
	}
	if s.dispatcher == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "no delivery dispatcher configured")
	}
	s.dispatchAsync(p)
	return p, nil
}

// Get returns the proposal, settling it first when its deadline has lapsed
// unnoticed. The on-access check keeps reads honest between sweeper runs.
func (s *Service) Get(ctx context.Context, proposalID id.ProposalID) (*Proposal, error) {
	p, err := s.store.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.State.AcceptsDecisions() && s.clock().After(p.ExpiresAt) {
		return s.Expire(ctx, proposalID)
	}
	return p, nil
}

// List returns proposals matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Proposal, error) {
	return s.store.List(ctx, filter)
}

// dispatchAsync hands an approved proposal to the dispatcher without holding
// the proposal lock through network retries and backoff sleeps.
func (s *Service) dispatchAsync(p *Proposal) {
	if s.dispatcher == nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		// Detached from the request context: the producer's HTTP request
		// ending must not cancel an authorized delivery.
		ctx := context.Background()
		outcome := s.dispatcher.Deliver(ctx, p)
		if !outcome.Delivered && outcome.Attempts == 0 && outcome.Err == "" {
			// Another run holds the idempotency marker; its outcome will
			// land through its own MarkDelivered call.
			return
		}
		if _, err := s.MarkDelivered(ctx, p.ID, outcome); err != nil {
			s.logger.ErrorContext(ctx, "record delivery outcome",
				"proposal_id", p.ID,
				"error", err,
			)
		}
	}()
}

// notify announces a lifecycle event off the calling goroutine. Callers hold
// the proposal lock, so a slow sink must never run inline. Close drains
// outstanding announcements.
func (s *Service) notify(ctx context.Context, kind string, p *Proposal) {
	if s.notifier == nil {
		return
	}
	snapshot := p.clone()
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.notifier.Notify(context.WithoutCancel(ctx), kind, snapshot)
	}()
}

// signDecision hashes the decision's fields and signs the digest, binding
// reviewer, verdict, revision and timestamp together in the ledger snapshot.
func (s *Service) signDecision(d Decision) (string, error) {
	d.Signature = ""
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal decision: %w", err)
	}
	sum := sha256.Sum256(raw)
	return s.signer.Sign("sha256:" + hex.EncodeToString(sum[:])), nil
}
