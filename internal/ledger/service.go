package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	id "assent/pkg/domain"
	dErrors "assent/pkg/domain-errors"
)

// Mirror receives committed entries for out-of-band fan-out (e.g. a Kafka
// topic). Mirror failures are isolated by the service and never fail the
// append.
type Mirror interface {
	Publish(ctx context.Context, entry Entry)
}

// Service is the single append point for the ledger. All writers go through
// Append, which serializes chain extension under one mutex so the monotonic
// sequence and hash chain hold across concurrent proposals.
type Service struct {
	mu     sync.Mutex
	store  Store
	signer *Signer
	logger *slog.Logger
	clock  func() time.Time

	mirrors []Mirror

	// Cached head; loaded lazily and maintained across appends.
	headLoaded bool
	headSeq    uint64
	headHash   string
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithMirror registers a fan-out destination for committed entries.
func WithMirror(m Mirror) Option {
	return func(s *Service) { s.mirrors = append(s.mirrors, m) }
}

// WithLogger sets a logger for mirror failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates the ledger service.
func NewService(store Store, signer *Signer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("ledger signer is required")
	}
	s := &Service{
		store:  store,
		signer: signer,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Append extends the chain with one event. The write is durable before
// Append returns; callers must treat an error as fatal for the triggering
// operation ("no audit, no state change").
func (s *Service) Append(ctx context.Context, event Event) (Entry, error) {
	if event.ProposalID.IsNil() {
		return Entry{}, dErrors.New(dErrors.CodeInvalidInput, "ledger event requires a proposal_id")
	}
	if event.Type == "" {
		return Entry{}, dErrors.New(dErrors.CodeInvalidInput, "ledger event requires a type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.headLoaded {
		seq, hash, err := s.store.Head(ctx)
		if err != nil {
			return Entry{}, dErrors.Wrap(err, dErrors.CodeLedgerWrite, "load ledger head")
		}
		s.headSeq, s.headHash, s.headLoaded = seq, hash, true
	}

	seq := s.headSeq + 1
	hash, err := contentHash(seq, event.ProposalID.String(), event.Type, event.Snapshot, s.headHash)
	if err != nil {
		return Entry{}, dErrors.Wrap(err, dErrors.CodeLedgerWrite, "compute content hash")
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = s.clock()
	}

	entry := Entry{
		Seq:         seq,
		ProposalID:  event.ProposalID,
		Type:        event.Type,
		Snapshot:    event.Snapshot,
		Timestamp:   ts,
		PrevHash:    s.headHash,
		ContentHash: hash,
		Signature:   s.signer.Sign(hash),
	}

	if err := s.store.Insert(ctx, entry); err != nil {
		return Entry{}, dErrors.Wrap(err, dErrors.CodeLedgerWrite, "insert ledger entry")
	}

	s.headSeq = seq
	s.headHash = hash

	for _, m := range s.mirrors {
		m.Publish(ctx, entry)
	}

	return entry, nil
}

// Query returns entries matching the filter, ordered by seq ascending.
// Callers page by passing the last seen seq as Filter.AfterSeq.
func (s *Service) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "query ledger")
	}
	return entries, nil
}

// VerifyChain recomputes hashes and signatures for entries in [from, to]
// and checks chain continuity. A zero `to` verifies through the head.
// Returns a tamper_detected error naming the first offending sequence.
func (s *Service) VerifyChain(ctx context.Context, from, to uint64) error {
	if from == 0 {
		from = 1
	}
	filter := Filter{AfterSeq: from - 1}
	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load entries for verification")
	}

	prevHash := ""
	if from == 1 {
		prevHash = GenesisHash
	}

	expectedSeq := from
	for _, entry := range entries {
		if to != 0 && entry.Seq > to {
			break
		}
		if entry.Seq != expectedSeq {
			return tamper(entry.Seq, fmt.Sprintf("sequence gap: expected %d", expectedSeq))
		}
		if prevHash != "" && entry.PrevHash != prevHash {
			return tamper(entry.Seq, "prev_hash does not match predecessor")
		}

		computed, err := contentHash(entry.Seq, entry.ProposalID.String(), entry.Type, entry.Snapshot, entry.PrevHash)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "recompute content hash")
		}
		if computed != entry.ContentHash {
			return tamper(entry.Seq, "content hash mismatch")
		}
		if !s.signer.Verify(entry.ContentHash, entry.Signature) {
			return tamper(entry.Seq, "signature invalid")
		}

		prevHash = entry.ContentHash
		expectedSeq = entry.Seq + 1
	}

	return nil
}

// EntriesForProposal returns the full causal chain for one proposal.
func (s *Service) EntriesForProposal(ctx context.Context, proposalID id.ProposalID) ([]Entry, error) {
	return s.Query(ctx, Filter{ProposalID: proposalID})
}

func tamper(seq uint64, reason string) error {
	return dErrors.New(dErrors.CodeTamperDetected, fmt.Sprintf("chain broken at seq %d: %s", seq, reason))
}
