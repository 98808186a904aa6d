package proposal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	id "assent/pkg/domain"
	dErrors "assent/pkg/domain-errors"
	"assent/pkg/platform/sentinel"
)

// Store is the projection cache over the ledger. It is not a system of
// record: losing it costs a replay, never data.
type Store interface {
	Get(ctx context.Context, proposalID id.ProposalID) (*Proposal, error)
	Put(ctx context.Context, p *Proposal) error
	List(ctx context.Context, filter ListFilter) ([]*Proposal, error)
}

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	State    State
	PolicyID id.PolicyID
	Limit    int
}

// MemoryStore is the default projection, rebuilt from the ledger on startup.
type MemoryStore struct {
	mu        sync.RWMutex
	proposals map[id.ProposalID]*Proposal
	order     []id.ProposalID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proposals: make(map[id.ProposalID]*Proposal)}
}

func (s *MemoryStore) Get(_ context.Context, proposalID id.ProposalID) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[proposalID]
	if !ok {
		return nil, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, fmt.Sprintf("proposal %s not found", proposalID))
	}
	return p.clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.proposals[p.ID]; !exists {
		s.order = append(s.order, p.ID)
	}
	s.proposals[p.ID] = p.clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Proposal, 0, len(s.order))
	for _, pid := range s.order {
		p := s.proposals[pid]
		if filter.State != "" && p.State != filter.State {
			continue
		}
		if !filter.PolicyID.IsNil() && p.PolicyID != filter.PolicyID {
			continue
		}
		out = append(out, p.clone())
	}
	// Sort before truncating so a limit returns the earliest matches, not
	// the first inserted.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
