package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is the in-memory Store used by tests and single-node
// development. Entries live for the process lifetime only.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Head(ctx context.Context) (uint64, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return 0, GenesisHash, nil
	}
	last := s.entries[len(s.entries)-1]
	return last.Seq, last.ContentHash, nil
}

func (s *MemoryStore) Insert(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := uint64(len(s.entries)) + 1; entry.Seq != want {
		return fmt.Errorf("out-of-order insert: got seq %d, want %d", entry.Seq, want)
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, entry := range s.entries {
		if !matches(entry, filter) {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(entry Entry, filter Filter) bool {
	if !filter.ProposalID.IsNil() && entry.ProposalID != filter.ProposalID {
		return false
	}
	if filter.Type != "" && entry.Type != filter.Type {
		return false
	}
	if entry.Seq <= filter.AfterSeq {
		return false
	}
	if !filter.From.IsZero() && entry.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && entry.Timestamp.After(filter.To) {
		return false
	}
	return true
}

// Corrupt overwrites a stored entry in place. Test hook for tamper-evidence
// coverage; never called by production code.
func (s *MemoryStore) Corrupt(seq uint64, mutate func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq == 0 || seq > uint64(len(s.entries)) {
		return fmt.Errorf("entry %d not found", seq)
	}
	mutate(&s.entries[seq-1])
	return nil
}
