package policy

import (
	"fmt"
	"sync"

	id "assent/pkg/domain"
	dErrors "assent/pkg/domain-errors"
)

// Registry is the read-side view the runtime holds on quorum policies.
type Registry interface {
	// Get returns the latest version of a policy.
	Get(policyID id.PolicyID) (*QuorumPolicy, error)
	// GetVersion returns a specific policy version, used by proposals that
	// pinned an older version at creation time.
	GetVersion(policyID id.PolicyID, version int) (*QuorumPolicy, error)
	// List returns the latest version of every registered policy.
	List() []*QuorumPolicy
}

// MemoryRegistry holds validated policies in memory. Governance tooling
// registers policies at startup (from YAML or code); the runtime only reads.
type MemoryRegistry struct {
	mu       sync.RWMutex
	versions map[id.PolicyID][]*QuorumPolicy
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{versions: make(map[id.PolicyID][]*QuorumPolicy)}
}

// Register validates and stores a policy as the next version of its ID.
// The stored copy deep-copies RequiredRoles so callers cannot mutate a
// registered policy afterward.
func (r *MemoryRegistry) Register(p QuorumPolicy) (*QuorumPolicy, error) {
	if err := p.Validate(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid quorum policy")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := p
	stored.Version = len(r.versions[p.ID]) + 1
	stored.RequiredRoles = make(map[string]int, len(p.RequiredRoles))
	for role, min := range p.RequiredRoles {
		stored.RequiredRoles[role] = min
	}

	r.versions[p.ID] = append(r.versions[p.ID], &stored)
	return &stored, nil
}

func (r *MemoryRegistry) Get(policyID id.PolicyID) (*QuorumPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.versions[policyID]
	if len(history) == 0 {
		return nil, dErrors.New(dErrors.CodeUnknownPolicy, fmt.Sprintf("policy %q is not registered", policyID))
	}
	return history[len(history)-1], nil
}

func (r *MemoryRegistry) GetVersion(policyID id.PolicyID, version int) (*QuorumPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.versions[policyID]
	if version <= 0 || version > len(history) {
		return nil, dErrors.New(dErrors.CodeUnknownPolicy,
			fmt.Sprintf("policy %q has no version %d", policyID, version))
	}
	return history[version-1], nil
}

func (r *MemoryRegistry) List() []*QuorumPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*QuorumPolicy, 0, len(r.versions))
	for _, history := range r.versions {
		out = append(out, history[len(history)-1])
	}
	return out
}
