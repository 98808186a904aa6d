// Package policy holds the quorum policy registry. Policies are governance
// configuration: created and versioned by operators, read-only to the
// runtime. In-flight proposals pin the policy version active at their
// creation time, so later edits never change the rules of an open review.
package policy

import (
	"fmt"
	"time"

	id "assent/pkg/domain"
)

// OnTimeout selects what happens when a proposal's TTL elapses without
// quorum.
type OnTimeout string

const (
	// TimeoutAutoReject rejects the proposal outright, with an escalation
	// tag in the audit snapshot so a human follows up.
	TimeoutAutoReject OnTimeout = "auto_reject"
	// TimeoutEscalate expires the proposal (no downstream action) and
	// notifies the escalation sink.
	TimeoutEscalate OnTimeout = "escalate"
)

// QuorumPolicy is a declarative rule set governing how many approvals, from
// which roles, authorize a proposal.
type QuorumPolicy struct {
	ID      id.PolicyID
	Version int

	// RequiredRoles maps role name to the minimum count of distinct
	// approving reviewers holding that role.
	RequiredRoles map[string]int

	// TTL bounds how long a proposal may wait for quorum.
	TTL time.Duration

	OnTimeout OnTimeout

	// VetoOnAnyReject makes a single reject decision final regardless of
	// accumulated approvals. Defaults to true: human veto power is the
	// point of the gate.
	VetoOnAnyReject bool

	// AmendResetsApprovals discounts approvals recorded before the latest
	// amendment until the reviewer re-approves the amended payload.
	AmendResetsApprovals bool
}

// Validate enforces the structural invariants: at least one required role,
// positive role minimums, positive TTL, and a known timeout mode.
func (p QuorumPolicy) Validate() error {
	if p.ID.IsNil() {
		return fmt.Errorf("policy id is required")
	}
	if len(p.RequiredRoles) == 0 {
		return fmt.Errorf("policy %s: required_roles must not be empty", p.ID)
	}
	for role, min := range p.RequiredRoles {
		if role == "" {
			return fmt.Errorf("policy %s: empty role name", p.ID)
		}
		if min <= 0 {
			return fmt.Errorf("policy %s: role %s minimum must be positive, got %d", p.ID, role, min)
		}
	}
	if p.TTL <= 0 {
		return fmt.Errorf("policy %s: ttl must be positive", p.ID)
	}
	switch p.OnTimeout {
	case TimeoutAutoReject, TimeoutEscalate:
	default:
		return fmt.Errorf("policy %s: unknown on_timeout %q", p.ID, p.OnTimeout)
	}
	return nil
}
