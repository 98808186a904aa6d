// Package proposal owns the canonical lifecycle of each proposal. All state
// lives in the audit ledger; the in-memory projection here is a rebuildable
// cache, reconstructed by replaying the ledger on startup.
package proposal

import (
	"encoding/json"
	"time"

	"assent/internal/quorum"
	id "assent/pkg/domain"
)

// State is a proposal's lifecycle position.
type State string

const (
	StatePending        State = "pending"
	StateUnderReview    State = "under_review"
	StateApproved       State = "approved"
	StateRejected       State = "rejected"
	StateExpired        State = "expired"
	StateDelivered      State = "delivered"
	StateDeliveryFailed State = "delivery_failed"
)

// AcceptsDecisions reports whether reviewers may still decide. Only Pending
// and UnderReview proposals are open for review.
func (s State) AcceptsDecisions() bool {
	return s == StatePending || s == StateUnderReview
}

// Deliverable reports whether the dispatcher may (re)attempt delivery.
// DeliveryFailed stays deliverable so operators can re-trigger manually.
func (s State) Deliverable() bool {
	return s == StateApproved || s == StateDeliveryFailed
}

// Terminal reports whether the state machine accepts no further transitions
// at all. DeliveryFailed is excluded: re-delivery remains possible.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateExpired, StateDelivered:
		return true
	}
	return false
}

// Decision is one reviewer's recorded verdict, immutable once signed. The
// signature binds the decision fields so the ledger snapshot is attributable.
type Decision struct {
	ProposalID id.ProposalID   `json:"proposal_id"`
	Reviewer   id.ReviewerID   `json:"reviewer_id"`
	Roles      []string        `json:"roles"`
	Verdict    quorum.Verdict  `json:"verdict"`
	Amendment  json.RawMessage `json:"amendment,omitempty"`
	Comment    string          `json:"comment,omitempty"`
	Revision   int             `json:"revision"`
	DecidedAt  time.Time       `json:"decided_at"`
	Signature  string          `json:"signature"`
}

// Proposal is a unit of work awaiting human authorization.
type Proposal struct {
	ID      id.ProposalID   `json:"id"`
	Summary string          `json:"summary"`
	Payload json.RawMessage `json:"payload"`

	// PolicyID and PolicyVersion pin the quorum rules active at creation
	// time. Later policy edits never change an open review.
	PolicyID      id.PolicyID `json:"policy_id"`
	PolicyVersion int         `json:"policy_version"`

	// Revision starts at 1 and is bumped by each accepted amendment.
	Revision int `json:"revision"`

	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Decisions is the full ordered log, superseded entries included.
	Decisions []Decision `json:"decisions,omitempty"`

	// VetoedBy is set when a reject decision ended the review.
	VetoedBy *id.ReviewerID `json:"vetoed_by,omitempty"`

	// Escalated marks a timeout that demands human follow-up.
	Escalated bool `json:"escalated,omitempty"`

	// DeliveryAttempts counts wire attempts across all delivery runs.
	DeliveryAttempts int `json:"delivery_attempts,omitempty"`
}

// clone deep-copies the projection record so callers outside the lock never
// alias internal state.
func (p *Proposal) clone() *Proposal {
	cp := *p
	cp.Payload = append(json.RawMessage(nil), p.Payload...)
	cp.Decisions = append([]Decision(nil), p.Decisions...)
	if p.VetoedBy != nil {
		v := *p.VetoedBy
		cp.VetoedBy = &v
	}
	return &cp
}

// quorumLog projects the decision log into the quorum engine's input shape.
func (p *Proposal) quorumLog() []quorum.Decision {
	out := make([]quorum.Decision, 0, len(p.Decisions))
	for _, d := range p.Decisions {
		out = append(out, quorum.Decision{
			Reviewer: d.Reviewer,
			Roles:    d.Roles,
			Verdict:  d.Verdict,
			Revision: d.Revision,
			At:       d.DecidedAt,
		})
	}
	return out
}
