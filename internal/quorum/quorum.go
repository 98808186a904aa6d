// Package quorum evaluates the decisions recorded against a proposal under a
// quorum policy. Evaluate is pure and deterministic: the same decision log
// and policy always produce the same outcome, which lets the lifecycle
// service re-run it safely after replay or retry.
package quorum

import (
	"time"

	"assent/internal/policy"
	id "assent/pkg/domain"
)

// Verdict is a reviewer's position on a proposal.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
	// VerdictAmend proposes a payload change. It counts as neither approval
	// nor veto, but it supersedes the reviewer's own earlier verdict.
	VerdictAmend Verdict = "amend"
)

// Decision is one reviewer's recorded verdict. Revision is the proposal
// revision the verdict was cast against; amendments bump the revision.
type Decision struct {
	Reviewer id.ReviewerID
	Roles    []string
	Verdict  Verdict
	Revision int
	At       time.Time
}

// State is the quorum result for a proposal's decision log.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
)

// Outcome reports the quorum state plus enough detail for the API and audit
// trail: per-role counts of distinct approvers, remaining shortfall, and the
// vetoing reviewer when a reject ended the review.
type Outcome struct {
	State     State
	Satisfied map[string]int
	Missing   map[string]int
	VetoedBy  *id.ReviewerID
}

// Evaluate folds a decision log into an outcome under the given policy.
//
// Rules, in precedence order:
//
//  1. A reviewer's latest decision supersedes their earlier ones. Log order
//     is authoritative; timestamps are informational.
//  2. When the policy resets approvals on amendment, decisions cast against
//     an older revision are discounted entirely until the reviewer decides
//     again on the current revision.
//  3. With veto enabled, any effective reject is final: the outcome is
//     Rejected even when the approval thresholds are simultaneously met.
//     Safety wins the tie.
//  4. Otherwise the proposal is Approved once every required role has its
//     minimum count of distinct approving reviewers, and Pending until then.
func Evaluate(p policy.QuorumPolicy, revision int, decisions []Decision) Outcome {
	// Index of each reviewer's effective decision in the log. Kept as an
	// index rather than a map of decisions so the veto walk below stays in
	// log order and the outcome is deterministic.
	effective := make(map[id.ReviewerID]int, len(decisions))
	for i, d := range decisions {
		if p.AmendResetsApprovals && d.Revision != revision {
			// A stale decision still supersedes: re-deciding on an old
			// revision withdraws the reviewer's earlier current-revision
			// verdict rather than leaving it counted.
			delete(effective, d.Reviewer)
			continue
		}
		effective[d.Reviewer] = i
	}

	out := Outcome{
		State:     StatePending,
		Satisfied: make(map[string]int, len(p.RequiredRoles)),
		Missing:   make(map[string]int, len(p.RequiredRoles)),
	}

	for i, d := range decisions {
		if idx, ok := effective[d.Reviewer]; !ok || idx != i {
			continue
		}
		if d.Verdict == VerdictReject && p.VetoOnAnyReject && out.VetoedBy == nil {
			reviewer := d.Reviewer
			out.State = StateRejected
			out.VetoedBy = &reviewer
		}
		if d.Verdict != VerdictApprove {
			continue
		}
		for _, role := range d.Roles {
			if _, required := p.RequiredRoles[role]; required {
				out.Satisfied[role]++
			}
		}
	}

	satisfied := true
	for role, min := range p.RequiredRoles {
		if short := min - out.Satisfied[role]; short > 0 {
			out.Missing[role] = short
			satisfied = false
		}
	}

	// Reject precedence: a veto set above is never downgraded to Approved.
	if out.State == StateRejected {
		return out
	}
	if satisfied {
		out.State = StateApproved
	}
	return out
}
