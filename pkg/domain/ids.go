package domain

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	dErrors "assent/pkg/domain-errors"
)

// Typed IDs prevent accidental cross-assignment between identifier kinds.
// All UUID-backed IDs must be valid, non-nil UUIDs; parsing enforces this
// at trust boundaries so internal code can assume validity.

// ProposalID identifies a proposal awaiting human authorization.
type ProposalID uuid.UUID

// ReviewerID identifies the human who submitted a decision.
type ReviewerID uuid.UUID

// EnvelopeID identifies a single wire message.
type EnvelopeID uuid.UUID

// NewProposalID generates a fresh proposal ID.
func NewProposalID() ProposalID {
	return ProposalID(uuid.New())
}

// NewReviewerID generates a fresh reviewer ID.
func NewReviewerID() ReviewerID {
	return ReviewerID(uuid.New())
}

// NewEnvelopeID generates a fresh envelope ID.
func NewEnvelopeID() EnvelopeID {
	return EnvelopeID(uuid.New())
}

// ParseProposalID validates and returns a ProposalID.
func ParseProposalID(s string) (ProposalID, error) {
	u, err := parseUUID(s, "proposal_id")
	return ProposalID(u), err
}

// ParseReviewerID validates and returns a ReviewerID.
func ParseReviewerID(s string) (ReviewerID, error) {
	u, err := parseUUID(s, "reviewer_id")
	return ReviewerID(u), err
}

// ParseEnvelopeID validates and returns an EnvelopeID.
func ParseEnvelopeID(s string) (EnvelopeID, error) {
	u, err := parseUUID(s, "envelope_id")
	return EnvelopeID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s is required", field))
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("%s is not a valid UUID", field))
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s must not be the nil UUID", field))
	}
	return u, nil
}

func (id ProposalID) String() string { return uuid.UUID(id).String() }
func (id ReviewerID) String() string { return uuid.UUID(id).String() }
func (id EnvelopeID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the ID is the zero UUID.
func (id ProposalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// IsNil reports whether the ID is the zero UUID.
func (id ReviewerID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// IsNil reports whether the ID is the zero UUID.
func (id EnvelopeID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Text marshalling keeps the canonical UUID string form on the wire and in
// ledger snapshots.

func (id ProposalID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id ReviewerID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id EnvelopeID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ProposalID) UnmarshalText(b []byte) error {
	parsed, err := ParseProposalID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ReviewerID) UnmarshalText(b []byte) error {
	parsed, err := ParseReviewerID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *EnvelopeID) UnmarshalText(b []byte) error {
	parsed, err := ParseEnvelopeID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PolicyID names a quorum policy. Policies are governance configuration, so
// IDs are human-managed slugs rather than UUIDs.
type PolicyID string

var policySlugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// ParsePolicyID validates a policy slug: lowercase alphanumerics separated by
// single hyphens or underscores, e.g. "dual-control" or "security_review".
func ParsePolicyID(s string) (PolicyID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "policy_id is required")
	}
	if len(s) > 64 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "policy_id exceeds 64 characters")
	}
	if !policySlugPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("policy_id %q is not a valid slug", s))
	}
	return PolicyID(s), nil
}

func (id PolicyID) String() string { return string(id) }

// IsNil reports whether the policy ID is empty.
func (id PolicyID) IsNil() bool { return id == "" }
