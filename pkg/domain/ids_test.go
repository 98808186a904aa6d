package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "assent/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// UUID-backed IDs must be valid, non-empty, non-nil.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseProposalID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseProposalID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseProposalID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		proposalID, err := ParseProposalID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, ProposalID(validUUID), proposalID)
	})

	t.Run("reviewer and envelope IDs share the rules", func(t *testing.T) {
		_, err := ParseReviewerID("")
		require.Error(t, err)
		_, err = ParseEnvelopeID(uuid.Nil.String())
		require.Error(t, err)
	})
}

// TestTypeDistinction verifies the compiler enforces type safety.
func TestTypeDistinction(t *testing.T) {
	proposalID := ProposalID(uuid.New())
	reviewerID := ReviewerID(uuid.New())

	// These would fail to compile if types were interchangeable:
	// var _ ProposalID = reviewerID   // compile error
	// var _ ReviewerID = proposalID   // compile error

	assert.NotEqual(t, uuid.UUID(proposalID), uuid.UUID(reviewerID))
}

func TestIDJSONRoundTrip(t *testing.T) {
	proposalID := NewProposalID()

	encoded, err := json.Marshal(proposalID)
	require.NoError(t, err)
	// Canonical string form on the wire, not a byte array.
	assert.Equal(t, `"`+proposalID.String()+`"`, string(encoded))

	var decoded ProposalID
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, proposalID, decoded)

	var rejected ProposalID
	assert.Error(t, json.Unmarshal([]byte(`"garbage"`), &rejected))
}

func TestParsePolicyID(t *testing.T) {
	t.Run("accepts slugs", func(t *testing.T) {
		for _, valid := range []string{"dual-control", "security_review", "keyrotation2"} {
			policyID, err := ParsePolicyID(valid)
			require.NoError(t, err, valid)
			assert.Equal(t, valid, policyID.String())
		}
	})

	t.Run("rejects malformed slugs", func(t *testing.T) {
		for _, invalid := range []string{"", "UPPER", "double--dash", "-leading", "trailing-", "with space", strings.Repeat("a", 65)} {
			_, err := ParsePolicyID(invalid)
			require.Error(t, err, invalid)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		}
	})
}
