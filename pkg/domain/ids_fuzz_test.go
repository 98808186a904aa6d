//go:build go1.18

package domain

import (
	"testing"
)

// FuzzParseProposalID tests that parsing never panics on arbitrary input and
// that accepted values round-trip through their string form.
func FuzzParseProposalID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE proposals;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		proposalID, err := ParseProposalID(input)
		if err != nil {
			return
		}
		roundTrip, err := ParseProposalID(proposalID.String())
		if err != nil {
			t.Errorf("accepted ID failed round-trip: %v", err)
		}
		if roundTrip != proposalID {
			t.Error("round-trip changed ID value")
		}
	})
}

// FuzzParsePolicyID checks the slug validator against arbitrary input.
func FuzzParsePolicyID(f *testing.F) {
	f.Add("")
	f.Add("dual-control")
	f.Add("security_review")
	f.Add("UPPER")
	f.Add("--")
	f.Add("a b")

	f.Fuzz(func(t *testing.T, input string) {
		policyID, err := ParsePolicyID(input)
		if err != nil {
			return
		}
		if policyID.String() != input {
			t.Error("accepted slug does not equal its input")
		}
		if again, err := ParsePolicyID(policyID.String()); err != nil || again != policyID {
			t.Error("accepted slug failed re-parse")
		}
	})
}
