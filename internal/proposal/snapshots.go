package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	id "assent/pkg/domain"
	"assent/pkg/requestcontext"
)

// Ledger snapshot shapes. Each event type carries enough state to rebuild
// the projection during replay, so the ledger alone is a complete record.

type createdSnapshot struct {
	Summary       string          `json:"summary"`
	Payload       json.RawMessage `json:"payload"`
	PolicyID      id.PolicyID     `json:"policy_id"`
	PolicyVersion int             `json:"policy_version"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

type decisionSnapshot struct {
	Decision Decision `json:"decision"`
	// NewState records the implicit Pending to UnderReview move on the
	// first decision without spending a separate ledger entry on it.
	NewState State `json:"new_state"`
	// Payload is present only when the decision amended it.
	Payload  json.RawMessage `json:"payload,omitempty"`
	Revision int             `json:"revision"`
	// Origin captures where the decision came from, for reviewer forensics.
	Origin *originSnapshot `json:"origin,omitempty"`
}

type originSnapshot struct {
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// decisionOrigin reads the client metadata the HTTP middleware stored, if
// any. CLI or in-process callers simply have no origin.
func decisionOrigin(ctx context.Context) *originSnapshot {
	ip := requestcontext.ClientIP(ctx)
	ua := requestcontext.UserAgent(ctx)
	if ip == "" && ua == "" {
		return nil
	}
	return &originSnapshot{ClientIP: ip, UserAgent: ua}
}

type stateSnapshot struct {
	From State `json:"from"`
	To   State `json:"to"`
	// Reason is "quorum", "veto", "timeout" or "delivery".
	Reason    string         `json:"reason"`
	VetoedBy  *id.ReviewerID `json:"vetoed_by,omitempty"`
	Escalated bool           `json:"escalated,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type quorumSnapshot struct {
	From      State          `json:"from"`
	To        State          `json:"to"`
	Satisfied map[string]int `json:"satisfied"`
}

type deliverySnapshot struct {
	Attempt int    `json:"attempt"`
	Target  string `json:"target,omitempty"`
	Error   string `json:"error,omitempty"`
}

func marshalSnapshot(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return raw, nil
}
