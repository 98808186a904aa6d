// Package ledger provides the tamper-evident, append-only record of all
// proposal lifecycle events. Every entry is hash-chained to its predecessor
// and signed; the chain is the source of truth for crash recovery.
package ledger

import (
	"encoding/json"
	"time"

	id "assent/pkg/domain"
)

// EventType classifies ledger events.
type EventType string

const (
	EventCreated          EventType = "created"
	EventDecisionRecorded EventType = "decision_recorded"
	EventQuorumReached    EventType = "quorum_reached"
	EventStateChanged     EventType = "state_changed"
	EventDelivered        EventType = "delivered"
	EventDeliveryFailed   EventType = "delivery_failed"
)

// Event is the input to Append: what happened, to which proposal, carrying a
// snapshot of the relevant data at the time of the event.
type Event struct {
	ProposalID id.ProposalID
	Type       EventType
	Snapshot   json.RawMessage
	Timestamp  time.Time
}

// Entry is an immutable, hash-chained ledger record. ContentHash covers
// (seq, proposal_id, event_type, snapshot, prev_hash); Signature signs the
// content hash.
type Entry struct {
	Seq         uint64          `json:"seq"`
	ProposalID  id.ProposalID   `json:"proposal_id"`
	Type        EventType       `json:"event_type"`
	Snapshot    json.RawMessage `json:"snapshot"`
	Timestamp   time.Time       `json:"timestamp"`
	PrevHash    string          `json:"prev_hash"`
	ContentHash string          `json:"content_hash"`
	Signature   string          `json:"signature"`
}

// Filter narrows Query results. Zero values mean "no constraint".
type Filter struct {
	ProposalID id.ProposalID
	Type       EventType
	From       time.Time
	To         time.Time
	AfterSeq   uint64
	Limit      int
}

// GenesisHash anchors the chain before the first entry.
const GenesisHash = "genesis"
