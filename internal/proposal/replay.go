package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"assent/internal/ledger"
	id "assent/pkg/domain"
	dErrors "assent/pkg/domain-errors"
)

// Replay rebuilds the projection by folding the whole ledger, oldest entry
// first. Run at startup before the service accepts traffic; the ledger is
// the system of record and the projection only a cache of it.
func Replay(ctx context.Context, led *ledger.Service, store Store, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := led.Query(ctx, ledger.Filter{})
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "read ledger for replay")
	}

	proposals := make(map[id.ProposalID]*Proposal)
	for _, entry := range entries {
		if err := applyEntry(proposals, entry); err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeInternal,
				fmt.Sprintf("replay ledger entry %d", entry.Seq))
		}
	}

	for _, p := range proposals {
		if err := store.Put(ctx, p); err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "cache replayed proposal")
		}
	}

	logger.InfoContext(ctx, "ledger replay complete",
		"entries", len(entries),
		"proposals", len(proposals),
	)
	return len(proposals), nil
}

func applyEntry(proposals map[id.ProposalID]*Proposal, entry ledger.Entry) error {
	if entry.Type == ledger.EventCreated {
		var snap createdSnapshot
		if err := json.Unmarshal(entry.Snapshot, &snap); err != nil {
			return fmt.Errorf("decode created snapshot: %w", err)
		}
		proposals[entry.ProposalID] = &Proposal{
			ID:            entry.ProposalID,
			Summary:       snap.Summary,
			Payload:       snap.Payload,
			PolicyID:      snap.PolicyID,
			PolicyVersion: snap.PolicyVersion,
			Revision:      1,
			State:         StatePending,
			CreatedAt:     entry.Timestamp,
			ExpiresAt:     snap.ExpiresAt,
		}
		return nil
	}

	p, ok := proposals[entry.ProposalID]
	if !ok {
		return fmt.Errorf("entry for proposal %s precedes its creation", entry.ProposalID)
	}

	switch entry.Type {
	case ledger.EventDecisionRecorded:
		var snap decisionSnapshot
		if err := json.Unmarshal(entry.Snapshot, &snap); err != nil {
			return fmt.Errorf("decode decision snapshot: %w", err)
		}
		p.Decisions = append(p.Decisions, snap.Decision)
		p.State = snap.NewState
		p.Revision = snap.Revision
		if len(snap.Payload) > 0 {
			p.Payload = snap.Payload
		}

	case ledger.EventQuorumReached:
		var snap quorumSnapshot
		if err := json.Unmarshal(entry.Snapshot, &snap); err != nil {
			return fmt.Errorf("decode quorum snapshot: %w", err)
		}
		p.State = snap.To

	case ledger.EventStateChanged:
		var snap stateSnapshot
		if err := json.Unmarshal(entry.Snapshot, &snap); err != nil {
			return fmt.Errorf("decode state snapshot: %w", err)
		}
		p.State = snap.To
		p.VetoedBy = snap.VetoedBy
		if snap.Escalated {
			p.Escalated = true
		}

	case ledger.EventDelivered:
		p.State = StateDelivered
		p.DeliveryAttempts++

	case ledger.EventDeliveryFailed:
		// Per-attempt record written by the dispatcher; the state change,
		// if the run exhausted its retries, follows as its own entry.
		p.DeliveryAttempts++

	default:
		return fmt.Errorf("unknown ledger event type %q", entry.Type)
	}
	return nil
}
