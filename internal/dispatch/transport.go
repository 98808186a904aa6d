//go:generate mockgen -source=transport.go -destination=mocks/transport_mock.go -package=mocks

package dispatch

import (
	"context"

	"assent/internal/envelope"
)

// Transport carries an envelope to the downstream target and returns its
// response envelope. Implementations wrap HTTP endpoints, message queues or
// anything else that can acknowledge a delivery; errors are returned for the
// dispatcher to retry.
type Transport interface {
	Send(ctx context.Context, env envelope.Envelope) (envelope.Envelope, error)

	// Name identifies the transport in logs and ledger snapshots.
	Name() string
}

// MarkerStore records "delivery attempted" markers. A marker is written
// before the first network call of a run so a crashed or duplicated
// dispatcher never double-delivers; it is released when a run ends in
// failure so the proposal stays manually retriable.
type MarkerStore interface {
	// Acquire writes the marker for the proposal, returning false when a
	// marker already exists.
	Acquire(ctx context.Context, proposalID string) (bool, error)
	Release(ctx context.Context, proposalID string) error
}
