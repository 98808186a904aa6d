package ledger

import (
	"context"
)

// Store persists ledger entries. Implementations must make Insert durable
// before returning; the service treats a returned error as "nothing was
// written". Swap in-memory and Postgres implementations without touching the
// service.
type Store interface {
	// Head returns the sequence and content hash of the latest entry, or
	// (0, GenesisHash) on an empty ledger.
	Head(ctx context.Context) (uint64, string, error)

	// Insert durably writes one entry. The service guarantees entries arrive
	// in sequence order through a single append point.
	Insert(ctx context.Context, entry Entry) error

	// List returns entries matching the filter ordered by seq ascending.
	List(ctx context.Context, filter Filter) ([]Entry, error)
}
