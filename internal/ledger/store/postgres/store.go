// Package postgres implements the durable ledger store.
//
// Schema (migrations managed by the deployment):
//
//	CREATE TABLE ledger_entries (
//	    seq          BIGINT PRIMARY KEY,
//	    proposal_id  UUID NOT NULL,
//	    event_type   TEXT NOT NULL,
//	    snapshot     JSONB,
//	    ts           TIMESTAMPTZ NOT NULL,
//	    prev_hash    TEXT NOT NULL,
//	    content_hash TEXT NOT NULL,
//	    signature    TEXT NOT NULL
//	);
//	CREATE INDEX ledger_entries_proposal_idx ON ledger_entries (proposal_id, seq);
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"assent/internal/ledger"
	id "assent/pkg/domain"
	txcontext "assent/pkg/platform/tx"
)

// Store implements ledger.Store on PostgreSQL. Inserts are durable on return
// (synchronous commit); the ledger service provides the single append point,
// so no row-level coordination is needed here.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL ledger store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) execer(ctx context.Context) txcontext.Executor {
	return txcontext.Execer(ctx, s.db)
}

func (s *Store) Head(ctx context.Context) (uint64, string, error) {
	query := `
		SELECT seq, content_hash
		FROM ledger_entries
		ORDER BY seq DESC
		LIMIT 1
	`
	var (
		seq  uint64
		hash string
	)
	err := s.execer(ctx).QueryRowContext(ctx, query).Scan(&seq, &hash)
	if err == sql.ErrNoRows {
		return 0, ledger.GenesisHash, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("query ledger head: %w", err)
	}
	return seq, hash, nil
}

func (s *Store) Insert(ctx context.Context, entry ledger.Entry) error {
	query := `
		INSERT INTO ledger_entries (
			seq, proposal_id, event_type, snapshot, ts,
			prev_hash, content_hash, signature
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var snapshot any
	if len(entry.Snapshot) > 0 {
		snapshot = []byte(entry.Snapshot)
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		int64(entry.Seq),
		uuid.UUID(entry.ProposalID),
		string(entry.Type),
		snapshot,
		entry.Timestamp,
		entry.PrevHash,
		entry.ContentHash,
		entry.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.ProposalID.IsNil() {
		conditions = append(conditions, "proposal_id = "+arg(uuid.UUID(filter.ProposalID)))
	}
	if filter.Type != "" {
		conditions = append(conditions, "event_type = "+arg(string(filter.Type)))
	}
	if filter.AfterSeq > 0 {
		conditions = append(conditions, "seq > "+arg(int64(filter.AfterSeq)))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "ts >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "ts <= "+arg(filter.To))
	}

	query := `
		SELECT seq, proposal_id, event_type, snapshot, ts,
		       prev_hash, content_hash, signature
		FROM ledger_entries
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var entries []ledger.Entry

	for rows.Next() {
		var (
			seq        int64
			proposalID uuid.UUID
			eventType  string
			snapshot   []byte
			ts         time.Time
			entry      ledger.Entry
		)
		err := rows.Scan(
			&seq,
			&proposalID,
			&eventType,
			&snapshot,
			&ts,
			&entry.PrevHash,
			&entry.ContentHash,
			&entry.Signature,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entry.Seq = uint64(seq)
		entry.ProposalID = id.ProposalID(proposalID)
		entry.Type = ledger.EventType(eventType)
		entry.Snapshot = json.RawMessage(snapshot)
		entry.Timestamp = ts
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}
