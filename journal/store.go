package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"escrowchain/core"
	"escrowchain/core/types"
)

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

var (
	// ErrIdempotencyMismatch is returned when a key is reused with a different payload.
	ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")
	// ErrIdempotencyInProgress is returned while another request holds the key.
	ErrIdempotencyInProgress = errors.New("idempotency key in use by a request in progress")
)

// statusPending marks a claimed key whose response is not stored yet.
const statusPending = 0

// DefaultPendingLease bounds how long a claim may stay pending before another
// request can take the key over.
const DefaultPendingLease = time.Minute

// Store persists committed receipts and idempotent submission results in
// SQLite.
type Store struct {
	db           *sql.DB
	now          func() time.Time
	pendingLease time.Duration
}

// Entry is one committed transaction as recorded in the journal.
type Entry struct {
	Sequence    int64         `json:"sequence"`
	Hash        string        `json:"hash"`
	Type        string        `json:"type"`
	EscrowID    string        `json:"escrowID,omitempty"`
	WriteRoot   string        `json:"writeRoot"`
	Events      []types.Event `json:"events"`
	CommittedAt time.Time     `json:"committedAt"`
}

// StoredResponse represents a cached response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)
	store := &Store{db: db, now: time.Now, pendingLease: DefaultPendingLease}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS receipts (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            hash TEXT NOT NULL,
            tx_type TEXT NOT NULL,
            escrow_id TEXT,
            write_root TEXT NOT NULL,
            events TEXT NOT NULL,
            committed_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS receipts_escrow ON receipts(escrow_id, sequence);`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            idempotency_key TEXT PRIMARY KEY,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at INTEGER NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("journal schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordReceipt appends a committed receipt and returns its sequence number.
func (s *Store) RecordReceipt(ctx context.Context, receipt *core.Receipt) (int64, error) {
	if receipt == nil {
		return 0, errors.New("journal: nil receipt")
	}
	evts := receipt.Events
	if evts == nil {
		evts = []types.Event{}
	}
	payload, err := json.Marshal(evts)
	if err != nil {
		return 0, err
	}
	const stmt = `INSERT INTO receipts(hash, tx_type, escrow_id, write_root, events, committed_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, stmt, receipt.Hash, receipt.Type.String(), receipt.EscrowID, receipt.WriteRoot, string(payload), s.now().UTC().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// History returns the receipts recorded for escrowID in commit order. A
// positive limit keeps only the most recent entries.
func (s *Store) History(ctx context.Context, escrowID string, limit int) ([]Entry, error) {
	query := `SELECT sequence, hash, tx_type, escrow_id, write_root, events, committed_at FROM receipts WHERE escrow_id = ? ORDER BY sequence ASC`
	args := []interface{}{escrowID}
	if limit > 0 {
		query = `SELECT * FROM (SELECT sequence, hash, tx_type, escrow_id, write_root, events, committed_at FROM receipts WHERE escrow_id = ? ORDER BY sequence DESC LIMIT ?) ORDER BY sequence ASC`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry     Entry
			escrow    sql.NullString
			rawEvents string
			committed int64
		)
		if err := rows.Scan(&entry.Sequence, &entry.Hash, &entry.Type, &escrow, &entry.WriteRoot, &rawEvents, &committed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rawEvents), &entry.Events); err != nil {
			return nil, fmt.Errorf("journal: decode events of #%d: %w", entry.Sequence, err)
		}
		entry.EscrowID = escrow.String
		entry.CommittedAt = time.Unix(0, committed).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// LookupIdempotency returns the stored response for key, nil when the key is
// unused, ErrIdempotencyMismatch when it was used for a different request, or
// ErrIdempotencyInProgress while the first request is still being applied.
func (s *Store) LookupIdempotency(ctx context.Context, key, requestHash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE idempotency_key = ?`
	row := s.db.QueryRowContext(ctx, query, key)
	var status int
	var body []byte
	var storedHash string
	err := row.Scan(&status, &body, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	if status == statusPending {
		return nil, ErrIdempotencyInProgress
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

// ClaimIdempotency reserves key for the caller. It reports claimed=true when
// the caller must apply the request and then call CompleteIdempotency or
// ReleaseIdempotency. Otherwise it returns what LookupIdempotency returns for
// the existing row. A pending claim older than the lease can be taken over.
func (s *Store) ClaimIdempotency(ctx context.Context, key, requestHash string) (*StoredResponse, bool, error) {
	now := s.now().UTC()
	const stmt = `INSERT INTO idempotency_keys(idempotency_key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(idempotency_key) DO UPDATE SET request_hash = excluded.request_hash, created_at = excluded.created_at
        WHERE idempotency_keys.response_status = ? AND idempotency_keys.created_at < ?`
	res, err := s.db.ExecContext(ctx, stmt, key, requestHash, statusPending, []byte{}, now.UnixNano(), statusPending, now.Add(-s.pendingLease).UnixNano())
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 1 {
		return nil, true, nil
	}
	stored, err := s.LookupIdempotency(ctx, key, requestHash)
	if err == nil && stored == nil {
		// Released between the insert and the lookup.
		err = ErrIdempotencyInProgress
	}
	return stored, false, err
}

// CompleteIdempotency stores the response for a claimed key. Only the pending
// claim is updated, so a finished response is never overwritten.
func (s *Store) CompleteIdempotency(ctx context.Context, key, requestHash string, status int, body []byte) error {
	if status == statusPending {
		return fmt.Errorf("journal: invalid response status %d", status)
	}
	const stmt = `UPDATE idempotency_keys SET response_status = ?, response_body = ? WHERE idempotency_key = ? AND request_hash = ? AND response_status = ?`
	res, err := s.db.ExecContext(ctx, stmt, status, body, key, requestHash, statusPending)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("journal: no pending claim for idempotency key %q", key)
	}
	return nil
}

// ReleaseIdempotency drops a pending claim so the request can be retried.
func (s *Store) ReleaseIdempotency(ctx context.Context, key, requestHash string) error {
	const stmt = `DELETE FROM idempotency_keys WHERE idempotency_key = ? AND request_hash = ? AND response_status = ?`
	_, err := s.db.ExecContext(ctx, stmt, key, requestHash, statusPending)
	return err
}
