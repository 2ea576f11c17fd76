package state

import (
	"errors"

	"escrowchain/native/escrow"
	"escrowchain/storage"
)

var errTxClosed = errors.New("state: transaction already closed")

// Tx buffers writes on top of a database snapshot and applies them as a single
// batch on Commit. A Tx is not safe for concurrent use.
type Tx struct {
	base    storage.Database
	pending map[string][]byte
	order   []string
	closed  bool
}

func newTx(base storage.Database) *Tx {
	return &Tx{base: base, pending: make(map[string][]byte)}
}

// Get returns the value written in this transaction, falling back to the
// committed database.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, errTxClosed
	}
	if value, ok := tx.pending[string(key)]; ok {
		return append([]byte(nil), value...), nil
	}
	return tx.base.Get(key)
}

// Has reports whether key is written in this transaction or committed.
func (tx *Tx) Has(key []byte) (bool, error) {
	if tx.closed {
		return false, errTxClosed
	}
	if _, ok := tx.pending[string(key)]; ok {
		return true, nil
	}
	return tx.base.Has(key)
}

// Put records a write. The write is only visible to this transaction until
// Commit.
func (tx *Tx) Put(key []byte, value []byte) error {
	if tx.closed {
		return errTxClosed
	}
	k := string(key)
	if _, ok := tx.pending[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.pending[k] = append([]byte(nil), value...)
	return nil
}

// Dirty reports the number of distinct keys written.
func (tx *Tx) Dirty() int { return len(tx.order) }

// Write is a single pending key/value pair.
type Write struct {
	Key   []byte
	Value []byte
}

// Writes returns the pending writes in first-write order.
func (tx *Tx) Writes() []Write {
	out := make([]Write, 0, len(tx.order))
	for _, k := range tx.order {
		out = append(out, Write{Key: []byte(k), Value: append([]byte(nil), tx.pending[k]...)})
	}
	return out
}

// Commit writes every pending key in one atomic batch.
func (tx *Tx) Commit() error {
	if tx.closed {
		return errTxClosed
	}
	tx.closed = true
	if len(tx.order) == 0 {
		return nil
	}
	batch := tx.base.NewBatch()
	for _, k := range tx.order {
		batch.Put([]byte(k), tx.pending[k])
	}
	return batch.Write()
}

// Discard drops all pending writes. It is safe to call after Commit.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.pending = nil
	tx.order = nil
}

func (tx *Tx) Escrows() escrow.Registry[*escrow.Escrow] { return newEscrowRegistry(tx) }

func (tx *Tx) Titles() escrow.Registry[*escrow.Title] { return newTitleRegistry(tx) }

func (tx *Tx) Participants(kind escrow.RecordKind) escrow.Registry[*escrow.Participant] {
	return newParticipantRegistry(tx, kind)
}
