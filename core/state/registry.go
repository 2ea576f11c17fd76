package state

import (
	"errors"
	"fmt"

	coreerrors "escrowchain/core/errors"
	"escrowchain/native/escrow"
	"escrowchain/storage"
)

// kvStore is the subset of storage used by registries. Both the committed
// database and an open Tx satisfy it.
type kvStore interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
}

type recordCodec[T any] struct {
	id       func(T) string
	validate func(T) error
	encode   func(T) ([]byte, error)
	decode   func([]byte) (T, error)
}

// Registry persists records of a single kind keyed by their identifier.
type Registry[T any] struct {
	kind  escrow.RecordKind
	store kvStore
	codec recordCodec[T]
}

var (
	_ escrow.Registry[*escrow.Escrow]      = (*Registry[*escrow.Escrow])(nil)
	_ escrow.Registry[*escrow.Title]       = (*Registry[*escrow.Title])(nil)
	_ escrow.Registry[*escrow.Participant] = (*Registry[*escrow.Participant])(nil)
)

// Kind returns the record kind served by the registry.
func (r *Registry[T]) Kind() escrow.RecordKind { return r.kind }

// Get loads the record stored under id.
func (r *Registry[T]) Get(id string) (T, error) {
	var zero T
	data, err := r.store.Get(recordKey(r.kind, id))
	if errors.Is(err, storage.ErrNotFound) {
		return zero, fmt.Errorf("%w: %s %q", coreerrors.ErrRecordNotFound, r.kind, id)
	}
	if err != nil {
		return zero, fmt.Errorf("%s %q: %w", r.kind, id, err)
	}
	rec, err := r.codec.decode(data)
	if err != nil {
		return zero, fmt.Errorf("%s %q: %w", r.kind, id, err)
	}
	return rec, nil
}

// Has reports whether a record with the identifier exists.
func (r *Registry[T]) Has(id string) (bool, error) {
	ok, err := r.store.Has(recordKey(r.kind, id))
	if err != nil {
		return false, fmt.Errorf("%s %q: %w", r.kind, id, err)
	}
	return ok, nil
}

// Add stores a new record. Adding an identifier that is already present fails
// with ErrRecordExists.
func (r *Registry[T]) Add(rec T) error {
	if err := r.codec.validate(rec); err != nil {
		return err
	}
	id := r.codec.id(rec)
	exists, err := r.Has(id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s %q", coreerrors.ErrRecordExists, r.kind, id)
	}
	return r.put(id, rec)
}

// Update overwrites an existing record. Updating an unknown identifier fails
// with ErrRecordNotFound.
func (r *Registry[T]) Update(rec T) error {
	if err := r.codec.validate(rec); err != nil {
		return err
	}
	id := r.codec.id(rec)
	exists, err := r.Has(id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s %q", coreerrors.ErrRecordNotFound, r.kind, id)
	}
	return r.put(id, rec)
}

func (r *Registry[T]) put(id string, rec T) error {
	encoded, err := r.codec.encode(rec)
	if err != nil {
		return fmt.Errorf("%s %q: %w", r.kind, id, err)
	}
	return r.store.Put(recordKey(r.kind, id), encoded)
}

func newEscrowRegistry(store kvStore) *Registry[*escrow.Escrow] {
	return &Registry[*escrow.Escrow]{
		kind:  escrow.KindEscrow,
		store: store,
		codec: recordCodec[*escrow.Escrow]{
			id:       func(e *escrow.Escrow) string { return e.ID },
			validate: func(e *escrow.Escrow) error { return e.Validate() },
			encode:   encodeEscrow,
			decode:   decodeEscrow,
		},
	}
}

func newTitleRegistry(store kvStore) *Registry[*escrow.Title] {
	return &Registry[*escrow.Title]{
		kind:  escrow.KindTitle,
		store: store,
		codec: recordCodec[*escrow.Title]{
			id:       func(t *escrow.Title) string { return t.ID },
			validate: func(t *escrow.Title) error { return t.Validate() },
			encode:   encodeTitle,
			decode:   decodeTitle,
		},
	}
}

func newParticipantRegistry(store kvStore, kind escrow.RecordKind) *Registry[*escrow.Participant] {
	return &Registry[*escrow.Participant]{
		kind:  kind,
		store: store,
		codec: recordCodec[*escrow.Participant]{
			id: func(p *escrow.Participant) string { return p.ID },
			validate: func(p *escrow.Participant) error {
				if err := p.Validate(); err != nil {
					return err
				}
				if p.Kind != kind {
					return fmt.Errorf("%w: %s record stored in %s registry", coreerrors.ErrInvalidRecord, p.Kind, kind)
				}
				return nil
			},
			encode: encodeParticipant,
			decode: decodeParticipant,
		},
	}
}
