package state

import (
	"escrowchain/native/escrow"
	"escrowchain/storage"
)

// Manager exposes the ledger's record registries on top of a key-value
// database. Writes made through the Manager's own registries go straight to the
// database; transactional work should go through Begin.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Database returns the underlying store.
func (m *Manager) Database() storage.Database { return m.db }

// Begin opens a journaled view of the state. Reads observe the committed
// state plus the view's own writes; nothing reaches the database until Commit.
func (m *Manager) Begin() *Tx {
	return newTx(m.db)
}

func (m *Manager) Escrows() escrow.Registry[*escrow.Escrow] { return newEscrowRegistry(m.db) }

func (m *Manager) Titles() escrow.Registry[*escrow.Title] { return newTitleRegistry(m.db) }

func (m *Manager) Participants(kind escrow.RecordKind) escrow.Registry[*escrow.Participant] {
	return newParticipantRegistry(m.db, kind)
}
