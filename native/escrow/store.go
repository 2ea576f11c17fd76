package escrow

// Registry persists records of one kind keyed by identifier.
type Registry[T any] interface {
	// Add stores a new record and fails if the identifier is taken.
	Add(T) error
	// Update overwrites an existing record and fails if it is absent.
	Update(T) error
	Get(id string) (T, error)
}

// Store hands out the registries for every record kind. All registries
// returned by one Store must observe the same snapshot of the ledger.
type Store interface {
	Escrows() Registry[*Escrow]
	Titles() Registry[*Title]
	Participants(kind RecordKind) Registry[*Participant]
}
