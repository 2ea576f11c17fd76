package config

import (
	"fmt"
	"os"
	"path/filepath"

	"escrowchain/journal"
	"escrowchain/storage"
)

// OpenDatabase opens the store selected by the configuration.
func (c *Config) OpenDatabase() (storage.Database, error) {
	switch c.Backend {
	case BackendMemory:
		return storage.NewMemDB(), nil
	case BackendLevelDB:
		db, err := storage.NewLevelDB(filepath.Join(c.DataDir, "ledger"))
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("config: unsupported backend %q", c.Backend)
	}
}

// OpenJournal opens the receipt journal next to the ledger. It returns nil
// when the journal is disabled. The memory backend gets a private in-memory
// journal.
func (c *Config) OpenJournal() (*journal.Store, error) {
	if !c.Journal {
		return nil, nil
	}
	path := journal.MemoryPath
	if c.Backend == BackendLevelDB {
		if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		path = filepath.Join(c.DataDir, "journal.db")
	}
	store, err := journal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return store, nil
}
