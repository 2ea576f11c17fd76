package core

import (
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	ledgerstate "escrowchain/core/state"
)

// ComputeWriteRoot builds a Merkle Patricia trie over the records written by a
// transaction and returns its root hash. The root depends only on the final
// key/value pairs, so two transactions that leave identical records behind
// share a root. An empty write set yields the empty trie root.
func ComputeWriteRoot(writes []ledgerstate.Write) ([]byte, error) {
	backend := memorydb.New()
	db := rawdb.NewDatabase(backend)
	trieDB := triedb.NewDatabase(db, triedb.HashDefaults)
	trie, err := gethtrie.New(gethtrie.TrieID(gethtypes.EmptyRootHash), trieDB)
	if err != nil {
		return nil, err
	}
	for _, w := range writes {
		if err := trie.Update(w.Key, w.Value); err != nil {
			return nil, err
		}
	}
	hash := trie.Hash()
	return hash.Bytes(), nil
}
