package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowchain/native/escrow"
)

var recordPrefix = []byte("record:")

// recordKey hashes "record:<kind>:<id>" so every kind lives in its own
// namespace and keys have a fixed length.
func recordKey(kind escrow.RecordKind, id string) []byte {
	name := kind.String()
	buf := make([]byte, 0, len(recordPrefix)+len(name)+1+len(id))
	buf = append(buf, recordPrefix...)
	buf = append(buf, name...)
	buf = append(buf, ':')
	buf = append(buf, id...)
	return ethcrypto.Keccak256(buf)
}
