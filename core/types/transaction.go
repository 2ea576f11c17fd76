package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeStartEscrow       TxType = 0x01 // Open a new escrow
	TxTypeBuyerDeposit      TxType = 0x02 // Buyer places the down payment
	TxTypeBuyerBankDeposit  TxType = 0x03 // Buyer's bank places the mortgage funds
	TxTypeBuyerApproved     TxType = 0x04 // Buyer signs off on the purchase
	TxTypeMortgageWithdrawn TxType = 0x05 // Mortgage funds move to the seller's bank
	TxTypeTransferTitle     TxType = 0x06 // Title moves to the buyer, seller is paid
	TxTypeSetupDemo         TxType = 0x07 // Seed demo participants and an escrow
)

var txTypeNames = map[TxType]string{
	TxTypeStartEscrow:       "startEscrow",
	TxTypeBuyerDeposit:      "buyerDeposit",
	TxTypeBuyerBankDeposit:  "buyerBankDeposit",
	TxTypeBuyerApproved:     "buyerApproved",
	TxTypeMortgageWithdrawn: "mortgageWithdrawn",
	TxTypeTransferTitle:     "transferTitle",
	TxTypeSetupDemo:         "setupDemo",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", byte(t))
}

// Known reports whether the type maps to a transaction handler.
func (t TxType) Known() bool {
	_, ok := txTypeNames[t]
	return ok
}

// ParseTxType accepts either the handler name ("buyerDeposit") or a numeric
// code ("2", "0x02").
func ParseTxType(value string) (TxType, error) {
	trimmed := strings.TrimSpace(value)
	for typ, name := range txTypeNames {
		if strings.EqualFold(name, trimmed) {
			return typ, nil
		}
	}
	code, err := strconv.ParseUint(trimmed, 0, 8)
	if err == nil && TxType(code).Known() {
		return TxType(code), nil
	}
	return 0, fmt.Errorf("unknown transaction type %q", value)
}

func (t TxType) MarshalText() ([]byte, error) {
	if !t.Known() {
		return nil, fmt.Errorf("unknown transaction type 0x%02x", byte(t))
	}
	return []byte(t.String()), nil
}

func (t *TxType) UnmarshalText(text []byte) error {
	parsed, err := ParseTxType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Transaction is the envelope submitted to the ledger. Data carries the JSON
// payload matching Type.
type Transaction struct {
	Type  TxType          `json:"type"`
	Nonce uint64          `json:"nonce"`
	Data  json.RawMessage `json:"data"`
}

// NewTransaction encodes payload as the transaction data.
func NewTransaction(typ TxType, nonce uint64, payload interface{}) (*Transaction, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Transaction{Type: typ, Nonce: nonce, Data: data}, nil
}

// Hash returns the hex encoded sha256 digest of the canonical transaction
// encoding. Insignificant whitespace in Data does not change the hash.
func (tx *Transaction) Hash() (string, error) {
	data := tx.Data
	if len(data) > 0 {
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, data); err != nil {
			return "", err
		}
		data = compacted.Bytes()
	}
	txData := struct {
		Type  TxType          `json:"type"`
		Nonce uint64          `json:"nonce"`
		Data  json.RawMessage `json:"data,omitempty"`
	}{tx.Type, tx.Nonce, data}

	b, err := json.Marshal(txData)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(b)
	return hex.EncodeToString(hash[:]), nil
}

// DecodeData unmarshals the payload into out, rejecting unknown fields.
func (tx *Transaction) DecodeData(out interface{}) error {
	if len(bytes.TrimSpace(tx.Data)) == 0 {
		return fmt.Errorf("transaction %s: empty data", tx.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(tx.Data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// StartEscrowData opens an escrow over existing title and participant records.
type StartEscrowData struct {
	EscrowID   string `json:"escrowID"`
	Title      string `json:"title"`
	Buyer      string `json:"buyer"`
	Seller     string `json:"seller"`
	BuyerBank  string `json:"buyerBank"`
	SellerBank string `json:"sellerBank"`
}

// EscrowAmountData references an escrow and carries an amount. Used by the
// deposit and withdrawal transactions.
type EscrowAmountData struct {
	EscrowID string          `json:"escrowID"`
	Amount   decimal.Decimal `json:"amount"`
}

// Amounts outside these bounds are rejected before they reach the ledger.
// Unbounded exponents would otherwise be expanded into huge integers when
// balances are rescaled.
const (
	MinAmountExponent = -18
	MaxAmountExponent = 30
	MaxAmountDigits   = 40
)

var maxAmountCoefficient = new(big.Int).Sub(new(big.Int).Exp(big.NewInt(10), big.NewInt(MaxAmountDigits), nil), big.NewInt(1))

// CheckRange reports an amount whose exponent or digit count is out of bounds.
func (d EscrowAmountData) CheckRange() error {
	if exp := d.Amount.Exponent(); exp < MinAmountExponent || exp > MaxAmountExponent {
		return fmt.Errorf("amount exponent %d outside [%d, %d]", exp, MinAmountExponent, MaxAmountExponent)
	}
	if d.Amount.Coefficient().CmpAbs(maxAmountCoefficient) > 0 {
		return fmt.Errorf("amount exceeds %d digits", MaxAmountDigits)
	}
	return nil
}

// EscrowRefData references an escrow.
type EscrowRefData struct {
	EscrowID string `json:"escrowID"`
}

// SetupDemoData names the identifier shared by every demo record.
type SetupDemoData struct {
	Number string `json:"number"`
}
