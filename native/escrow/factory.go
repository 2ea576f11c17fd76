package escrow

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Factory builds new ledger records. Empty identifiers are replaced with a
// freshly generated one.
type Factory struct {
	newID func() string
}

// NewFactory returns a factory generating random UUIDs.
func NewFactory() *Factory {
	return &Factory{newID: func() string { return uuid.NewString() }}
}

// NewFactoryWithIDs returns a factory drawing identifiers from next. It is
// intended for deterministic tests.
func NewFactoryWithIDs(next func() string) *Factory {
	if next == nil {
		return NewFactory()
	}
	return &Factory{newID: next}
}

func (f *Factory) id(supplied string) string {
	if trimmed := strings.TrimSpace(supplied); trimmed != "" {
		return trimmed
	}
	if f == nil || f.newID == nil {
		return uuid.NewString()
	}
	return f.newID()
}

// Parties names the title and participants an escrow is opened over.
type Parties struct {
	Title      string
	Buyer      string
	Seller     string
	BuyerBank  string
	SellerBank string
}

// NewEscrow returns an escrow in the STARTED state with zero deposits.
func (f *Factory) NewEscrow(id string, parties Parties) *Escrow {
	return &Escrow{
		ID:                 f.id(id),
		Status:             StatusStarted,
		Title:              strings.TrimSpace(parties.Title),
		Buyer:              strings.TrimSpace(parties.Buyer),
		Seller:             strings.TrimSpace(parties.Seller),
		BuyerBank:          strings.TrimSpace(parties.BuyerBank),
		SellerBank:         strings.TrimSpace(parties.SellerBank),
		BuyerDeposit:       decimal.Zero,
		BuyerBankDeposit:   decimal.Zero,
		BuyerApproved:      false,
		BuyerBankWithdrawn: false,
	}
}

func (f *Factory) NewTitle(id string, owner ParticipantRef) *Title {
	return &Title{ID: f.id(id), Owner: owner}
}

func (f *Factory) NewParticipant(kind RecordKind, id, name string, balance decimal.Decimal) *Participant {
	return &Participant{Kind: kind, ID: f.id(id), Name: strings.TrimSpace(name), Balance: balance}
}
