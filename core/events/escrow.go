package events

import (
	"github.com/shopspring/decimal"

	"escrowchain/core/types"
)

const (
	TypeEscrowStarted            = "escrow.started"
	TypeEscrowBuyerDeposited     = "escrow.buyer_deposited"
	TypeEscrowBuyerBankDeposited = "escrow.buyer_bank_deposited"
	TypeEscrowBuyerApproved      = "escrow.buyer_approved"
	TypeEscrowMortgageWithdrawn  = "escrow.mortgage_withdrawn"
	TypeEscrowTitleTransferred   = "escrow.title_transferred"
	TypeDemoSeeded               = "escrow.demo_seeded"
)

// StartEscrowEvent is published once a new escrow has been persisted.
type StartEscrowEvent struct {
	EscrowID string
}

func (StartEscrowEvent) EventType() string { return TypeEscrowStarted }

func (e StartEscrowEvent) Event() *types.Event {
	return &types.Event{
		Type:       TypeEscrowStarted,
		Attributes: map[string]string{"escrowID": e.EscrowID},
	}
}

type BuyerDeposited struct {
	EscrowID string
	Buyer    string
	Amount   decimal.Decimal
}

func (BuyerDeposited) EventType() string { return TypeEscrowBuyerDeposited }

func (e BuyerDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowBuyerDeposited,
		Attributes: map[string]string{
			"escrowID": e.EscrowID,
			"buyer":    e.Buyer,
			"amount":   formatAmount(e.Amount),
		},
	}
}

type BuyerBankDeposited struct {
	EscrowID  string
	BuyerBank string
	Amount    decimal.Decimal
}

func (BuyerBankDeposited) EventType() string { return TypeEscrowBuyerBankDeposited }

func (e BuyerBankDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowBuyerBankDeposited,
		Attributes: map[string]string{
			"escrowID":  e.EscrowID,
			"buyerBank": e.BuyerBank,
			"amount":    formatAmount(e.Amount),
		},
	}
}

type BuyerApproved struct {
	EscrowID string
	Buyer    string
}

func (BuyerApproved) EventType() string { return TypeEscrowBuyerApproved }

func (e BuyerApproved) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowBuyerApproved,
		Attributes: map[string]string{
			"escrowID": e.EscrowID,
			"buyer":    e.Buyer,
		},
	}
}

// MortgageWithdrawn records the lender's funds leaving escrow for the seller's
// bank. Remaining is the escrow's buyer bank deposit after the withdrawal.
type MortgageWithdrawn struct {
	EscrowID   string
	SellerBank string
	Amount     decimal.Decimal
	Remaining  decimal.Decimal
}

func (MortgageWithdrawn) EventType() string { return TypeEscrowMortgageWithdrawn }

func (e MortgageWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowMortgageWithdrawn,
		Attributes: map[string]string{
			"escrowID":   e.EscrowID,
			"sellerBank": e.SellerBank,
			"amount":     formatAmount(e.Amount),
			"remaining":  formatAmount(e.Remaining),
		},
	}
}

type TitleTransferred struct {
	EscrowID string
	Title    string
	Seller   string
	Buyer    string
	Payout   decimal.Decimal
}

func (TitleTransferred) EventType() string { return TypeEscrowTitleTransferred }

func (e TitleTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowTitleTransferred,
		Attributes: map[string]string{
			"escrowID": e.EscrowID,
			"title":    e.Title,
			"seller":   e.Seller,
			"buyer":    e.Buyer,
			"payout":   formatAmount(e.Payout),
		},
	}
}

type DemoSeeded struct {
	Number string
}

func (DemoSeeded) EventType() string { return TypeDemoSeeded }

func (e DemoSeeded) Event() *types.Event {
	return &types.Event{
		Type:       TypeDemoSeeded,
		Attributes: map[string]string{"number": e.Number},
	}
}
