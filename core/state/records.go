package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/shopspring/decimal"

	"escrowchain/native/escrow"
)

// RLP cannot encode signed integers, so amounts are stored as their canonical
// decimal strings.

type storedEscrow struct {
	ID                 string
	Status             uint8
	Title              string
	Buyer              string
	Seller             string
	BuyerBank          string
	SellerBank         string
	BuyerDeposit       string
	BuyerBankDeposit   string
	BuyerApproved      bool
	BuyerBankWithdrawn bool
}

type storedTitle struct {
	ID        string
	OwnerKind uint8
	OwnerID   string
}

type storedParticipant struct {
	Kind    uint8
	ID      string
	Name    string
	Balance string
}

func parseAmount(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode %s: %w", field, err)
	}
	return amount, nil
}

func encodeEscrow(e *escrow.Escrow) ([]byte, error) {
	return rlp.EncodeToBytes(&storedEscrow{
		ID:                 e.ID,
		Status:             uint8(e.Status),
		Title:              e.Title,
		Buyer:              e.Buyer,
		Seller:             e.Seller,
		BuyerBank:          e.BuyerBank,
		SellerBank:         e.SellerBank,
		BuyerDeposit:       e.BuyerDeposit.String(),
		BuyerBankDeposit:   e.BuyerBankDeposit.String(),
		BuyerApproved:      e.BuyerApproved,
		BuyerBankWithdrawn: e.BuyerBankWithdrawn,
	})
}

func decodeEscrow(data []byte) (*escrow.Escrow, error) {
	var stored storedEscrow
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	buyerDeposit, err := parseAmount("buyer deposit", stored.BuyerDeposit)
	if err != nil {
		return nil, err
	}
	bankDeposit, err := parseAmount("buyer bank deposit", stored.BuyerBankDeposit)
	if err != nil {
		return nil, err
	}
	return &escrow.Escrow{
		ID:                 stored.ID,
		Status:             escrow.Status(stored.Status),
		Title:              stored.Title,
		Buyer:              stored.Buyer,
		Seller:             stored.Seller,
		BuyerBank:          stored.BuyerBank,
		SellerBank:         stored.SellerBank,
		BuyerDeposit:       buyerDeposit,
		BuyerBankDeposit:   bankDeposit,
		BuyerApproved:      stored.BuyerApproved,
		BuyerBankWithdrawn: stored.BuyerBankWithdrawn,
	}, nil
}

func encodeTitle(t *escrow.Title) ([]byte, error) {
	return rlp.EncodeToBytes(&storedTitle{
		ID:        t.ID,
		OwnerKind: uint8(t.Owner.Kind),
		OwnerID:   t.Owner.ID,
	})
}

func decodeTitle(data []byte) (*escrow.Title, error) {
	var stored storedTitle
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	return &escrow.Title{
		ID:    stored.ID,
		Owner: escrow.ParticipantRef{Kind: escrow.RecordKind(stored.OwnerKind), ID: stored.OwnerID},
	}, nil
}

func encodeParticipant(p *escrow.Participant) ([]byte, error) {
	return rlp.EncodeToBytes(&storedParticipant{
		Kind:    uint8(p.Kind),
		ID:      p.ID,
		Name:    p.Name,
		Balance: p.Balance.String(),
	})
}

func decodeParticipant(data []byte) (*escrow.Participant, error) {
	var stored storedParticipant
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	balance, err := parseAmount("balance", stored.Balance)
	if err != nil {
		return nil, err
	}
	return &escrow.Participant{
		Kind:    escrow.RecordKind(stored.Kind),
		ID:      stored.ID,
		Name:    stored.Name,
		Balance: balance,
	}, nil
}
