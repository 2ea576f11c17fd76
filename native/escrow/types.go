package escrow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	coreerrors "escrowchain/core/errors"
)

// Status represents a step of the escrow lifecycle. Statuses only ever move
// forward one step at a time; StatusDelivered is terminal.
type Status uint8

const (
	StatusUnspecified Status = iota
	StatusStarted
	StatusBuyerDeposited
	StatusBuyerBankDeposited
	StatusBuyerApproved
	StatusMortgageWithdrawn
	StatusDelivered
)

var statusNames = map[Status]string{
	StatusUnspecified:        "UNSPECIFIED",
	StatusStarted:            "STARTED",
	StatusBuyerDeposited:     "BUYER_DEPOSITED",
	StatusBuyerBankDeposited: "BUYER_BANK_DEPOSITED",
	StatusBuyerApproved:      "BUYER_APPROVED",
	StatusMortgageWithdrawn:  "MORTGAGE_WITHDRAWN",
	StatusDelivered:          "DELIVERED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether the status is one of the lifecycle states.
func (s Status) Valid() bool {
	return s >= StatusStarted && s <= StatusDelivered
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusDelivered }

// Next returns the status that immediately follows s.
func (s Status) Next() (Status, bool) {
	if !s.Valid() || s.Terminal() {
		return StatusUnspecified, false
	}
	return s + 1, true
}

// ParseStatus converts the canonical upper-case name back into a Status.
func ParseStatus(name string) (Status, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	for status, candidate := range statusNames {
		if candidate == normalized && status.Valid() {
			return status, nil
		}
	}
	return StatusUnspecified, fmt.Errorf("escrow: unknown status %q", name)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RecordKind enumerates every record type held on the ledger.
type RecordKind uint8

const (
	KindEscrow RecordKind = iota + 1
	KindTitle
	KindBuyer
	KindSeller
	KindBuyerBank
	KindSellerBank
)

var kindNames = map[RecordKind]string{
	KindEscrow:     "escrow",
	KindTitle:      "title",
	KindBuyer:      "buyer",
	KindSeller:     "seller",
	KindBuyerBank:  "buyerbank",
	KindSellerBank: "sellerbank",
}

func (k RecordKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("RecordKind(%d)", uint8(k))
}

// IsParticipant reports whether records of this kind hold a balance.
func (k RecordKind) IsParticipant() bool {
	switch k {
	case KindBuyer, KindSeller, KindBuyerBank, KindSellerBank:
		return true
	default:
		return false
	}
}

// ParticipantKinds lists the balance-holding record kinds in a stable order.
func ParticipantKinds() []RecordKind {
	return []RecordKind{KindBuyer, KindSeller, KindBuyerBank, KindSellerBank}
}

// ParseRecordKind accepts the lower-case kind name, ignoring case, dashes and
// underscores ("buyer-bank" and "BuyerBank" both resolve to KindBuyerBank).
func ParseRecordKind(name string) (RecordKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer("-", "", "_", "").Replace(normalized)
	for kind, candidate := range kindNames {
		if candidate == normalized {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("escrow: unknown record kind %q", name)
}

func (k RecordKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *RecordKind) UnmarshalText(text []byte) error {
	parsed, err := ParseRecordKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParticipantRef addresses a single balance-holding record.
type ParticipantRef struct {
	Kind RecordKind `json:"kind"`
	ID   string     `json:"id"`
}

func (r ParticipantRef) String() string { return r.Kind.String() + "/" + r.ID }

// Validate ensures the reference names a participant kind and a non-empty id.
func (r ParticipantRef) Validate() error {
	if !r.Kind.IsParticipant() {
		return fmt.Errorf("%w: %s is not a participant kind", coreerrors.ErrInvalidRecord, r.Kind)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: empty %s id", coreerrors.ErrInvalidRecord, r.Kind)
	}
	return nil
}

// Escrow tracks a single real-estate purchase from the first deposit through to
// delivery of the title. Party and title references are fixed at creation.
type Escrow struct {
	ID                 string          `json:"id"`
	Status             Status          `json:"status"`
	Title              string          `json:"title"`
	Buyer              string          `json:"buyer"`
	Seller             string          `json:"seller"`
	BuyerBank          string          `json:"buyerBank"`
	SellerBank         string          `json:"sellerBank"`
	BuyerDeposit       decimal.Decimal `json:"buyerDeposit"`
	BuyerBankDeposit   decimal.Decimal `json:"buyerBankDeposit"`
	BuyerApproved      bool            `json:"buyerApproved"`
	BuyerBankWithdrawn bool            `json:"buyerBankWithdrawn"`
}

// Clone returns a copy of the escrow that callers may mutate freely.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// BuyerRef returns the participant reference of the escrow's buyer.
func (e *Escrow) BuyerRef() ParticipantRef { return ParticipantRef{Kind: KindBuyer, ID: e.Buyer} }

// SellerRef returns the participant reference of the escrow's seller.
func (e *Escrow) SellerRef() ParticipantRef { return ParticipantRef{Kind: KindSeller, ID: e.Seller} }

// BuyerBankRef returns the participant reference of the buyer's lender.
func (e *Escrow) BuyerBankRef() ParticipantRef {
	return ParticipantRef{Kind: KindBuyerBank, ID: e.BuyerBank}
}

// SellerBankRef returns the participant reference of the seller's bank.
func (e *Escrow) SellerBankRef() ParticipantRef {
	return ParticipantRef{Kind: KindSellerBank, ID: e.SellerBank}
}

// Held returns the funds currently sitting in escrow.
func (e *Escrow) Held() decimal.Decimal { return e.BuyerDeposit.Add(e.BuyerBankDeposit) }

// Validate checks the structural invariants of a stored escrow.
func (e *Escrow) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil escrow", coreerrors.ErrInvalidRecord)
	}
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: empty escrow id", coreerrors.ErrInvalidRecord)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: escrow %s has status %s", coreerrors.ErrInvalidRecord, e.ID, e.Status)
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: escrow %s has no title", coreerrors.ErrInvalidRecord, e.ID)
	}
	for _, ref := range []ParticipantRef{e.BuyerRef(), e.SellerRef(), e.BuyerBankRef(), e.SellerBankRef()} {
		if err := ref.Validate(); err != nil {
			return fmt.Errorf("escrow %s: %w", e.ID, err)
		}
	}
	return nil
}

// Title represents ownership of the property being sold.
type Title struct {
	ID    string         `json:"id"`
	Owner ParticipantRef `json:"owner"`
}

func (t *Title) Clone() *Title {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Validate ensures the title is owned by a buyer or a seller.
func (t *Title) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil title", coreerrors.ErrInvalidRecord)
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: empty title id", coreerrors.ErrInvalidRecord)
	}
	if t.Owner.Kind != KindBuyer && t.Owner.Kind != KindSeller {
		return fmt.Errorf("%w: title %s owned by %s", coreerrors.ErrInvalidRecord, t.ID, t.Owner.Kind)
	}
	return t.Owner.Validate()
}

// Participant is a buyer, seller or one of their banks. Bank balances act as
// counterparty positions and may go negative.
type Participant struct {
	Kind    RecordKind      `json:"kind"`
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Ref returns the reference that addresses this participant.
func (p *Participant) Ref() ParticipantRef { return ParticipantRef{Kind: p.Kind, ID: p.ID} }

func (p *Participant) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil participant", coreerrors.ErrInvalidRecord)
	}
	return p.Ref().Validate()
}
