package escrow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"escrowchain/core/events"
)

// Opening balances used by SetupDemo.
var (
	DemoBuyerBalance      = decimal.RequireFromString("100000.00")
	DemoSellerBalance     = decimal.RequireFromString("100000.00")
	DemoSellerBankBalance = decimal.RequireFromString("10000000.00")
	DemoBuyerBankBalance  = decimal.RequireFromString("100000000.00")
)

// Demo participant names.
const (
	DemoBuyerName      = "Alice"
	DemoSellerName     = "Bob"
	DemoBuyerBankName  = "Citi"
	DemoSellerBankName = "BAML"
)

// SetupDemo seeds a buyer, seller, both banks, a title owned by the seller and
// a STARTED escrow tying them together. Every record shares the identifier
// number.
func (e *Engine) SetupDemo(number string) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	id := strings.TrimSpace(number)
	if id == "" {
		return nil, fmt.Errorf("setupDemo: number must not be empty")
	}
	buyer := e.factory.NewParticipant(KindBuyer, id, DemoBuyerName, DemoBuyerBalance)
	seller := e.factory.NewParticipant(KindSeller, id, DemoSellerName, DemoSellerBalance)
	sellerBank := e.factory.NewParticipant(KindSellerBank, id, DemoSellerBankName, DemoSellerBankBalance)
	buyerBank := e.factory.NewParticipant(KindBuyerBank, id, DemoBuyerBankName, DemoBuyerBankBalance)
	title := e.factory.NewTitle(id, seller.Ref())
	esc := e.factory.NewEscrow(id, Parties{
		Title:      title.ID,
		Buyer:      buyer.ID,
		Seller:     seller.ID,
		BuyerBank:  buyerBank.ID,
		SellerBank: sellerBank.ID,
	})

	for _, p := range []*Participant{buyer, seller, buyerBank, sellerBank} {
		if err := e.state.Participants(p.Kind).Add(p); err != nil {
			return nil, fmt.Errorf("setupDemo: %w", err)
		}
	}
	if err := e.state.Titles().Add(title); err != nil {
		return nil, fmt.Errorf("setupDemo: %w", err)
	}
	if err := e.state.Escrows().Add(esc); err != nil {
		return nil, fmt.Errorf("setupDemo: %w", err)
	}
	e.emit(events.DemoSeeded{Number: id})
	return esc.Clone(), nil
}
