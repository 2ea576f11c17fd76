package escrow

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"escrowchain/core/events"
	coreerrors "escrowchain/core/errors"
)

// Operation names reported in InvalidTransactionError.
const (
	OpStartEscrow       = "startEscrow"
	OpBuyerDeposit      = "buyerDeposit"
	OpBuyerBankDeposit  = "buyerBankDeposit"
	OpBuyerApproved     = "buyerApproved"
	OpMortgageWithdrawn = "mortgageWithdrawn"
	OpTransferTitle     = "transferTitle"
)

var errNilState = errors.New("escrow engine: state not configured")

// Engine applies the escrow lifecycle transitions to a Store. Every handler
// checks the escrow's status and loads all related records before writing
// anything, so a rejected transaction leaves the store untouched. Atomicity
// across the writes of an accepted transaction is the caller's concern.
type Engine struct {
	state         Store
	emitter       events.Emitter
	factory       *Factory
	strictAmounts bool
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		factory: NewFactory(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state Store) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetFactory overrides the record factory. Passing nil restores the default.
func (e *Engine) SetFactory(factory *Factory) {
	if factory == nil {
		factory = NewFactory()
	}
	e.factory = factory
}

// SetStrictAmounts makes amount-bearing handlers reject zero and negative
// amounts with ErrInvalidAmount. It is off by default.
func (e *Engine) SetStrictAmounts(strict bool) { e.strictAmounts = strict }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) checkAmount(op string, amount decimal.Decimal) error {
	if e != nil && e.strictAmounts && !amount.IsPositive() {
		return fmt.Errorf("%s: %w: got %s", op, coreerrors.ErrInvalidAmount, amount)
	}
	return nil
}

func (e *Engine) loadEscrow(id string) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, err := e.state.Escrows().Get(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

func (e *Engine) loadParticipant(ref ParticipantRef) (*Participant, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	p, err := e.state.Participants(ref.Kind).Get(ref.ID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// StartEscrow opens a new escrow over an existing title and four existing
// participants and emits StartEscrowEvent.
func (e *Engine) StartEscrow(id string, parties Parties) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc := e.factory.NewEscrow(id, parties)
	if err := esc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", OpStartEscrow, err)
	}
	if _, err := e.state.Titles().Get(esc.Title); err != nil {
		return nil, fmt.Errorf("%s: %w", OpStartEscrow, err)
	}
	for _, ref := range []ParticipantRef{esc.BuyerRef(), esc.SellerRef(), esc.BuyerBankRef(), esc.SellerBankRef()} {
		if _, err := e.loadParticipant(ref); err != nil {
			return nil, fmt.Errorf("%s: %w", OpStartEscrow, err)
		}
	}
	if err := e.state.Escrows().Add(esc); err != nil {
		return nil, fmt.Errorf("%s: %w", OpStartEscrow, err)
	}
	e.emit(events.StartEscrowEvent{EscrowID: esc.ID})
	return esc.Clone(), nil
}

// BuyerDeposit records the buyer's down payment and debits the buyer.
func (e *Engine) BuyerDeposit(id string, amount decimal.Decimal) error {
	if err := e.checkAmount(OpBuyerDeposit, amount); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := requireStatus(OpBuyerDeposit, esc, StatusStarted); err != nil {
		return err
	}
	buyer, err := e.loadParticipant(esc.BuyerRef())
	if err != nil {
		return err
	}

	esc.Status = StatusBuyerDeposited
	esc.BuyerDeposit = amount
	buyer.Balance = buyer.Balance.Sub(amount)

	if err := e.state.Escrows().Update(esc); err != nil {
		return err
	}
	if err := e.state.Participants(KindBuyer).Update(buyer); err != nil {
		return err
	}
	e.emit(events.BuyerDeposited{EscrowID: esc.ID, Buyer: buyer.ID, Amount: amount})
	return nil
}

// BuyerBankDeposit records the mortgage funds placed by the buyer's bank and
// debits the bank.
func (e *Engine) BuyerBankDeposit(id string, amount decimal.Decimal) error {
	if err := e.checkAmount(OpBuyerBankDeposit, amount); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := requireStatus(OpBuyerBankDeposit, esc, StatusBuyerDeposited); err != nil {
		return err
	}
	bank, err := e.loadParticipant(esc.BuyerBankRef())
	if err != nil {
		return err
	}

	esc.Status = StatusBuyerBankDeposited
	esc.BuyerBankDeposit = amount
	bank.Balance = bank.Balance.Sub(amount)

	if err := e.state.Escrows().Update(esc); err != nil {
		return err
	}
	if err := e.state.Participants(KindBuyerBank).Update(bank); err != nil {
		return err
	}
	e.emit(events.BuyerBankDeposited{EscrowID: esc.ID, BuyerBank: bank.ID, Amount: amount})
	return nil
}

// BuyerApproved marks the purchase as approved by the buyer.
func (e *Engine) BuyerApproved(id string) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := requireStatus(OpBuyerApproved, esc, StatusBuyerBankDeposited); err != nil {
		return err
	}

	esc.Status = StatusBuyerApproved
	esc.BuyerApproved = true

	if err := e.state.Escrows().Update(esc); err != nil {
		return err
	}
	e.emit(events.BuyerApproved{EscrowID: esc.ID, Buyer: esc.Buyer})
	return nil
}

// MortgageWithdrawn moves amount out of the bank-held deposit and credits the
// seller's bank. The deposit is not floored at zero: withdrawing more than was
// deposited leaves a negative BuyerBankDeposit.
func (e *Engine) MortgageWithdrawn(id string, amount decimal.Decimal) error {
	if err := e.checkAmount(OpMortgageWithdrawn, amount); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := requireStatus(OpMortgageWithdrawn, esc, StatusBuyerApproved); err != nil {
		return err
	}
	sellerBank, err := e.loadParticipant(esc.SellerBankRef())
	if err != nil {
		return err
	}

	esc.Status = StatusMortgageWithdrawn
	esc.BuyerBankWithdrawn = true
	esc.BuyerBankDeposit = esc.BuyerBankDeposit.Sub(amount)
	sellerBank.Balance = sellerBank.Balance.Add(amount)

	if err := e.state.Escrows().Update(esc); err != nil {
		return err
	}
	if err := e.state.Participants(KindSellerBank).Update(sellerBank); err != nil {
		return err
	}
	e.emit(events.MortgageWithdrawn{
		EscrowID:   esc.ID,
		SellerBank: sellerBank.ID,
		Amount:     amount,
		Remaining:  esc.BuyerBankDeposit,
	})
	return nil
}

// TransferTitle hands the title to the buyer, pays out whatever is still held
// in escrow to the seller and closes the escrow.
func (e *Engine) TransferTitle(id string) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := requireStatus(OpTransferTitle, esc, StatusMortgageWithdrawn); err != nil {
		return err
	}
	title, err := e.state.Titles().Get(esc.Title)
	if err != nil {
		return err
	}
	title = title.Clone()
	seller, err := e.loadParticipant(esc.SellerRef())
	if err != nil {
		return err
	}

	payout := esc.Held()
	title.Owner = esc.BuyerRef()
	esc.Status = StatusDelivered
	esc.BuyerDeposit = decimal.Zero
	esc.BuyerBankDeposit = decimal.Zero
	seller.Balance = seller.Balance.Add(payout)

	if err := e.state.Titles().Update(title); err != nil {
		return err
	}
	if err := e.state.Escrows().Update(esc); err != nil {
		return err
	}
	if err := e.state.Participants(KindSeller).Update(seller); err != nil {
		return err
	}
	e.emit(events.TitleTransferred{
		EscrowID: esc.ID,
		Title:    title.ID,
		Seller:   seller.ID,
		Buyer:    esc.Buyer,
		Payout:   payout,
	})
	return nil
}
