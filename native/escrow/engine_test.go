package escrow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"escrowchain/core/events"
	coreerrors "escrowchain/core/errors"
)

type mockRegistry[T any] struct {
	records map[string]T
	id      func(T) string
	clone   func(T) T
	writes  int
}

func newMockRegistry[T any](id func(T) string, clone func(T) T) *mockRegistry[T] {
	return &mockRegistry[T]{records: make(map[string]T), id: id, clone: clone}
}

func (m *mockRegistry[T]) Add(rec T) error {
	key := m.id(rec)
	if _, ok := m.records[key]; ok {
		return fmt.Errorf("%w: %s", coreerrors.ErrRecordExists, key)
	}
	m.records[key] = m.clone(rec)
	m.writes++
	return nil
}

func (m *mockRegistry[T]) Update(rec T) error {
	key := m.id(rec)
	if _, ok := m.records[key]; !ok {
		return fmt.Errorf("%w: %s", coreerrors.ErrRecordNotFound, key)
	}
	m.records[key] = m.clone(rec)
	m.writes++
	return nil
}

func (m *mockRegistry[T]) Get(id string) (T, error) {
	rec, ok := m.records[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", coreerrors.ErrRecordNotFound, id)
	}
	return m.clone(rec), nil
}

type mockState struct {
	escrows      *mockRegistry[*Escrow]
	titles       *mockRegistry[*Title]
	participants map[RecordKind]*mockRegistry[*Participant]
}

func newMockState() *mockState {
	st := &mockState{
		escrows:      newMockRegistry(func(e *Escrow) string { return e.ID }, (*Escrow).Clone),
		titles:       newMockRegistry(func(t *Title) string { return t.ID }, (*Title).Clone),
		participants: make(map[RecordKind]*mockRegistry[*Participant]),
	}
	for _, kind := range ParticipantKinds() {
		st.participants[kind] = newMockRegistry(func(p *Participant) string { return p.ID }, (*Participant).Clone)
	}
	return st
}

func (m *mockState) Escrows() Registry[*Escrow] { return m.escrows }
func (m *mockState) Titles() Registry[*Title]   { return m.titles }
func (m *mockState) Participants(kind RecordKind) Registry[*Participant] {
	return m.participants[kind]
}

func (m *mockState) writes() int {
	total := m.escrows.writes + m.titles.writes
	for _, reg := range m.participants {
		total += reg.writes
	}
	return total
}

func (m *mockState) escrow(t *testing.T, id string) *Escrow {
	t.Helper()
	esc, err := m.escrows.Get(id)
	require.NoError(t, err)
	return esc
}

func (m *mockState) balance(t *testing.T, kind RecordKind, id string) decimal.Decimal {
	t.Helper()
	p, err := m.participants[kind].Get(id)
	require.NoError(t, err)
	return p.Balance
}

// total sums every participant balance plus the funds held by every escrow.
func (m *mockState) total() decimal.Decimal {
	sum := decimal.Zero
	for _, reg := range m.participants {
		for _, p := range reg.records {
			sum = sum.Add(p.Balance)
		}
	}
	for _, esc := range m.escrows.records {
		sum = sum.Add(esc.Held())
	}
	return sum
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *events.Recorder) {
	t.Helper()
	st := newMockState()
	rec := events.NewRecorder()
	engine := NewEngine()
	engine.SetState(st)
	engine.SetEmitter(rec)
	return engine, st, rec
}

func seededEngine(t *testing.T, number string) (*Engine, *mockState, *events.Recorder) {
	t.Helper()
	engine, st, rec := newTestEngine(t)
	_, err := engine.SetupDemo(number)
	require.NoError(t, err)
	rec.Reset()
	return engine, st, rec
}

func amount(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func eventTypes(rec *events.Recorder) []string {
	out := make([]string, 0)
	for _, evt := range rec.Events() {
		out = append(out, evt.EventType())
	}
	return out
}

func TestSetupDemoSeedsRecords(t *testing.T) {
	engine, st, rec := newTestEngine(t)

	esc, err := engine.SetupDemo("1")
	require.NoError(t, err)
	require.Equal(t, "1", esc.ID)
	require.Equal(t, StatusStarted, esc.Status)
	require.True(t, esc.BuyerDeposit.IsZero())
	require.True(t, esc.BuyerBankDeposit.IsZero())

	require.True(t, st.balance(t, KindBuyer, "1").Equal(amount("100000")))
	require.True(t, st.balance(t, KindSeller, "1").Equal(amount("100000")))
	require.True(t, st.balance(t, KindSellerBank, "1").Equal(amount("10000000")))
	require.True(t, st.balance(t, KindBuyerBank, "1").Equal(amount("100000000")))

	buyer, err := st.participants[KindBuyer].Get("1")
	require.NoError(t, err)
	require.Equal(t, DemoBuyerName, buyer.Name)

	title, err := st.titles.Get("1")
	require.NoError(t, err)
	require.Equal(t, ParticipantRef{Kind: KindSeller, ID: "1"}, title.Owner)

	require.Equal(t, []string{events.TypeDemoSeeded}, eventTypes(rec))

	_, err = engine.SetupDemo("1")
	require.ErrorIs(t, err, coreerrors.ErrRecordExists)
	_, err = engine.SetupDemo("  ")
	require.Error(t, err)
}

func TestFullLifecycle(t *testing.T) {
	engine, st, rec := seededEngine(t, "1")
	before := st.total()

	require.NoError(t, engine.BuyerDeposit("1", amount("20000")))
	require.Equal(t, StatusBuyerDeposited, st.escrow(t, "1").Status)
	require.NoError(t, engine.BuyerBankDeposit("1", amount("380000")))
	require.Equal(t, StatusBuyerBankDeposited, st.escrow(t, "1").Status)
	require.NoError(t, engine.BuyerApproved("1"))
	require.True(t, st.escrow(t, "1").BuyerApproved)
	require.NoError(t, engine.MortgageWithdrawn("1", amount("380000")))
	esc := st.escrow(t, "1")
	require.True(t, esc.BuyerBankWithdrawn)
	require.True(t, esc.BuyerBankDeposit.IsZero())
	require.NoError(t, engine.TransferTitle("1"))

	esc = st.escrow(t, "1")
	require.Equal(t, StatusDelivered, esc.Status)
	require.True(t, esc.Held().IsZero())

	require.True(t, st.balance(t, KindBuyer, "1").Equal(amount("80000")))
	require.True(t, st.balance(t, KindBuyerBank, "1").Equal(amount("99620000")))
	require.True(t, st.balance(t, KindSellerBank, "1").Equal(amount("10380000")))
	require.True(t, st.balance(t, KindSeller, "1").Equal(amount("120000")))

	title, err := st.titles.Get("1")
	require.NoError(t, err)
	require.Equal(t, ParticipantRef{Kind: KindBuyer, ID: "1"}, title.Owner)

	require.True(t, before.Equal(st.total()), "value must be conserved: before %s after %s", before, st.total())
	require.Equal(t, []string{
		events.TypeEscrowBuyerDeposited,
		events.TypeEscrowBuyerBankDeposited,
		events.TypeEscrowBuyerApproved,
		events.TypeEscrowMortgageWithdrawn,
		events.TypeEscrowTitleTransferred,
	}, eventTypes(rec))

	transferred, ok := rec.Events()[4].(events.TitleTransferred)
	require.True(t, ok)
	require.True(t, transferred.Payout.Equal(amount("20000")))
}

func TestTransitionsRejectWrongStatus(t *testing.T) {
	steps := []struct {
		op  string
		run func(*Engine) error
	}{
		{OpBuyerDeposit, func(e *Engine) error { return e.BuyerDeposit("1", amount("10")) }},
		{OpBuyerBankDeposit, func(e *Engine) error { return e.BuyerBankDeposit("1", amount("10")) }},
		{OpBuyerApproved, func(e *Engine) error { return e.BuyerApproved("1") }},
		{OpMortgageWithdrawn, func(e *Engine) error { return e.MortgageWithdrawn("1", amount("10")) }},
		{OpTransferTitle, func(e *Engine) error { return e.TransferTitle("1") }},
	}

	// Advance through the lifecycle one step at a time. At every status, every
	// step other than the next one must be rejected without side effects.
	engine, st, rec := seededEngine(t, "1")
	for current := 0; current <= len(steps); current++ {
		for i, step := range steps {
			if i == current {
				continue
			}
			before := st.escrow(t, "1")
			writes := st.writes()
			rec.Reset()

			err := step.run(engine)
			require.ErrorIs(t, err, coreerrors.ErrInvalidTransaction, "%s at %s", step.op, before.Status)
			var invalid *InvalidTransactionError
			require.True(t, errors.As(err, &invalid))
			require.Equal(t, step.op, invalid.Op)
			require.Equal(t, before.Status, invalid.Actual)

			require.Equal(t, before, st.escrow(t, "1"))
			require.Equal(t, writes, st.writes())
			require.Empty(t, rec.Events())
		}
		if current < len(steps) {
			require.NoError(t, steps[current].run(engine))
		}
	}
	require.Equal(t, StatusDelivered, st.escrow(t, "1").Status)
}

func TestApproveBeforeDepositsRejected(t *testing.T) {
	engine, st, _ := seededEngine(t, "1")
	err := engine.BuyerApproved("1")
	require.ErrorIs(t, err, coreerrors.ErrInvalidTransaction)
	require.Equal(t, StatusStarted, st.escrow(t, "1").Status)
	require.False(t, st.escrow(t, "1").BuyerApproved)
}

func TestUnknownEscrow(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	require.ErrorIs(t, engine.BuyerDeposit("nope", amount("1")), coreerrors.ErrRecordNotFound)
	require.ErrorIs(t, engine.TransferTitle("nope"), coreerrors.ErrRecordNotFound)
}

func TestMortgageOverWithdrawalGoesNegative(t *testing.T) {
	engine, st, _ := seededEngine(t, "1")
	before := st.total()
	require.NoError(t, engine.BuyerDeposit("1", amount("20000")))
	require.NoError(t, engine.BuyerBankDeposit("1", amount("100")))
	require.NoError(t, engine.BuyerApproved("1"))
	require.NoError(t, engine.MortgageWithdrawn("1", amount("500")))

	esc := st.escrow(t, "1")
	require.True(t, esc.BuyerBankDeposit.Equal(amount("-400")), esc.BuyerBankDeposit.String())
	require.True(t, before.Equal(st.total()))

	require.NoError(t, engine.TransferTitle("1"))
	// Seller receives the buyer deposit net of the shortfall.
	require.True(t, st.balance(t, KindSeller, "1").Equal(amount("119600")))
	require.True(t, before.Equal(st.total()))
}

func TestStrictAmounts(t *testing.T) {
	lenient, _, _ := seededEngine(t, "1")
	require.NoError(t, lenient.BuyerDeposit("1", decimal.Zero), "zero amounts are accepted by default")

	engine, st, _ := seededEngine(t, "2")
	engine.SetStrictAmounts(true)
	for _, value := range []string{"0", "-5"} {
		err := engine.BuyerDeposit("2", amount(value))
		require.ErrorIs(t, err, coreerrors.ErrInvalidAmount)
	}
	require.Equal(t, StatusStarted, st.escrow(t, "2").Status)
	require.NoError(t, engine.BuyerDeposit("2", amount("1")))
}

func TestStartEscrow(t *testing.T) {
	engine, st, rec := seededEngine(t, "1")
	engine.SetFactory(NewFactoryWithIDs(func() string { return "generated" }))
	parties := Parties{Title: "1", Buyer: "1", Seller: "1", BuyerBank: "1", SellerBank: "1"}

	esc, err := engine.StartEscrow("", parties)
	require.NoError(t, err)
	require.Equal(t, "generated", esc.ID)
	require.Equal(t, StatusStarted, esc.Status)
	require.Equal(t, esc, st.escrow(t, "generated"))
	require.Equal(t, []string{events.TypeEscrowStarted}, eventTypes(rec))

	_, err = engine.StartEscrow("generated", parties)
	require.ErrorIs(t, err, coreerrors.ErrRecordExists)

	missing := parties
	missing.SellerBank = "ghost"
	writes := st.writes()
	_, err = engine.StartEscrow("other", missing)
	require.ErrorIs(t, err, coreerrors.ErrRecordNotFound)
	require.Equal(t, writes, st.writes())

	noTitle := parties
	noTitle.Title = ""
	_, err = engine.StartEscrow("other", noTitle)
	require.ErrorIs(t, err, coreerrors.ErrInvalidRecord)
}

func TestEngineWithoutState(t *testing.T) {
	engine := NewEngine()
	require.Error(t, engine.BuyerApproved("1"))
	_, err := engine.StartEscrow("1", Parties{})
	require.Error(t, err)
	_, err = engine.SetupDemo("1")
	require.Error(t, err)
}
