package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	coreerrors "escrowchain/core/errors"
	"escrowchain/core/events"
	ledgerstate "escrowchain/core/state"
	"escrowchain/core/types"
	"escrowchain/native/escrow"
	"escrowchain/observability"
	"escrowchain/storage"
)

type testLedger struct {
	db        *storage.MemDB
	state     *ledgerstate.Manager
	processor *StateProcessor
	published *events.Recorder
	metrics   *observability.EscrowMetrics
}

func newTestLedger(t *testing.T, opts ...Option) *testLedger {
	t.Helper()
	db := storage.NewMemDB()
	mgr := ledgerstate.NewManager(db)
	published := events.NewRecorder()
	metrics := observability.NewEscrowMetrics(prometheus.NewRegistry())
	opts = append([]Option{WithEmitter(published), WithMetrics(metrics)}, opts...)
	return &testLedger{
		db:        db,
		state:     mgr,
		processor: NewStateProcessor(mgr, opts...),
		published: published,
		metrics:   metrics,
	}
}

func (l *testLedger) apply(t *testing.T, typ types.TxType, payload interface{}) (*Receipt, error) {
	t.Helper()
	tx, err := types.NewTransaction(typ, 0, payload)
	require.NoError(t, err)
	return l.processor.ApplyTransaction(context.Background(), tx)
}

func (l *testLedger) mustApply(t *testing.T, typ types.TxType, payload interface{}) *Receipt {
	t.Helper()
	receipt, err := l.apply(t, typ, payload)
	require.NoError(t, err, typ.String())
	return receipt
}

func (l *testLedger) balance(t *testing.T, kind escrow.RecordKind, id string) decimal.Decimal {
	t.Helper()
	p, err := l.state.Participants(kind).Get(id)
	require.NoError(t, err)
	return p.Balance
}

// snapshot captures every record the demo scenario touches.
func (l *testLedger) snapshot(t *testing.T, id string) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	if esc, err := l.state.Escrows().Get(id); err == nil {
		out["escrow"] = esc
	}
	if title, err := l.state.Titles().Get(id); err == nil {
		out["title"] = title
	}
	for _, kind := range escrow.ParticipantKinds() {
		if p, err := l.state.Participants(kind).Get(id); err == nil {
			out[kind.String()] = p
		}
	}
	return out
}

func amountData(id, value string) types.EscrowAmountData {
	return types.EscrowAmountData{EscrowID: id, Amount: decimal.RequireFromString(value)}
}

func TestDemoPurchaseScenario(t *testing.T) {
	l := newTestLedger(t)
	receipt := l.mustApply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "1"})
	require.Equal(t, "1", receipt.EscrowID)
	require.Len(t, receipt.Events, 1)
	require.Equal(t, events.TypeDemoSeeded, receipt.Events[0].Type)

	l.mustApply(t, types.TxTypeBuyerDeposit, amountData("1", "20000"))
	l.mustApply(t, types.TxTypeBuyerBankDeposit, amountData("1", "380000"))
	l.mustApply(t, types.TxTypeBuyerApproved, types.EscrowRefData{EscrowID: "1"})
	l.mustApply(t, types.TxTypeMortgageWithdrawn, amountData("1", "380000"))
	final := l.mustApply(t, types.TxTypeTransferTitle, types.EscrowRefData{EscrowID: "1"})
	require.Equal(t, events.TypeEscrowTitleTransferred, final.Events[0].Type)
	require.Equal(t, "20000", final.Events[0].Attributes["payout"])

	esc, err := l.state.Escrows().Get("1")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusDelivered, esc.Status)
	title, err := l.state.Titles().Get("1")
	require.NoError(t, err)
	require.Equal(t, escrow.ParticipantRef{Kind: escrow.KindBuyer, ID: "1"}, title.Owner)

	// The seller side gains 400000 in total: 20000 to the seller and 380000 to
	// the seller's bank.
	require.True(t, l.balance(t, escrow.KindBuyer, "1").Equal(decimal.RequireFromString("80000")))
	require.True(t, l.balance(t, escrow.KindSeller, "1").Equal(decimal.RequireFromString("120000")))
	require.True(t, l.balance(t, escrow.KindBuyerBank, "1").Equal(decimal.RequireFromString("99620000")))
	require.True(t, l.balance(t, escrow.KindSellerBank, "1").Equal(decimal.RequireFromString("10380000")))

	require.Len(t, l.published.Events(), 6)
	require.Equal(t, 1.0, testutil.ToFloat64(l.metrics.Transactions().WithLabelValues("transferTitle", observability.OutcomeCommitted)))
	require.Equal(t, 1.0, testutil.ToFloat64(l.metrics.Events().WithLabelValues(events.TypeEscrowBuyerApproved)))
}

func TestRejectedTransactionLeavesStateUntouched(t *testing.T) {
	l := newTestLedger(t)
	l.mustApply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "1"})
	l.published.Reset()
	before := l.snapshot(t, "1")
	keys := l.db.Len()

	_, err := l.apply(t, types.TxTypeBuyerApproved, types.EscrowRefData{EscrowID: "1"})
	require.ErrorIs(t, err, coreerrors.ErrInvalidTransaction)

	require.Equal(t, before, l.snapshot(t, "1"))
	require.Equal(t, keys, l.db.Len())
	require.Empty(t, l.published.Events())
	require.Equal(t, 1.0, testutil.ToFloat64(l.metrics.Transactions().WithLabelValues("buyerApproved", observability.OutcomeRejected)))
}

func TestPartialWritesAreRolledBack(t *testing.T) {
	l := newTestLedger(t)
	// A pre-existing title makes SetupDemo fail after it has already written
	// the four participants.
	require.NoError(t, l.state.Titles().Add(&escrow.Title{
		ID:    "9",
		Owner: escrow.ParticipantRef{Kind: escrow.KindSeller, ID: "elsewhere"},
	}))
	keys := l.db.Len()

	_, err := l.apply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "9"})
	require.ErrorIs(t, err, coreerrors.ErrRecordExists)

	require.Equal(t, keys, l.db.Len())
	for _, kind := range escrow.ParticipantKinds() {
		_, err := l.state.Participants(kind).Get("9")
		require.ErrorIs(t, err, coreerrors.ErrRecordNotFound, kind.String())
	}
	require.Empty(t, l.published.Events())
	require.Equal(t, 1.0, testutil.ToFloat64(l.metrics.Transactions().WithLabelValues("setupDemo", observability.OutcomeFailed)))
}

func TestApplyTransactionInputErrors(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.processor.ApplyTransaction(context.Background(), nil)
	require.ErrorIs(t, err, coreerrors.ErrMalformedPayload)

	_, err = l.processor.ApplyTransaction(context.Background(), &types.Transaction{Type: types.TxType(0x42)})
	require.ErrorIs(t, err, coreerrors.ErrUnknownTxType)

	_, err = l.processor.ApplyTransaction(context.Background(), &types.Transaction{Type: types.TxTypeBuyerApproved})
	require.ErrorIs(t, err, coreerrors.ErrMalformedPayload)

	_, err = l.apply(t, types.TxTypeBuyerDeposit, map[string]interface{}{"escrowID": "1", "amount": "1", "memo": "x"})
	require.ErrorIs(t, err, coreerrors.ErrMalformedPayload)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tx, err := types.NewTransaction(types.TxTypeSetupDemo, 0, types.SetupDemoData{Number: "1"})
	require.NoError(t, err)
	_, err = l.processor.ApplyTransaction(ctx, tx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, l.db.Len())
}

func TestAmountsOutOfRangeAreMalformed(t *testing.T) {
	l := newTestLedger(t)
	l.mustApply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "1"})
	before := l.snapshot(t, "1")

	cases := map[string]string{
		"huge exponent":      `"1e5000000"`,
		"bare huge exponent": `1e20000000`,
		"exponent above 30":  `"-1e31"`,
		"too many decimals":  `"1e-19"`,
		"too many digits":    `"10000000000000000000000000000000000000000"`,
	}
	for name, amount := range cases {
		t.Run(name, func(t *testing.T) {
			tx := &types.Transaction{
				Type: types.TxTypeBuyerDeposit,
				Data: json.RawMessage(`{"escrowID":"1","amount":` + amount + `}`),
			}
			_, err := l.processor.ApplyTransaction(context.Background(), tx)
			require.ErrorIs(t, err, coreerrors.ErrMalformedPayload)
			require.Equal(t, before, l.snapshot(t, "1"))
		})
	}

	l.mustApply(t, types.TxTypeBuyerDeposit, amountData("1", "9999999999999999999999.000000000000000001"))
	l.mustApply(t, types.TxTypeBuyerBankDeposit, amountData("1", "1e30"))
}

func TestStrictAmountsOption(t *testing.T) {
	l := newTestLedger(t, WithStrictAmounts(true))
	l.mustApply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "1"})

	_, err := l.apply(t, types.TxTypeBuyerDeposit, amountData("1", "-1"))
	require.ErrorIs(t, err, coreerrors.ErrInvalidAmount)
	require.True(t, l.balance(t, escrow.KindBuyer, "1").Equal(escrow.DemoBuyerBalance))
}

func TestStartEscrowUsesFactory(t *testing.T) {
	l := newTestLedger(t, WithFactory(escrow.NewFactoryWithIDs(func() string { return "fixed" })))
	l.mustApply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "1"})

	receipt := l.mustApply(t, types.TxTypeStartEscrow, types.StartEscrowData{
		Title: "1", Buyer: "1", Seller: "1", BuyerBank: "1", SellerBank: "1",
	})
	require.Equal(t, "fixed", receipt.EscrowID)
	require.Equal(t, events.TypeEscrowStarted, receipt.Events[0].Type)

	_, err := l.apply(t, types.TxTypeStartEscrow, types.StartEscrowData{
		EscrowID: "x", Title: "missing", Buyer: "1", Seller: "1", BuyerBank: "1", SellerBank: "1",
	})
	require.ErrorIs(t, err, coreerrors.ErrRecordNotFound)
}

func TestWriteRootIsDeterministic(t *testing.T) {
	first := newTestLedger(t).mustApply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "1"})
	second := newTestLedger(t).mustApply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "1"})
	other := newTestLedger(t).mustApply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "2"})

	require.Len(t, first.WriteRoot, 64)
	require.Equal(t, first.WriteRoot, second.WriteRoot)
	require.NotEqual(t, first.WriteRoot, other.WriteRoot)
}

func TestComputeWriteRootEmpty(t *testing.T) {
	root, err := ComputeWriteRoot(nil)
	require.NoError(t, err)
	require.Len(t, root, 32)
}

func TestConcurrentDepositsApplyOnce(t *testing.T) {
	l := newTestLedger(t)
	l.mustApply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "1"})

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(nonce uint64) {
			defer wg.Done()
			tx, err := types.NewTransaction(types.TxTypeBuyerDeposit, nonce, amountData("1", "1000"))
			if err != nil {
				return
			}
			_, err = l.processor.ApplyTransaction(context.Background(), tx)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, coreerrors.ErrInvalidTransaction) {
				rejected++
			}
		}(uint64(i))
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, workers-1, rejected)
	require.True(t, l.balance(t, escrow.KindBuyer, "1").Equal(decimal.RequireFromString("99000")))
}

type recordingSink struct {
	mu       sync.Mutex
	receipts []*Receipt
	fail     error
}

func (s *recordingSink) RecordReceipt(_ context.Context, receipt *Receipt) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	s.receipts = append(s.receipts, receipt)
	return int64(len(s.receipts)), nil
}

func TestReceiptSinkSeesCommittedTransactionsOnly(t *testing.T) {
	sink := &recordingSink{}
	l := newTestLedger(t, WithReceiptSink(sink))
	first := l.mustApply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "1"})
	require.Equal(t, int64(1), first.Sequence)

	_, err := l.apply(t, types.TxTypeBuyerApproved, types.EscrowRefData{EscrowID: "1"})
	require.Error(t, err)

	second := l.mustApply(t, types.TxTypeBuyerDeposit, amountData("1", "20000"))
	require.Equal(t, int64(2), second.Sequence)
	require.Len(t, sink.receipts, 2)
	require.Equal(t, types.TxTypeBuyerDeposit, sink.receipts[1].Type)
}

func TestReceiptSinkFailureKeepsCommit(t *testing.T) {
	sink := &recordingSink{fail: errors.New("disk full")}
	l := newTestLedger(t, WithReceiptSink(sink))
	receipt := l.mustApply(t, types.TxTypeSetupDemo, types.SetupDemoData{Number: "1"})
	require.Zero(t, receipt.Sequence)

	_, err := l.state.Escrows().Get("1")
	require.NoError(t, err)
}
