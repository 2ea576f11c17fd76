package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	coreerrors "escrowchain/core/errors"
	"escrowchain/core/events"
	ledgerstate "escrowchain/core/state"
	"escrowchain/core/types"
	"escrowchain/native/escrow"
	"escrowchain/observability"
)

// Receipt describes a committed transaction. WriteRoot is the trie root over
// the records the transaction wrote. Sequence is assigned by the receipt sink
// and stays zero when none is configured.
type Receipt struct {
	Hash      string        `json:"hash"`
	Type      types.TxType  `json:"type"`
	EscrowID  string        `json:"escrowID,omitempty"`
	WriteRoot string        `json:"writeRoot"`
	Sequence  int64         `json:"sequence,omitempty"`
	Events    []types.Event `json:"events"`
}

// ReceiptSink records committed receipts in commit order.
type ReceiptSink interface {
	RecordReceipt(ctx context.Context, receipt *Receipt) (int64, error)
}

// StateProcessor applies transactions to the ledger one at a time. Each
// transaction runs against a journaled view of the state and is committed as a
// single batch only if its handler succeeds; events are published after the
// commit.
type StateProcessor struct {
	mu            sync.Mutex
	state         *ledgerstate.Manager
	emitter       events.Emitter
	metrics       *observability.EscrowMetrics
	logger        *slog.Logger
	tracer        trace.Tracer
	factory       *escrow.Factory
	sink          ReceiptSink
	strictAmounts bool
	nowFn         func() time.Time
}

// Option customises a StateProcessor.
type Option func(*StateProcessor)

// WithEmitter publishes committed events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(sp *StateProcessor) { sp.emitter = emitter }
}

func WithMetrics(metrics *observability.EscrowMetrics) Option {
	return func(sp *StateProcessor) { sp.metrics = metrics }
}

func WithLogger(logger *slog.Logger) Option {
	return func(sp *StateProcessor) { sp.logger = logger }
}

// WithFactory overrides the record factory handed to the escrow engine.
func WithFactory(factory *escrow.Factory) Option {
	return func(sp *StateProcessor) { sp.factory = factory }
}

// WithReceiptSink journals every committed receipt. Sink failures are logged
// and do not undo the commit.
func WithReceiptSink(sink ReceiptSink) Option {
	return func(sp *StateProcessor) { sp.sink = sink }
}

// WithStrictAmounts rejects zero and negative amounts.
func WithStrictAmounts(strict bool) Option {
	return func(sp *StateProcessor) { sp.strictAmounts = strict }
}

func NewStateProcessor(mgr *ledgerstate.Manager, opts ...Option) *StateProcessor {
	sp := &StateProcessor{
		state:   mgr,
		emitter: events.NoopEmitter{},
		factory: escrow.NewFactory(),
		tracer:  otel.Tracer("escrowchain/core"),
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sp)
		}
	}
	if sp.emitter == nil {
		sp.emitter = events.NoopEmitter{}
	}
	if sp.logger == nil {
		sp.logger = slog.Default()
	}
	return sp
}

// State returns the committed state manager.
func (sp *StateProcessor) State() *ledgerstate.Manager { return sp.state }

// ApplyTransaction validates, executes and commits tx. On any error the ledger
// is left exactly as it was and no events are published.
func (sp *StateProcessor) ApplyTransaction(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", coreerrors.ErrMalformedPayload)
	}
	if !tx.Type.Known() {
		return nil, fmt.Errorf("%w: 0x%02x", coreerrors.ErrUnknownTxType, byte(tx.Type))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrMalformedPayload, err)
	}
	payload, err := decodePayload(tx)
	if err != nil {
		return nil, err
	}

	ctx, span := sp.tracer.Start(ctx, "ledger.ApplyTransaction", trace.WithAttributes(
		attribute.String("tx.type", tx.Type.String()),
		attribute.String("tx.hash", hash),
	))
	defer span.End()

	sp.mu.Lock()
	defer sp.mu.Unlock()

	start := sp.nowFn()
	receipt, writes, err := sp.apply(ctx, tx, hash, payload)
	elapsed := sp.nowFn().Sub(start)
	if err != nil {
		outcome := observability.OutcomeFailed
		if errors.Is(err, coreerrors.ErrInvalidTransaction) {
			outcome = observability.OutcomeRejected
		}
		sp.metrics.ObserveTransaction(tx.Type.String(), outcome, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		sp.logger.Warn("transaction aborted",
			slog.String("type", tx.Type.String()),
			slog.String("hash", hash),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()))
		return nil, err
	}

	sp.metrics.ObserveTransaction(tx.Type.String(), observability.OutcomeCommitted, elapsed)
	sp.metrics.RecordWrites(writes)
	for _, evt := range receipt.Events {
		sp.metrics.RecordEvent(evt.Type)
	}
	span.SetAttributes(attribute.Int("tx.writes", writes))
	if sp.sink != nil {
		seq, err := sp.sink.RecordReceipt(context.WithoutCancel(ctx), receipt)
		if err != nil {
			span.RecordError(err)
			sp.logger.Error("journal receipt failed",
				slog.String("hash", hash),
				slog.String("error", err.Error()))
		} else {
			receipt.Sequence = seq
		}
	}
	sp.logger.Info("transaction committed",
		slog.String("type", tx.Type.String()),
		slog.String("hash", hash),
		slog.String("escrow", receipt.EscrowID),
		slog.Int("writes", writes),
		slog.Duration("elapsed", elapsed))
	return receipt, nil
}

func (sp *StateProcessor) apply(ctx context.Context, tx *types.Transaction, hash string, payload interface{}) (*Receipt, int, error) {
	view := sp.state.Begin()
	defer view.Discard()

	recorder := events.NewRecorder()
	engine := escrow.NewEngine()
	engine.SetState(view)
	engine.SetEmitter(recorder)
	engine.SetFactory(sp.factory)
	engine.SetStrictAmounts(sp.strictAmounts)

	escrowID, err := dispatch(engine, payload)
	if err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	writes := view.Dirty()
	root, err := ComputeWriteRoot(view.Writes())
	if err != nil {
		return nil, 0, fmt.Errorf("write root %s: %w", tx.Type, err)
	}
	if err := view.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit %s: %w", tx.Type, err)
	}

	recorded := recorder.Events()
	rendered := make([]types.Event, 0, len(recorded))
	for _, evt := range recorded {
		rendered = append(rendered, events.Render(evt))
	}
	recorder.Flush(sp.emitter)

	return &Receipt{
		Hash:      hash,
		Type:      tx.Type,
		EscrowID:  escrowID,
		WriteRoot: hex.EncodeToString(root),
		Events:    rendered,
	}, writes, nil
}

// decodePayload decodes and bounds-checks the payload of tx. It runs before
// the processor lock is taken.
func decodePayload(tx *types.Transaction) (interface{}, error) {
	switch tx.Type {
	case types.TxTypeStartEscrow:
		var data types.StartEscrowData
		if err := decode(tx, &data); err != nil {
			return nil, err
		}
		return data, nil
	case types.TxTypeBuyerDeposit, types.TxTypeBuyerBankDeposit, types.TxTypeMortgageWithdrawn:
		var data types.EscrowAmountData
		if err := decode(tx, &data); err != nil {
			return nil, err
		}
		if err := data.CheckRange(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", coreerrors.ErrMalformedPayload, tx.Type, err)
		}
		return amountPayload{typ: tx.Type, data: data}, nil
	case types.TxTypeBuyerApproved, types.TxTypeTransferTitle:
		var data types.EscrowRefData
		if err := decode(tx, &data); err != nil {
			return nil, err
		}
		return refPayload{typ: tx.Type, data: data}, nil
	case types.TxTypeSetupDemo:
		var data types.SetupDemoData
		if err := decode(tx, &data); err != nil {
			return nil, err
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrUnknownTxType, tx.Type)
	}
}

type amountPayload struct {
	typ  types.TxType
	data types.EscrowAmountData
}

type refPayload struct {
	typ  types.TxType
	data types.EscrowRefData
}

// dispatch invokes the engine handler matching a decoded payload. It returns
// the identifier of the escrow the transaction touched.
func dispatch(engine *escrow.Engine, payload interface{}) (string, error) {
	switch p := payload.(type) {
	case types.StartEscrowData:
		esc, err := engine.StartEscrow(p.EscrowID, escrow.Parties{
			Title:      p.Title,
			Buyer:      p.Buyer,
			Seller:     p.Seller,
			BuyerBank:  p.BuyerBank,
			SellerBank: p.SellerBank,
		})
		if err != nil {
			return "", err
		}
		return esc.ID, nil
	case amountPayload:
		switch p.typ {
		case types.TxTypeBuyerDeposit:
			return p.data.EscrowID, engine.BuyerDeposit(p.data.EscrowID, p.data.Amount)
		case types.TxTypeBuyerBankDeposit:
			return p.data.EscrowID, engine.BuyerBankDeposit(p.data.EscrowID, p.data.Amount)
		default:
			return p.data.EscrowID, engine.MortgageWithdrawn(p.data.EscrowID, p.data.Amount)
		}
	case refPayload:
		if p.typ == types.TxTypeBuyerApproved {
			return p.data.EscrowID, engine.BuyerApproved(p.data.EscrowID)
		}
		return p.data.EscrowID, engine.TransferTitle(p.data.EscrowID)
	case types.SetupDemoData:
		esc, err := engine.SetupDemo(p.Number)
		if err != nil {
			return "", err
		}
		return esc.ID, nil
	default:
		return "", fmt.Errorf("%w: %T", coreerrors.ErrUnknownTxType, payload)
	}
}

func decode(tx *types.Transaction, out interface{}) error {
	if err := tx.DecodeData(out); err != nil {
		return fmt.Errorf("%w: %s: %v", coreerrors.ErrMalformedPayload, tx.Type, err)
	}
	return nil
}
