package routes

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	coreerrors "escrowchain/core/errors"
	"escrowchain/core/types"
	"escrowchain/journal"
)

const transactionsRequestLimit = 1 << 20 // 1 MiB

const (
	headerIdempotencyKey    = "Idempotency-Key"
	headerIdempotentReplay  = "Idempotent-Replay"
	maxIdempotencyKeyLength = 128
)

// transactionsRoutes hands submitted transactions to the ledger and reports
// the committed receipt.
type transactionsRoutes struct {
	ledger  Ledger
	journal *journal.Store
	timeout time.Duration
	logger  *slog.Logger
}

func (tr *transactionsRoutes) mount(r chi.Router) {
	r.Post("/", tr.submit)
}

func (tr *transactionsRoutes) submit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, transactionsRequestLimit+1))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("read request body: %w", err))
		return
	}
	if len(body) > transactionsRequestLimit {
		writeJSONError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeBadRequest(w, errors.New("request body is empty"))
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if len(idemKey) > maxIdempotencyKeyLength {
		writeBadRequest(w, fmt.Errorf("%s exceeds %d characters", headerIdempotencyKey, maxIdempotencyKeyLength))
		return
	}
	useIdempotency := idemKey != "" && tr.journal != nil
	var requestHash string
	if useIdempotency {
		sum := sha256.Sum256(body)
		requestHash = hex.EncodeToString(sum[:])
		stored, claimed, err := tr.journal.ClaimIdempotency(r.Context(), idemKey, requestHash)
		switch {
		case errors.Is(err, journal.ErrIdempotencyMismatch):
			writeJSONError(w, http.StatusUnprocessableEntity, err)
			return
		case errors.Is(err, journal.ErrIdempotencyInProgress):
			writeJSONError(w, http.StatusConflict, err)
			return
		case err != nil:
			writeInternalError(w, fmt.Errorf("idempotency claim: %w", err))
			return
		case !claimed:
			w.Header().Set(headerIdempotentReplay, "true")
			writeRaw(w, stored.Status, stored.Body)
			return
		}
	}

	status, payload := tr.apply(r.Context(), body)
	if useIdempotency {
		// The claim outlives a disconnected client.
		ctx := context.WithoutCancel(r.Context())
		if status < http.StatusInternalServerError {
			if err := tr.journal.CompleteIdempotency(ctx, idemKey, requestHash, status, payload); err != nil {
				tr.logger.Warn("persist idempotency key failed", slog.String("error", err.Error()))
			}
		} else if err := tr.journal.ReleaseIdempotency(ctx, idemKey, requestHash); err != nil {
			tr.logger.Warn("release idempotency key failed", slog.String("error", err.Error()))
		}
	}
	writeRaw(w, status, payload)
}

// apply decodes and applies one transaction and returns the encoded response.
func (tr *transactionsRoutes) apply(parent context.Context, body []byte) (int, []byte) {
	var tx types.Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return http.StatusBadRequest, errorBody(http.StatusBadRequest, fmt.Errorf("decode transaction: %w", err))
	}

	ctx, cancel := context.WithTimeout(parent, tr.timeout)
	defer cancel()

	receipt, err := tr.ledger.ApplyTransaction(ctx, &tx)
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			tr.logger.Error("apply transaction failed",
				slog.String("type", tx.Type.String()),
				slog.String("error", err.Error()))
		}
		return status, errorBody(status, err)
	}
	encoded, err := json.Marshal(receipt)
	if err != nil {
		return http.StatusInternalServerError, errorBody(http.StatusInternalServerError, fmt.Errorf("marshal response: %w", err))
	}
	return http.StatusOK, encoded
}

// statusForError maps ledger errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, coreerrors.ErrInvalidTransaction),
		errors.Is(err, coreerrors.ErrRecordExists):
		return http.StatusConflict
	case errors.Is(err, coreerrors.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, coreerrors.ErrMalformedPayload),
		errors.Is(err, coreerrors.ErrUnknownTxType),
		errors.Is(err, coreerrors.ErrInvalidAmount),
		errors.Is(err, coreerrors.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
