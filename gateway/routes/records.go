package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	coreerrors "escrowchain/core/errors"
	"escrowchain/journal"
	"escrowchain/native/escrow"
)

const maxHistoryLimit = 1000

type recordRoutes struct {
	store   escrow.Store
	journal *journal.Store
}

func (rr *recordRoutes) mount(r chi.Router) {
	r.Get("/v1/escrows/{id}", rr.getEscrow)
	r.Get("/v1/escrows/{id}/history", rr.getHistory)
	r.Get("/v1/titles/{id}", rr.getTitle)
	r.Get("/v1/participants/{kind}/{id}", rr.getParticipant)
}

func (rr *recordRoutes) getEscrow(w http.ResponseWriter, r *http.Request) {
	esc, err := rr.store.Escrows().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (rr *recordRoutes) getTitle(w http.ResponseWriter, r *http.Request) {
	title, err := rr.store.Titles().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, title)
}

func (rr *recordRoutes) getParticipant(w http.ResponseWriter, r *http.Request) {
	kind, err := escrow.ParseRecordKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if !kind.IsParticipant() {
		writeBadRequest(w, fmt.Errorf("%w: %s is not a participant kind", coreerrors.ErrInvalidRecord, kind))
		return
	}
	participant, err := rr.store.Participants(kind).Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

// getHistory lists the journaled receipts of one escrow in commit order.
func (rr *recordRoutes) getHistory(w http.ResponseWriter, r *http.Request) {
	if rr.journal == nil {
		writeJSONError(w, http.StatusNotImplemented, errors.New("receipt journal disabled"))
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := rr.store.Escrows().Get(id); err != nil {
		writeJSONError(w, statusForError(err), err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > maxHistoryLimit {
			writeBadRequest(w, fmt.Errorf("limit must be between 0 and %d", maxHistoryLimit))
			return
		}
		limit = parsed
	}
	entries, err := rr.journal.History(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, fmt.Errorf("load history: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"escrowID": id,
		"entries":  entries,
	})
}
