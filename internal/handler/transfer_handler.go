package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dtutila/midnight-dega-sub002/internal/domain"
	"github.com/dtutila/midnight-dega-sub002/internal/usecase/transfer"
	"github.com/dtutila/midnight-dega-sub002/internal/wallet"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type TransferHandler struct {
	transfers *transfer.Service
	session   wallet.Session
	logger    *zap.Logger
}

func NewTransferHandler(transfers *transfer.Service, session wallet.Session, logger *zap.Logger) *TransferHandler {
	return &TransferHandler{
		transfers: transfers,
		session:   session,
		logger:    logger,
	}
}

// HandleCreateTransfer admits a transfer request. The response carries the
// record in its admission state; clients poll for the outcome.
func (h *TransferHandler) HandleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode transfer request", zap.Error(err))
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "validation"})
		return
	}

	record, err := h.transfers.CreateTransfer(r.Context(), req)
	if err != nil {
		h.logger.Warn("transfer request rejected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err))
		sendError(w, err)
		return
	}

	sendJSON(w, http.StatusAccepted, record)
}

// HandleGetTransaction resolves an internal or external transaction id.
func (h *TransferHandler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := h.transfers.GetTransaction(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, record)
}

// HandleListTransactions lists records, optionally filtered with ?state=.
func (h *TransferHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	state := domain.TransactionState(r.URL.Query().Get("state"))
	records, err := h.transfers.ListTransactions(r.Context(), state)
	if err != nil {
		sendError(w, err)
		return
	}
	if records == nil {
		records = []*domain.TransactionRecord{}
	}
	sendJSON(w, http.StatusOK, map[string]any{"transactions": records})
}

// HandleHistory returns the append-only transition history of a record.
func (h *TransferHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.transfers.GetTransaction(r.Context(), id); err != nil {
		sendError(w, err)
		return
	}
	history, err := h.transfers.History(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}
	if history == nil {
		history = []domain.Transition{}
	}
	sendJSON(w, http.StatusOK, map[string]any{"transitions": history})
}

// HandleWalletStatus exposes the wallet's sync and balance snapshot.
func (h *TransferHandler) HandleWalletStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.session.Status(r.Context())
	if err != nil {
		h.logger.Error("wallet status unavailable", zap.Error(err))
		sendJSON(w, http.StatusBadGateway, errorResponse{Error: "wallet status unavailable", Kind: "wallet"})
		return
	}
	sendJSON(w, http.StatusOK, status)
}
