package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dtutila/midnight-dega-sub002/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// sendError maps the error taxonomy onto HTTP statuses and a stable kind
// string for clients.
func sendError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "validation"})
	case errors.Is(err, domain.ErrBusy):
		sendJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error(), Kind: "busy"})
	case errors.Is(err, domain.ErrTransactionNotFound), errors.Is(err, domain.ErrTokenNotFound):
		sendJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "not_found"})
	case errors.Is(err, domain.ErrDuplicateToken):
		sendJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Kind: "duplicate_token"})
	case errors.Is(err, domain.ErrInvalidAddress):
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "invalid_address"})
	default:
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Kind: "internal"})
	}
}
