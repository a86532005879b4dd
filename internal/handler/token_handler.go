package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dtutila/midnight-dega-sub002/internal/domain"
	"github.com/dtutila/midnight-dega-sub002/internal/usecase/registry"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type TokenHandler struct {
	registry *registry.Service
	logger   *zap.Logger
}

func NewTokenHandler(reg *registry.Service, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{registry: reg, logger: logger}
}

func (h *TokenHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var descriptor domain.TokenDescriptor
	if err := json.NewDecoder(r.Body).Decode(&descriptor); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "validation"})
		return
	}

	registered, err := h.registry.Register(r.Context(), descriptor)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, registered)
}

func (h *TokenHandler) HandleBatchRegister(w http.ResponseWriter, r *http.Request) {
	var descriptors []domain.TokenDescriptor
	if err := json.NewDecoder(r.Body).Decode(&descriptors); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "validation"})
		return
	}

	results := h.registry.BatchRegister(r.Context(), descriptors)
	sendJSON(w, http.StatusMultiStatus, map[string]any{"results": results})
}

// HandleImport accepts the raw NAME:SYMBOL:CONTRACT:... config string as the
// request body and registers every entry that parses.
func (h *TokenHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body", Kind: "validation"})
		return
	}

	results := h.registry.RegisterFromConfigString(r.Context(), string(raw))
	sendJSON(w, http.StatusMultiStatus, map[string]any{"results": results})
}

func (h *TokenHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	nameOrSymbol := chi.URLParam(r, "token")
	descriptor, err := h.registry.Lookup(r.Context(), nameOrSymbol)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, descriptor)
}

func (h *TokenHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	descriptors, err := h.registry.List(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	if descriptors == nil {
		descriptors = []*domain.TokenDescriptor{}
	}
	sendJSON(w, http.StatusOK, map[string]any{"tokens": descriptors})
}

type updateMetadataRequest struct {
	Description string `json:"description"`
	Decimals    int    `json:"decimals"`
}

func (h *TokenHandler) HandleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "token")

	var req updateMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "validation"})
		return
	}

	descriptor, err := h.registry.UpdateMetadata(r.Context(), name, req.Description, req.Decimals)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, descriptor)
}
