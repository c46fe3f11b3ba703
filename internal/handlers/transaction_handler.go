package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
	"go.uber.org/zap"
)

type TransactionHandler struct {
	service   *services.TransactionService
	validator *services.ValidationHelper
	logger    *zap.Logger
}

func NewTransactionHandler(service *services.TransactionService, logger *zap.Logger) *TransactionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionHandler{
		service:   service,
		validator: services.NewValidationHelper(),
		logger:    logger.Named("http.transactions"),
	}
}

type transferPayload struct {
	UserID         string          `json:"user_id" validate:"required,max=255"`
	AssetType      string          `json:"asset_type" validate:"required,max=50"`
	Amount         json.Number     `json:"amount" validate:"required,amount"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required,max=255"`
	Metadata       models.Metadata `json:"metadata,omitempty"`
}

// Topup credits a user's wallet.
// POST /transactions/topup
func (h *TransactionHandler) Topup(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, func(r *http.Request, req services.TransferRequest) (*models.Transaction, error) {
		return h.service.Topup(r.Context(), req)
	})
}

// Bonus grants promotional credit.
// POST /transactions/bonus
func (h *TransactionHandler) Bonus(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, func(r *http.Request, req services.TransferRequest) (*models.Transaction, error) {
		return h.service.Bonus(r.Context(), req)
	})
}

// Spend debits a user's wallet.
// POST /transactions/spend
func (h *TransactionHandler) Spend(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, func(r *http.Request, req services.TransferRequest) (*models.Transaction, error) {
		return h.service.Spend(r.Context(), req)
	})
}

func (h *TransactionHandler) transfer(w http.ResponseWriter, r *http.Request, run func(*http.Request, services.TransferRequest) (*models.Transaction, error)) {
	var req transferPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if !authorizeOwner(w, r, req.UserID) {
		return
	}

	amount, err := services.ParseAmount(req.Amount.String())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	txn, err := run(r, services.TransferRequest{
		OwnerID:        req.UserID,
		AssetType:      req.AssetType,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTransactionResponse(txn))
}

// GetTransaction returns one transaction.
// GET /transactions/{txId}
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !authorizeOwner(w, r, txn.OwnerID) {
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(txn))
}

// GetEntries returns the ledger entries a transaction wrote.
// GET /transactions/{txId}/entries
func (h *TransactionHandler) GetEntries(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")
	txn, err := h.service.GetTransaction(r.Context(), txID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !authorizeOwner(w, r, txn.OwnerID) {
		return
	}

	entries, err := h.service.GetEntries(r.Context(), txID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:              e.ID,
			EntryType:       string(e.EntryType),
			DebitAccountID:  e.DebitAccountID,
			CreditAccountID: e.CreditAccountID,
			AssetType:       e.AssetTypeCode,
			Amount:          services.FormatAmount(e.Amount),
			CreatedAt:       e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": txID,
		"entries":        out,
	})
}
