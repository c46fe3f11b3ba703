package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
	"go.uber.org/zap"
)

const maxBodyBytes = 1_048_576 // 1 MB

type transactionResponse struct {
	ID              string          `json:"id"`
	TransactionType string          `json:"transaction_type"`
	Status          string          `json:"status"`
	UserID          string          `json:"user_id"`
	AssetType       string          `json:"asset_type"`
	Amount          string          `json:"amount"`
	Description     string          `json:"description,omitempty"`
	Metadata        models.Metadata `json:"metadata,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key"`
	CreatedAt       time.Time       `json:"created_at"`
}

func newTransactionResponse(t *models.Transaction) transactionResponse {
	return transactionResponse{
		ID:              t.ID,
		TransactionType: string(t.Type),
		Status:          string(t.Status),
		UserID:          t.OwnerID,
		AssetType:       t.AssetTypeCode,
		Amount:          services.FormatAmount(t.Amount),
		Description:     t.Description,
		Metadata:        t.Metadata,
		IdempotencyKey:  t.IdempotencyKey,
		CreatedAt:       t.CreatedAt,
	}
}

type entryResponse struct {
	ID              string    `json:"id"`
	EntryType       string    `json:"entry_type"`
	DebitAccountID  string    `json:"debit_account_id"`
	CreditAccountID string    `json:"credit_account_id"`
	AssetType       string    `json:"asset_type"`
	Amount          string    `json:"amount"`
	CreatedAt       time.Time `json:"created_at"`
}

type balanceResponse struct {
	AssetType string `json:"asset_type"`
	Balance   string `json:"balance"`
	AccountID string `json:"account_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// writeServiceError maps the engine's error kinds onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidAmount), errors.Is(err, services.ErrInvalidArgument):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrAssetTypeNotFound), errors.Is(err, services.ErrTransactionNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, services.ErrInsufficientBalance):
		services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
	case errors.Is(err, services.ErrTransientConflict):
		w.Header().Set("Retry-After", "1")
		services.SendErrorResponse(w, "Ledger is busy, retry the request", http.StatusServiceUnavailable, nil)
	default:
		logger.Error("request failed", zap.Error(err))
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

// authorizeOwner writes 403 when an authenticated caller asks for another
// user's wallet. Requests without an authenticated caller pass.
func authorizeOwner(w http.ResponseWriter, r *http.Request, ownerID string) bool {
	caller, ok := middleware.UserIDFromContext(r.Context())
	if !ok || caller == ownerID {
		return true
	}
	services.SendErrorResponse(w, "Access denied", http.StatusForbidden, nil)
	return false
}

// queryInt reads an integer query parameter, falling back to def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
