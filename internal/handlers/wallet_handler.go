package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/ledger/internal/services"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

type WalletHandler struct {
	wallets      *services.WalletService
	transactions *services.TransactionService
	logger       *zap.Logger
}

func NewWalletHandler(wallets *services.WalletService, transactions *services.TransactionService, logger *zap.Logger) *WalletHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletHandler{
		wallets:      wallets,
		transactions: transactions,
		logger:       logger.Named("http.wallets"),
	}
}

// GetBalances returns every balance the user holds.
// GET /wallets/{userId}/balance
func (h *WalletHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !authorizeOwner(w, r, userID) {
		return
	}
	balances, err := h.wallets.GetAllBalances(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	out := make([]balanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, balanceResponse{
			AssetType: b.AssetType,
			Balance:   services.FormatAmount(b.Balance),
			AccountID: b.AccountID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"balances":  out,
		"timestamp": time.Now().UTC(),
	})
}

// GetBalance returns one asset balance; zero when the user never used the asset.
// GET /wallets/{userId}/balance/{assetType}
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	assetType := chi.URLParam(r, "assetType")
	if !authorizeOwner(w, r, userID) {
		return
	}

	balance, err := h.wallets.GetBalance(r.Context(), userID, assetType)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"asset_type": assetType,
		"balance":    services.FormatAmount(balance),
	})
}

// GetHistory pages through the user's transactions, newest first.
// GET /wallets/{userId}/transactions?limit=50&offset=0
func (h *WalletHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !authorizeOwner(w, r, userID) {
		return
	}
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		services.SendErrorResponse(w, "limit must be an integer", http.StatusBadRequest, nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		services.SendErrorResponse(w, "offset must be an integer", http.StatusBadRequest, nil)
		return
	}

	txns, err := h.transactions.GetHistory(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	out := make([]transactionResponse, 0, len(txns))
	for i := range txns {
		out = append(out, newTransactionResponse(&txns[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListAccounts returns the user's accounts across asset types.
// GET /users/{userId}/accounts
func (h *WalletHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !authorizeOwner(w, r, userID) {
		return
	}
	accounts, err := h.wallets.ListAccounts(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// ListUsers returns every user holding an account, with their account count.
// GET /users
func (h *WalletHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.wallets.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
