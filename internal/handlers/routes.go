package handlers

import (
	"github.com/go-chi/chi/v5"
)

// Mount registers the ledger API on r, normally under /api/v1.
func Mount(r chi.Router, transactions *TransactionHandler, wallets *WalletHandler) {
	r.Route("/transactions", func(r chi.Router) {
		r.Post("/topup", transactions.Topup)
		r.Post("/bonus", transactions.Bonus)
		r.Post("/spend", transactions.Spend)
		r.Get("/{txId}", transactions.GetTransaction)
		r.Get("/{txId}/entries", transactions.GetEntries)
	})

	r.Route("/wallets/{userId}", func(r chi.Router) {
		r.Get("/balance", wallets.GetBalances)
		r.Get("/balance/{assetType}", wallets.GetBalance)
		r.Get("/transactions", wallets.GetHistory)
	})

	r.Get("/users", wallets.ListUsers)
	r.Get("/users/{userId}/accounts", wallets.ListAccounts)
}
