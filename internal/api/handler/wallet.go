package handler

import (
	"fmt"
	"net/http"

	"github.com/ayo6706/captcha-solver-api/internal/domain"
	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/service"
)

// WalletHandler serves the deposit address, the balance and deposit history,
// and lets a user trigger a reconciliation pass.
type WalletHandler struct {
	accounts   *service.AccountService
	reconciler service.Reconciler
}

func NewWalletHandler(accounts *service.AccountService, reconciler service.Reconciler) *WalletHandler {
	return &WalletHandler{accounts: accounts, reconciler: reconciler}
}

type transactionView struct {
	models.Transaction
	AmountBTC string `json:"amount_btc"`
	AmountUSD string `json:"amount_usd"`
}

type depositView struct {
	models.Deposit
	TotalBTC    string `json:"total_btc"`
	TotalUSD    string `json:"total_usd"`
	CreditedUSD string `json:"credited_usd"`
}

func (h *WalletHandler) GetAddress(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	addr, err := h.accounts.GetDepositAddress(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err, "wallet/address-read-failed", "Failed to get deposit address")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"address": addr.Address,
		"network": addr.Network,
	})
}

func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	balance, err := h.accounts.GetBalance(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err, "wallet/balance-read-failed", "Failed to get balance")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"balance":        usd(balance.AmountMicros),
		"balance_micros": balance.AmountMicros,
		"currency":       domain.AccountCurrency,
		"updated_at":     balance.UpdatedAt,
	})
}

// GetTransactions handles GET /v1/wallet/transactions?page&limit.
func (h *WalletHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	page, limit := pageParams(r)
	history, err := h.accounts.GetTransactions(r.Context(), actorID, page, limit)
	if err != nil {
		respondServiceError(w, r, err, "wallet/transactions-read-failed", "Failed to list transactions")
		return
	}

	views := make([]transactionView, 0, len(history.Transactions))
	for _, t := range history.Transactions {
		views = append(views, transactionView{
			Transaction: t,
			AmountBTC:   domain.SatsToDecimal(t.AmountSats).String(),
			AmountUSD:   usd(t.AmountMicros),
		})
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"transactions":          views,
		"total_received":        usd(history.TotalReceivedMicros),
		"total_received_micros": history.TotalReceivedMicros,
		"page":                  history.Page,
		"limit":                 history.Limit,
	})
}

// GetDeposits handles GET /v1/wallet/deposits?page&limit.
func (h *WalletHandler) GetDeposits(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	page, limit := pageParams(r)
	deposits, err := h.accounts.GetDeposits(r.Context(), actorID, page, limit)
	if err != nil {
		respondServiceError(w, r, err, "wallet/deposits-read-failed", "Failed to list deposits")
		return
	}

	views := make([]depositView, 0, len(deposits))
	for _, d := range deposits {
		views = append(views, depositView{
			Deposit:     d,
			TotalBTC:    domain.SatsToDecimal(d.TotalSats).String(),
			TotalUSD:    usd(d.TotalMicros),
			CreditedUSD: usd(d.CreditedMicros),
		})
	}
	RespondJSON(w, http.StatusOK, map[string]any{"deposits": views})
}

// CheckDeposits handles POST /v1/wallet/check-deposits by running one
// reconciliation pass for the caller. An unreachable ledger still answers 200.
func (h *WalletHandler) CheckDeposits(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	result, err := h.reconciler.Reconcile(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err, "wallet/check-deposits-failed", "Failed to check deposits")
		return
	}

	processed := result.Processed()
	balance, err := h.accounts.GetBalance(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err, "wallet/balance-read-failed", "Failed to get balance")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"message":            processedMessage(processed),
		"processed":          processed,
		"new_transactions":   len(result.NewTransactions),
		"confirmed":          result.Confirmed,
		"credited_deposits":  result.CreditedDeposits,
		"credited":           usd(result.CreditedMicros),
		"ledger_unavailable": result.LedgerUnavailable,
		"balance":            usd(balance.AmountMicros),
	})
}

func processedMessage(n int) string {
	if n == 1 {
		return "Processed 1 transaction"
	}
	return fmt.Sprintf("Processed %d transactions", n)
}
