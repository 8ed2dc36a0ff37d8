package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mobilemoney/server/internal/balance"
	"github.com/mobilemoney/server/internal/middleware"
)

// DashboardHandler serves the account summary endpoints
type DashboardHandler struct {
	engine      TransactionService
	loginWindow time.Duration
	logger      *slog.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(engine TransactionService, loginWindow time.Duration, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{engine: engine, loginWindow: loginWindow, logger: logger}
}

type dashboardResponse struct {
	Account accountResponse       `json:"compte"`
	Balance string                `json:"solde"`
	Recent  []transactionResponse `json:"transactions_recentes"`
}

// HandleDashboard handles GET /dashboard
func (h *DashboardHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Non authentifié.")
		return
	}

	bal, err := h.engine.Balance(r.Context(), *account)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "compute balance failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	recent, err := h.engine.Recent(r.Context(), account.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "recent transactions failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	respondJSON(w, http.StatusOK, dashboardResponse{
		Account: newAccountResponse(*account, account.OTPVerified(time.Now(), h.loginWindow)),
		Balance: balance.Format(bal),
		Recent:  newTransactionList(recent),
	})
}

// HandleBalance handles GET /compte/solde
func (h *DashboardHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Non authentifié.")
		return
	}

	bal, err := h.engine.Balance(r.Context(), *account)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "compute balance failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"solde": balance.Format(bal)})
}
