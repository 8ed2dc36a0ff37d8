package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mobilemoney/server/internal/account"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/validation"
	"github.com/shopspring/decimal"
)

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, req account.RegisterRequest) (model.Account, error)
}

// AccountHandler handles account registration
type AccountHandler struct {
	registrar   Registrar
	loginWindow time.Duration
	logger      *slog.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(registrar Registrar, loginWindow time.Duration, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{registrar: registrar, loginWindow: loginWindow, logger: logger}
}

// createAccountRequest is the request body for POST /comptes
type createAccountRequest struct {
	Name          string           `json:"nom"`
	Email         string           `json:"email"`
	Phone         string           `json:"telephone"`
	Password      string           `json:"password"`
	ClientID      string           `json:"id_client"`
	AccountNumber string           `json:"numero_compte"`
	Kind          string           `json:"type_compte"`
	Status        string           `json:"statut_compte"`
	MerchantCode  string           `json:"code_marchand"`
	Balance       *decimal.Decimal `json:"solde"`
}

// HandleCreate handles POST /comptes
func (h *AccountHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		errs := validation.Errors{}
		errs.Add("body", msgInvalidBody)
		respondValidation(w, errs)
		return
	}

	a, err := h.registrar.Register(r.Context(), account.RegisterRequest{
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		Password:       req.Password,
		ClientID:       req.ClientID,
		AccountNumber:  req.AccountNumber,
		Kind:           model.AccountKind(req.Kind),
		Status:         model.AccountStatus(req.Status),
		MerchantCode:   req.MerchantCode,
		OpeningBalance: req.Balance,
	})
	if errs, ok := validation.As(err); ok {
		respondValidation(w, errs)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "register account failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Compte créé avec succès.",
		"compte":  newAccountResponse(a, a.OTPVerified(time.Now(), h.loginWindow)),
	})
}
