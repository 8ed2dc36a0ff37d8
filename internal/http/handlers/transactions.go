package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/middleware"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/transaction"
	"github.com/mobilemoney/server/internal/validation"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// TransactionService is the engine surface used by the transaction and dashboard handlers.
type TransactionService interface {
	ProcessPayment(ctx context.Context, account model.Account, req transaction.PaymentRequest) (model.Transaction, error)
	ProcessTransfer(ctx context.Context, account model.Account, req transaction.TransferRequest) (model.Transaction, error)
	List(ctx context.Context, accountID uuid.UUID, filter model.TransactionFilter) (transaction.Page, error)
	Recent(ctx context.Context, accountID uuid.UUID) ([]model.Transaction, error)
	Get(ctx context.Context, accountID uuid.UUID, reference string) (model.Transaction, error)
	Balance(ctx context.Context, account model.Account) (decimal.Decimal, error)
}

// TransactionHandler handles payment, transfer and history endpoints
type TransactionHandler struct {
	engine TransactionService
	logger *slog.Logger
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(engine TransactionService, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{engine: engine, logger: logger}
}

type paymentRequest struct {
	Amount      *decimal.Decimal `json:"montant"`
	Method      string           `json:"methode_paiement"`
	Recipient   string           `json:"destinataire"`
	Currency    string           `json:"devise"`
	Description string           `json:"description"`
	Metadata    model.Metadata   `json:"metadata"`
}

type transferRequest struct {
	Amount      *decimal.Decimal `json:"montant"`
	Recipient   string           `json:"destinataire"`
	Currency    string           `json:"devise"`
	Description string           `json:"description"`
	Metadata    model.Metadata   `json:"metadata"`
}

type createdResponse struct {
	Message     string             `json:"message"`
	Transaction transactionSummary `json:"transaction"`
}

// HandlePayment handles POST /transactions/paiement
func (h *TransactionHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Non authentifié.")
		return
	}

	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	txn, err := h.engine.ProcessPayment(r.Context(), *account, transaction.PaymentRequest{
		Amount:      req.Amount,
		Method:      model.PaymentMethod(req.Method),
		Recipient:   req.Recipient,
		Currency:    req.Currency,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.respondEngineError(w, r, "Le paiement a échoué.", err)
		return
	}

	respondJSON(w, http.StatusCreated, createdResponse{
		Message:     "Paiement effectué avec succès.",
		Transaction: newTransactionSummary(txn),
	})
}

// HandleTransfer handles POST /transactions/transfert
func (h *TransactionHandler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Non authentifié.")
		return
	}

	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	txn, err := h.engine.ProcessTransfer(r.Context(), *account, transaction.TransferRequest{
		Amount:      req.Amount,
		Recipient:   req.Recipient,
		Currency:    req.Currency,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.respondEngineError(w, r, "Le transfert a échoué.", err)
		return
	}

	respondJSON(w, http.StatusCreated, createdResponse{
		Message:     "Transfert effectué avec succès.",
		Transaction: newTransactionSummary(txn),
	})
}

// respondEngineError maps engine errors to 422, 400 or 500.
func (h *TransactionHandler) respondEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	if errs, ok := validation.As(err); ok {
		respondValidation(w, errs)
		return
	}
	if transaction.IsSettlementError(err) || errors.Is(err, transaction.ErrAccountNotActive) {
		h.logger.InfoContext(r.Context(), "transaction rejected", "error", err)
		respondDomainError(w, message, err)
		return
	}
	h.logger.ErrorContext(r.Context(), "transaction failed", "error", err)
	respondWithError(w, http.StatusInternalServerError, msgInternalError)
}

type pageResponse struct {
	Data        []transactionResponse `json:"data"`
	CurrentPage int                   `json:"current_page"`
	PerPage     int                   `json:"per_page"`
	Total       int                   `json:"total"`
	LastPage    int                   `json:"last_page"`
}

type listResponse struct {
	Transactions pageResponse      `json:"transactions"`
	Filters      map[string]string `json:"filtres_appliques"`
}

// parseFilter reads the history query string. Applied filters are echoed back.
func parseFilter(r *http.Request) (model.TransactionFilter, map[string]string, error) {
	q := r.URL.Query()
	errs := validation.Errors{}
	filter := model.TransactionFilter{Page: 1, PerPage: transaction.DefaultPerPage}
	applied := map[string]string{}

	if v := strings.TrimSpace(q.Get("type")); v != "" {
		t := model.TransactionType(v)
		if t.Valid() {
			filter.Type = &t
			applied["type"] = v
		} else {
			errs.Add("type", "Le type doit être paiement, transfert, depot ou retrait.")
		}
	}
	if v := strings.TrimSpace(q.Get("statut")); v != "" {
		s := model.TransactionStatus(v)
		if s.Valid() {
			filter.Status = &s
			applied["statut"] = v
		} else {
			errs.Add("statut", "Le statut est invalide.")
		}
	}
	if v := strings.TrimSpace(q.Get("date_debut")); v != "" {
		if d, err := time.Parse(dateLayout, v); err == nil {
			filter.From = &d
			applied["date_debut"] = v
		} else {
			errs.Add("date_debut", "La date de début doit être au format AAAA-MM-JJ.")
		}
	}
	if v := strings.TrimSpace(q.Get("date_fin")); v != "" {
		if d, err := time.Parse(dateLayout, v); err == nil {
			// exclusive upper bound covering the whole day
			end := d.AddDate(0, 0, 1)
			filter.To = &end
			applied["date_fin"] = v
		} else {
			errs.Add("date_fin", "La date de fin doit être au format AAAA-MM-JJ.")
		}
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		errs.Add("date_fin", "La date de fin doit être postérieure ou égale à la date de début.")
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs.Add("page", "La page doit être un entier positif.")
		} else {
			filter.Page = n
		}
	}
	if v := q.Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > transaction.MaxPerPage {
			errs.Add("per_page", "Le nombre par page doit être compris entre 1 et 100.")
		} else {
			filter.PerPage = n
		}
	}
	return filter, applied, errs.Err()
}

// HandleList handles GET /transactions
func (h *TransactionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Non authentifié.")
		return
	}

	filter, applied, err := parseFilter(r)
	if errs, ok := validation.As(err); ok {
		respondValidation(w, errs)
		return
	}

	page, err := h.engine.List(r.Context(), account.ID, filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list transactions failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	respondJSON(w, http.StatusOK, listResponse{
		Transactions: pageResponse{
			Data:        newTransactionList(page.Transactions),
			CurrentPage: page.Page,
			PerPage:     page.PerPage,
			Total:       page.Total,
			LastPage:    page.LastPage,
		},
		Filters: applied,
	})
}

// HandleGet handles GET /transactions/{reference}
func (h *TransactionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Non authentifié.")
		return
	}

	txn, err := h.engine.Get(r.Context(), account.ID, chi.URLParam(r, "reference"))
	if errors.Is(err, transaction.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Transaction introuvable.")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get transaction failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"transaction": newTransactionResponse(txn)})
}
