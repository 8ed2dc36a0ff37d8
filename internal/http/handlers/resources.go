package handlers

import (
	"time"

	"github.com/mobilemoney/server/internal/balance"
	"github.com/mobilemoney/server/internal/model"
)

// accountResponse is the account resource; the password hash is never exposed
type accountResponse struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"id_client"`
	AccountNumber string    `json:"numero_compte"`
	Name          string    `json:"nom"`
	Email         string    `json:"email"`
	Phone         string    `json:"telephone"`
	Kind          string    `json:"type_compte"`
	Status        string    `json:"statut_compte"`
	MerchantCode  *string   `json:"code_marchand"`
	OTPVerified   bool      `json:"otp_verifie"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newAccountResponse(a model.Account, otpVerified bool) accountResponse {
	return accountResponse{
		ID:            a.ID.String(),
		ClientID:      a.ClientID,
		AccountNumber: a.AccountNumber,
		Name:          a.Name,
		Email:         a.Email,
		Phone:         a.Phone,
		Kind:          string(a.Kind),
		Status:        string(a.Status),
		MerchantCode:  a.MerchantCode,
		OTPVerified:   otpVerified,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// userSummary is the account summary returned on login
type userSummary struct {
	ID            string `json:"id"`
	Name          string `json:"nom"`
	Phone         string `json:"telephone"`
	AccountNumber string `json:"numero_compte"`
	Kind          string `json:"type_compte"`
}

func newUserSummary(a model.Account) userSummary {
	return userSummary{
		ID:            a.ID.String(),
		Name:          a.Name,
		Phone:         a.Phone,
		AccountNumber: a.AccountNumber,
		Kind:          string(a.Kind),
	}
}

// transactionResponse is the full transaction resource
type transactionResponse struct {
	ID              string         `json:"id"`
	Reference       string         `json:"reference"`
	Type            string         `json:"type"`
	Direction       string         `json:"sens"`
	Method          *string        `json:"methode_paiement"`
	Recipient       string         `json:"destinataire"`
	Amount          string         `json:"montant"`
	Currency        string         `json:"devise"`
	Status          string         `json:"statut"`
	Description     string         `json:"description"`
	Metadata        model.Metadata `json:"metadata"`
	LinkedReference *string        `json:"reference_liee,omitempty"`
	ExecutedAt      *time.Time     `json:"date_execution"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func newTransactionResponse(t model.Transaction) transactionResponse {
	var method *string
	if t.Method != nil {
		m := string(*t.Method)
		method = &m
	}
	meta := t.Metadata
	if meta == nil {
		meta = model.Metadata{}
	}
	return transactionResponse{
		ID:              t.ID.String(),
		Reference:       t.Reference,
		Type:            string(t.Type),
		Direction:       string(t.Direction),
		Method:          method,
		Recipient:       t.Recipient,
		Amount:          balance.Format(t.Amount),
		Currency:        t.Currency,
		Status:          string(t.Status),
		Description:     t.Description,
		Metadata:        meta,
		LinkedReference: t.LinkedReference,
		ExecutedAt:      t.ExecutedAt,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func newTransactionList(rows []model.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(rows))
	for _, t := range rows {
		out = append(out, newTransactionResponse(t))
	}
	return out
}

// transactionSummary is returned when a transaction is created
type transactionSummary struct {
	Reference  string     `json:"reference"`
	Amount     string     `json:"montant"`
	Recipient  string     `json:"destinataire"`
	Status     string     `json:"statut"`
	ExecutedAt *time.Time `json:"date_execution"`
}

func newTransactionSummary(t model.Transaction) transactionSummary {
	return transactionSummary{
		Reference:  t.Reference,
		Amount:     balance.Format(t.Amount),
		Recipient:  t.Recipient,
		Status:     string(t.Status),
		ExecutedAt: t.ExecutedAt,
	}
}
