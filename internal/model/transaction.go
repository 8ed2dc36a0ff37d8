package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TypePayment    TransactionType = "paiement"
	TypeTransfer   TransactionType = "transfert"
	TypeDeposit    TransactionType = "depot"
	TypeWithdrawal TransactionType = "retrait"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypePayment, TypeTransfer, TypeDeposit, TypeWithdrawal:
		return true
	}
	return false
}

// PaymentMethod identifies how a payment recipient is addressed.
type PaymentMethod string

const (
	MethodMerchantCode PaymentMethod = "code_marchand"
	MethodPhoneNumber  PaymentMethod = "numero_telephone"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	return m == MethodMerchantCode || m == MethodPhoneNumber
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "en_attente"
	StatusSubmitted TransactionStatus = "soumis"
	StatusSuccess   TransactionStatus = "reussi"
	StatusFailed    TransactionStatus = "echoue"
	StatusCancelled TransactionStatus = "annule"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// InFlight reports whether s holds funds that are not yet settled.
func (s TransactionStatus) InFlight() bool {
	return s == StatusPending || s == StatusSubmitted
}

var transitions = map[TransactionStatus][]TransactionStatus{
	StatusSubmitted: {StatusPending},
	StatusSuccess:   {StatusSubmitted},
	StatusFailed:    {StatusPending, StatusSubmitted},
	StatusCancelled: {StatusPending},
}

// SourcesFor returns the statuses from which a row may move to target.
// Transitions are monotonic.
func SourcesFor(target TransactionStatus) []TransactionStatus {
	return transitions[target]
}

// Direction tells whether a row debits or credits its owning account.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// Metadata is free-form structured data attached to a transaction.
type Metadata map[string]any

// Clone returns a shallow copy of m that is never nil.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Metadata keys written by the engine.
const (
	MetaFailureReason = "raison_echec"
	MetaRecipientID   = "destinataire_id"
	MetaRecipientName = "destinataire_nom"
	MetaSenderID      = "expediteur_id"
	MetaSenderName    = "expediteur_nom"
	MetaSenderPhone   = "expediteur_telephone"
)

// Transaction is one row of the ledger.
type Transaction struct {
	ID                    uuid.UUID
	Reference             string
	AccountID             uuid.UUID
	Type                  TransactionType
	Direction             Direction
	Method                *PaymentMethod
	Recipient             string
	CounterpartyAccountID *uuid.UUID
	LinkedReference       *string
	Amount                decimal.Decimal
	Currency              string
	Status                TransactionStatus
	Description           string
	Metadata              Metadata
	ExecutedAt            *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// FailureReason returns the failure reason recorded in metadata, if any.
func (t Transaction) FailureReason() string {
	if t.Metadata == nil {
		return ""
	}
	s, _ := t.Metadata[MetaFailureReason].(string)
	return s
}

// TransactionFilter narrows a history listing.
type TransactionFilter struct {
	Type    *TransactionType
	Status  *TransactionStatus
	From    *time.Time
	To      *time.Time // exclusive
	Page    int
	PerPage int
}

// Offset returns the row offset for the filter's page.
func (f TransactionFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PerPage
}

// LedgerTotals are the aggregates the balance is derived from.
type LedgerTotals struct {
	// Credits is the sum of settled credit-bearing rows.
	Credits decimal.Decimal
	// Debits is the sum of settled debit-bearing rows.
	Debits decimal.Decimal
	// InFlightDebits is the sum of debit rows still pending or submitted.
	InFlightDebits decimal.Decimal
}
