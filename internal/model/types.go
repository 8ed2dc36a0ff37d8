package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountKind is the commercial kind of an account (type_compte).
type AccountKind string

const (
	AccountKindCurrent  AccountKind = "courant"
	AccountKindSavings  AccountKind = "epargne"
	AccountKindBusiness AccountKind = "entreprise"
)

// Valid reports whether k is a known account kind.
func (k AccountKind) Valid() bool {
	switch k {
	case AccountKindCurrent, AccountKindSavings, AccountKindBusiness:
		return true
	}
	return false
}

// AccountStatus is the administrative status of an account (statut_compte).
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "actif"
	AccountStatusInactive  AccountStatus = "inactif"
	AccountStatusBlocked   AccountStatus = "bloque"
	AccountStatusSuspended AccountStatus = "suspendu"
)

// Valid reports whether s is a known account status.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusInactive, AccountStatusBlocked, AccountStatusSuspended:
		return true
	}
	return false
}

// Account is a mobile-money account keyed by phone number.
type Account struct {
	ID             uuid.UUID
	ClientID       string
	AccountNumber  string
	Name           string
	Email          string
	Phone          string
	Kind           AccountKind
	Status         AccountStatus
	OpeningBalance decimal.Decimal
	MerchantCode   *string
	PasswordHash   string
	// OTPVerifiedAt is the time of the last successful OTP verification.
	OTPVerifiedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OTPVerified reports whether an OTP was verified within window before now.
// A zero window means a verification never expires.
func (a Account) OTPVerified(now time.Time, window time.Duration) bool {
	if a.OTPVerifiedAt == nil {
		return false
	}
	if window <= 0 {
		return true
	}
	return now.Sub(*a.OTPVerifiedAt) <= window
}

// IsActive reports whether the account may authenticate and move money.
func (a Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// OtpCredential is a single-use code bound to a phone number.
type OtpCredential struct {
	ID           uuid.UUID
	Phone        string
	CodeHash     []byte
	ExpiresAt    time.Time
	Used         bool
	AttemptCount int
	CreatedAt    time.Time
}

// Expired reports whether the credential is past its expiry at now.
func (c OtpCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
