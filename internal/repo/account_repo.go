package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/db"
	"github.com/mobilemoney/server/internal/model"
)

// Unique constraints on accounts, as named in the migrations.
const (
	ConstraintClientID      = "accounts_client_id_key"
	ConstraintAccountNumber = "accounts_account_number_key"
	ConstraintEmail         = "accounts_email_key"
	ConstraintPhone         = "accounts_phone_key"
)

// AccountRepo defines the interface for account repository operations
type AccountRepo interface {
	Create(ctx context.Context, account *model.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (model.Account, error)
	GetByPhone(ctx context.Context, phone string) (model.Account, error)
	ClientIDExists(ctx context.Context, clientID string) (bool, error)
	AccountNumberExists(ctx context.Context, number string) (bool, error)
	SetOTPVerified(ctx context.Context, id uuid.UUID, at time.Time) error
}

type accountRepo struct {
	db *sql.DB
}

// NewAccountRepo creates a new AccountRepo instance
func NewAccountRepo(database *sql.DB) AccountRepo {
	return &accountRepo{db: database}
}

const accountColumns = `
	id, client_id, account_number, name, email, phone, kind, status,
	opening_balance, merchant_code, password_hash, otp_verified_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (model.Account, error) {
	var a model.Account
	var merchantCode sql.NullString
	var otpVerifiedAt sql.NullTime
	err := row.Scan(
		&a.ID,
		&a.ClientID,
		&a.AccountNumber,
		&a.Name,
		&a.Email,
		&a.Phone,
		&a.Kind,
		&a.Status,
		&a.OpeningBalance,
		&merchantCode,
		&a.PasswordHash,
		&otpVerifiedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Account{}, mapError(err)
	}
	if merchantCode.Valid {
		a.MerchantCode = &merchantCode.String
	}
	if otpVerifiedAt.Valid {
		t := otpVerifiedAt.Time
		a.OTPVerifiedAt = &t
	}
	return a, nil
}

// Create inserts the account and fills in its generated id and timestamps.
func (r *accountRepo) Create(ctx context.Context, a *model.Account) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (client_id, account_number, name, email, phone, kind, status,
		                      opening_balance, merchant_code, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`, a.ClientID, a.AccountNumber, a.Name, a.Email, a.Phone, a.Kind, a.Status,
		a.OpeningBalance, a.MerchantCode, a.PasswordHash,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", mapError(err))
	}
	return nil
}

// GetByID retrieves an account by ID
func (r *accountRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Account, error) {
	return getAccount(ctx, r.db, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// GetByPhone retrieves an account by phone number
func (r *accountRepo) GetByPhone(ctx context.Context, phone string) (model.Account, error) {
	return getAccount(ctx, r.db, `SELECT `+accountColumns+` FROM accounts WHERE phone = $1`, phone)
}

func getAccount(ctx context.Context, q db.Querier, query string, arg any) (model.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		return model.Account{}, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

func (r *accountRepo) ClientIDExists(ctx context.Context, clientID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE client_id = $1)`, clientID)
}

func (r *accountRepo) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE account_number = $1)`, number)
}

func (r *accountRepo) exists(ctx context.Context, query, arg string) (bool, error) {
	var found bool
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("exists check: %w", err)
	}
	return found, nil
}

// SetOTPVerified records a successful OTP verification at the given time.
func (r *accountRepo) SetOTPVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET otp_verified_at = $2, updated_at = now() WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("set otp verified: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
