package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/repo"
)

var (
	// ErrInvalidOTP is returned for a missing, expired, used, burned or mismatched code.
	ErrInvalidOTP = errors.New("invalid or expired OTP")
	// ErrInvalidCredentials is returned for every password login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// CodeSender delivers an issued code out of band.
type CodeSender interface {
	SendOTP(ctx context.Context, account model.Account, code string, ttl time.Duration) error
}

// Options tunes the authenticator.
type Options struct {
	Salt        string
	TTL         time.Duration
	MaxAttempts int
	// LoginWindow bounds how long an OTP verification authorizes password login.
	LoginWindow time.Duration
}

// Issuance is the outcome of an OTP request.
type Issuance struct {
	// Issued is false when no account exists for the phone.
	Issued    bool
	Code      string
	Delivered bool
	ExpiresAt time.Time
}

// Authenticator issues and verifies OTP credentials and gates password login on them.
type Authenticator struct {
	accounts repo.AccountRepo
	otps     repo.OtpRepo
	sender   CodeSender
	hasher   PasswordHasher
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(
	accounts repo.AccountRepo,
	otps repo.OtpRepo,
	sender CodeSender,
	hasher PasswordHasher,
	opts Options,
	logger *slog.Logger,
) *Authenticator {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		accounts: accounts,
		otps:     otps,
		sender:   sender,
		hasher:   hasher,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// IssueOTP replaces any credential for phone with a fresh code and attempts delivery.
// An unknown phone yields a zero Issuance and no error. A delivery failure leaves the
// code valid and is reported through Issuance.Delivered.
func (a *Authenticator) IssueOTP(ctx context.Context, phone string) (Issuance, error) {
	account, err := a.accounts.GetByPhone(ctx, phone)
	if errors.Is(err, repo.ErrNotFound) {
		a.logger.InfoContext(ctx, "otp requested for unknown phone", "phone", model.MaskPhone(phone))
		return Issuance{}, nil
	}
	if err != nil {
		return Issuance{}, fmt.Errorf("lookup account: %w", err)
	}

	code, err := generateOTPCode()
	if err != nil {
		return Issuance{}, err
	}
	expiresAt := a.now().Add(a.opts.TTL)
	if _, err := a.otps.Replace(ctx, phone, hashOTPHex(phone, code, a.opts.Salt), expiresAt); err != nil {
		return Issuance{}, fmt.Errorf("store otp: %w", err)
	}

	out := Issuance{Issued: true, Code: code, ExpiresAt: expiresAt, Delivered: true}
	if err := a.sender.SendOTP(ctx, account, code, a.opts.TTL); err != nil {
		a.logger.WarnContext(ctx, "otp delivery failed", "phone", model.MaskPhone(phone), "error", err)
		out.Delivered = false
	}
	return out, nil
}

// VerifyOTP consumes the active credential for phone when code matches and
// records the verification on the account.
func (a *Authenticator) VerifyOTP(ctx context.Context, phone, code string) (model.Account, error) {
	now := a.now()
	if n, err := a.otps.PurgeExpired(ctx, now); err != nil {
		a.logger.WarnContext(ctx, "purge expired otps failed", "error", err)
	} else if n > 0 {
		a.logger.DebugContext(ctx, "purged expired otps", "count", n)
	}

	cred, err := a.otps.GetActive(ctx, phone, now)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Account{}, ErrInvalidOTP
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("lookup otp: %w", err)
	}
	if cred.Used || cred.Expired(now) {
		return model.Account{}, ErrInvalidOTP
	}

	if !constantTimeCompare(hashOTPBytes(phone, code, a.opts.Salt), cred.CodeHash) {
		attempts, err := a.otps.IncrementAttempt(ctx, cred.ID)
		if err != nil {
			return model.Account{}, fmt.Errorf("record attempt: %w", err)
		}
		if attempts >= a.opts.MaxAttempts {
			if err := a.otps.MarkUsed(ctx, cred.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
				return model.Account{}, fmt.Errorf("burn otp: %w", err)
			}
			a.logger.WarnContext(ctx, "otp burned after too many attempts", "phone", model.MaskPhone(phone))
		}
		return model.Account{}, ErrInvalidOTP
	}

	// Two concurrent verifications of one code: only the first flips used.
	if err := a.otps.MarkUsed(ctx, cred.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, ErrInvalidOTP
		}
		return model.Account{}, fmt.Errorf("consume otp: %w", err)
	}

	account, err := a.accounts.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, ErrInvalidOTP
		}
		return model.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	if err := a.accounts.SetOTPVerified(ctx, account.ID, now); err != nil {
		return model.Account{}, fmt.Errorf("record otp verification: %w", err)
	}
	account.OTPVerifiedAt = &now
	return account, nil
}

// AuthenticateByPassword requires a recent OTP verification, a matching password
// and an active account. Every failure is ErrInvalidCredentials.
func (a *Authenticator) AuthenticateByPassword(ctx context.Context, phone, password string) (model.Account, error) {
	account, err := a.accounts.GetByPhone(ctx, phone)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	if !account.OTPVerified(a.now(), a.opts.LoginWindow) {
		a.logger.InfoContext(ctx, "password login without recent otp", "phone", model.MaskPhone(phone))
		return model.Account{}, ErrInvalidCredentials
	}
	if err := a.hasher.Compare(account.PasswordHash, password); err != nil {
		return model.Account{}, ErrInvalidCredentials
	}
	if !account.IsActive() {
		return model.Account{}, ErrInvalidCredentials
	}
	return account, nil
}
