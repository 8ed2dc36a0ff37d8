package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/db"
	"github.com/mobilemoney/server/internal/model"
)

// OtpRepo defines the interface for OTP credential repository operations
type OtpRepo interface {
	Replace(ctx context.Context, phone, codeHashHex string, expiresAt time.Time) (model.OtpCredential, error)
	GetActive(ctx context.Context, phone string, now time.Time) (model.OtpCredential, error)
	IncrementAttempt(ctx context.Context, id uuid.UUID) (newAttemptCount int, err error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(database *sql.DB) OtpRepo {
	return &otpRepo{db: database}
}

// Replace deletes every credential for the phone, whatever its state, and inserts
// a fresh one. Concurrent issuances for one phone are serialized by an advisory lock.
func (r *otpRepo) Replace(ctx context.Context, phone, codeHashHex string, expiresAt time.Time) (model.OtpCredential, error) {
	var cred model.OtpCredential
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		// Released on COMMIT/ROLLBACK.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1))`, phone); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM otp_credentials WHERE phone = $1`, phone); err != nil {
			return fmt.Errorf("delete existing credentials: %w", err)
		}

		var hashHex string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO otp_credentials (phone, code_hash, expires_at)
			VALUES ($1, $2, $3)
			RETURNING id, phone, code_hash, expires_at, used, attempt_count, created_at
		`, phone, codeHashHex, expiresAt).Scan(
			&cred.ID,
			&cred.Phone,
			&hashHex,
			&cred.ExpiresAt,
			&cred.Used,
			&cred.AttemptCount,
			&cred.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert credential: %w", mapError(err))
		}
		cred.CodeHash, err = hex.DecodeString(hashHex)
		if err != nil {
			return fmt.Errorf("decode code_hash: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.OtpCredential{}, err
	}
	return cred, nil
}

// GetActive returns the unused, unexpired credential for the phone.
func (r *otpRepo) GetActive(ctx context.Context, phone string, now time.Time) (model.OtpCredential, error) {
	var cred model.OtpCredential
	var hashHex string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, phone, code_hash, expires_at, used, attempt_count, created_at
		FROM otp_credentials
		WHERE phone = $1 AND used = false AND expires_at > $2
	`, phone, now).Scan(
		&cred.ID,
		&cred.Phone,
		&hashHex,
		&cred.ExpiresAt,
		&cred.Used,
		&cred.AttemptCount,
		&cred.CreatedAt,
	)
	if err != nil {
		return model.OtpCredential{}, fmt.Errorf("query credential: %w", mapError(err))
	}

	cred.CodeHash, err = hex.DecodeString(hashHex)
	if err != nil {
		return model.OtpCredential{}, fmt.Errorf("decode code_hash: %w", err)
	}
	return cred, nil
}

// IncrementAttempt bumps attempt_count and returns the new value.
func (r *otpRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var newCount int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_credentials
		SET attempt_count = attempt_count + 1
		WHERE id = $1
		RETURNING attempt_count
	`, id).Scan(&newCount)
	if err != nil {
		return 0, fmt.Errorf("increment attempt: %w", mapError(err))
	}
	return newCount, nil
}

// MarkUsed consumes the credential. Only one caller can consume a given
// credential; the others get ErrNotFound.
func (r *otpRepo) MarkUsed(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_credentials SET used = true WHERE id = $1 AND used = false
	`, id)
	if err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired deletes every credential whose expiry is at or before now.
func (r *otpRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM otp_credentials WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired credentials: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
