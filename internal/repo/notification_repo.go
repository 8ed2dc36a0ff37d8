package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/model"
)

// NotificationRepo is the outbox of outbound notifications.
type NotificationRepo interface {
	Enqueue(ctx context.Context, n *model.Notification) error
	// ClaimDue leases up to limit pending rows whose next attempt is due, bumping
	// their attempt counter. A leased row is invisible to other claimers until the lease ends.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]model.Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records the error; a nil retryAt marks the row as permanently failed.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error
}

type notificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo creates a new NotificationRepo instance
func NewNotificationRepo(database *sql.DB) NotificationRepo {
	return &notificationRepo{db: database}
}

const notificationColumns = `
	id, account_id, channel, recipient, subject, message, status, attempts, next_attempt_at,
	last_error, sent_at, created_at`

func scanNotification(row rowScanner) (model.Notification, error) {
	var n model.Notification
	var lastErr sql.NullString
	var sentAt sql.NullTime
	err := row.Scan(
		&n.ID,
		&n.AccountID,
		&n.Channel,
		&n.Recipient,
		&n.Subject,
		&n.Message,
		&n.Status,
		&n.Attempts,
		&n.NextAttemptAt,
		&lastErr,
		&sentAt,
		&n.CreatedAt,
	)
	if err != nil {
		return model.Notification{}, mapError(err)
	}
	if lastErr.Valid {
		n.LastError = &lastErr.String
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	return n, nil
}

func (r *notificationRepo) Enqueue(ctx context.Context, n *model.Notification) error {
	if n.Status == "" {
		n.Status = model.NotificationPending
	}
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = time.Now()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notification_logs (account_id, channel, recipient, subject, message, status, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, n.AccountID, string(n.Channel), n.Recipient, n.Subject, n.Message, string(n.Status), n.Attempts, n.NextAttemptAt,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", mapError(err))
	}
	return nil
}

func (r *notificationRepo) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]model.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE notification_logs
		SET attempts = attempts + 1,
		    next_attempt_at = $2,
		    updated_at = now()
		WHERE id IN (
			SELECT id FROM notification_logs
			WHERE status = 'en_attente' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns,
		now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *notificationRepo) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notification_logs
		SET status = 'envoye', sent_at = $2, last_error = NULL, updated_at = now()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notification_logs
		SET status = CASE WHEN $3::timestamptz IS NULL THEN 'echoue' ELSE 'en_attente' END,
		    next_attempt_at = COALESCE($3, next_attempt_at),
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, errMsg, retryAt)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
