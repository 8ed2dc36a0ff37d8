// Package notify records outbound SMS and email in the notification log and delivers them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/repo"
)

// MaxAttempts bounds delivery attempts of a queued notification.
const MaxAttempts = 3

// Backoff is the wait before retry n (1-based) of a queued notification.
var Backoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

const (
	claimLease = time.Minute
	claimBatch = 50
)

// Dispatcher writes notifications to the outbox and drains it through one Sender per channel.
type Dispatcher struct {
	repo    repo.NotificationRepo
	senders map[model.NotificationChannel]Sender
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a new Dispatcher. A nil email sender leaves queued
// email undeliverable until it exhausts its attempts.
func NewDispatcher(notifications repo.NotificationRepo, sms, email Sender, logger *slog.Logger) *Dispatcher {
	senders := map[model.NotificationChannel]Sender{model.ChannelSMS: sms}
	if email != nil {
		senders[model.ChannelEmail] = email
	}
	return &Dispatcher{
		repo:    notifications,
		senders: senders,
		logger:  logger,
		now:     time.Now,
	}
}

// Enqueue records an SMS for later delivery by Flush.
func (d *Dispatcher) Enqueue(ctx context.Context, accountID uuid.UUID, phone, message string) error {
	return d.enqueue(ctx, &model.Notification{
		AccountID: accountID,
		Channel:   model.ChannelSMS,
		Recipient: phone,
		Message:   message,
	})
}

// EnqueueEmail records an email for later delivery by Flush.
func (d *Dispatcher) EnqueueEmail(ctx context.Context, accountID uuid.UUID, address, subject, body string) error {
	return d.enqueue(ctx, &model.Notification{
		AccountID: accountID,
		Channel:   model.ChannelEmail,
		Recipient: address,
		Subject:   subject,
		Message:   body,
	})
}

func (d *Dispatcher) enqueue(ctx context.Context, n *model.Notification) error {
	n.Status = model.NotificationPending
	n.NextAttemptAt = d.now()
	if err := d.repo.Enqueue(ctx, n); err != nil {
		return fmt.Errorf("enqueue %s notification: %w", n.Channel, err)
	}
	return nil
}

// SendOTP delivers a login code synchronously and logs the single attempt.
// The log row carries the redacted text and is never picked up by Flush.
func (d *Dispatcher) SendOTP(ctx context.Context, account model.Account, code string, ttl time.Duration) error {
	n := &model.Notification{
		AccountID:     account.ID,
		Channel:       model.ChannelSMS,
		Recipient:     account.Phone,
		Message:       OTPMessage(RedactCode(code), ttl),
		Status:        model.NotificationSending,
		Attempts:      1,
		NextAttemptAt: d.now(),
	}
	if err := d.repo.Enqueue(ctx, n); err != nil {
		d.logger.WarnContext(ctx, "record otp notification failed", "error", err)
		n = nil
	}

	sendErr := d.senders[model.ChannelSMS].Send(ctx, Message{To: account.Phone, Body: OTPMessage(code, ttl)})
	if n == nil {
		return sendErr
	}
	if sendErr != nil {
		if err := d.repo.MarkFailed(ctx, n.ID, sendErr.Error(), nil); err != nil {
			d.logger.WarnContext(ctx, "mark otp notification failed", "error", err)
		}
		return sendErr
	}
	if err := d.repo.MarkSent(ctx, n.ID, d.now()); err != nil {
		d.logger.WarnContext(ctx, "mark otp notification sent", "error", err)
	}
	return nil
}

// Flush delivers due notifications. It returns how many were sent.
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	due, err := d.repo.ClaimDue(ctx, d.now(), claimLease, claimBatch)
	if err != nil {
		return 0, fmt.Errorf("claim notifications: %w", err)
	}

	sent := 0
	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		sender, ok := d.senders[n.Channel]
		if !ok {
			d.fail(ctx, n, fmt.Errorf("no sender for channel %q", n.Channel))
			continue
		}
		if err := sender.Send(ctx, Message{To: n.Recipient, Subject: n.Subject, Body: n.Message}); err != nil {
			d.fail(ctx, n, err)
			continue
		}
		if err := d.repo.MarkSent(ctx, n.ID, d.now()); err != nil {
			d.logger.WarnContext(ctx, "mark notification sent", "id", n.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) fail(ctx context.Context, n model.Notification, sendErr error) {
	var retryAt *time.Time
	if n.Attempts < MaxAttempts {
		at := d.now().Add(backoffFor(n.Attempts))
		retryAt = &at
	}
	d.logger.WarnContext(ctx, "notification delivery failed",
		"id", n.ID,
		"channel", n.Channel,
		"to", maskRecipient(n.Recipient),
		"attempt", n.Attempts,
		"final", retryAt == nil,
		"error", sendErr,
	)
	if err := d.repo.MarkFailed(ctx, n.ID, sendErr.Error(), retryAt); err != nil {
		d.logger.WarnContext(ctx, "mark notification failed", "id", n.ID, "error", err)
	}
}

func backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(Backoff) {
		return Backoff[len(Backoff)-1]
	}
	return Backoff[attempt-1]
}
