// Package jobs runs the periodic maintenance work: expired OTP purge,
// stale settlement sweep and notification retry.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// OtpPurger deletes expired and used OTP credentials.
type OtpPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// SettlementSweeper fails transactions stuck before a terminal state.
type SettlementSweeper interface {
	SweepStale(ctx context.Context, timeout time.Duration) (int, error)
}

// NotificationFlusher delivers queued notifications that are due.
type NotificationFlusher interface {
	Flush(ctx context.Context) (int, error)
}

const defaultRunTimeout = 30 * time.Second

// Jobs holds the job implementations.
type Jobs struct {
	otps              OtpPurger
	sweeper           SettlementSweeper
	flusher           NotificationFlusher
	settlementTimeout time.Duration
	runTimeout        time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// NewJobs creates the job set.
func NewJobs(otps OtpPurger, sweeper SettlementSweeper, flusher NotificationFlusher, settlementTimeout time.Duration, logger *slog.Logger) *Jobs {
	return &Jobs{
		otps:              otps,
		sweeper:           sweeper,
		flusher:           flusher,
		settlementTimeout: settlementTimeout,
		runTimeout:        defaultRunTimeout,
		logger:            logger,
		now:               time.Now,
	}
}

// PurgeExpiredOTPs removes credentials that can no longer be verified.
func (j *Jobs) PurgeExpiredOTPs() {
	ctx, cancel := context.WithTimeout(context.Background(), j.runTimeout)
	defer cancel()

	n, err := j.otps.PurgeExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("otp purge failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("purged expired otp credentials", "count", n)
	}
}

// SweepStaleSettlements fails transactions older than the settlement timeout.
func (j *Jobs) SweepStaleSettlements() {
	ctx, cancel := context.WithTimeout(context.Background(), j.runTimeout)
	defer cancel()

	n, err := j.sweeper.SweepStale(ctx, j.settlementTimeout)
	if err != nil {
		j.logger.Error("settlement sweep failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Warn("timed out stale transactions", "count", n)
	}
}

// FlushNotifications retries due notifications.
func (j *Jobs) FlushNotifications() {
	ctx, cancel := context.WithTimeout(context.Background(), j.runTimeout)
	defer cancel()

	n, err := j.flusher.Flush(ctx)
	if err != nil {
		j.logger.Error("notification flush failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Debug("flushed notifications", "count", n)
	}
}
