package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mobilemoney/server/internal/events"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/repo"
)

const sweepBatch = 100

// SweepStale fails every en_attente or soumis row older than timeout. It
// returns how many rows it moved.
func (e *Engine) SweepStale(ctx context.Context, timeout time.Duration) (int, error) {
	stale, err := e.store.ListStale(ctx, e.now().Add(-timeout), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale transactions: %w", err)
	}

	swept := 0
	for _, txn := range stale {
		var failed model.Transaction
		err := e.store.WithinTx(ctx, func(tx repo.LedgerTx) error {
			var err error
			failed, err = tx.Transition(ctx, txn.ID, model.StatusFailed, nil, model.Metadata{
				model.MetaFailureReason: ErrSettlementTimeout.Error(),
			})
			return err
		})
		if errors.Is(err, repo.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return swept, fmt.Errorf("fail stale transaction %s: %w", txn.Reference, err)
		}
		swept++
		e.logger.WarnContext(ctx, "stale transaction failed",
			"reference", failed.Reference, "status_was", txn.Status, "age", e.now().Sub(txn.CreatedAt).String())
		e.publish(ctx, events.TransactionTimedOut, failed)
	}
	return swept, nil
}
