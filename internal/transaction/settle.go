package transaction

import (
	"context"
	"errors"
	"time"

	"github.com/mobilemoney/server/internal/model"
)

// ErrRailRejected is returned by a rail that declined a transaction.
var ErrRailRejected = errors.New("settlement rejected")

// Settler executes a transaction against the external rail.
type Settler interface {
	Settle(ctx context.Context, txn model.Transaction) error
}

// SimulatedRail accepts every transaction after a fixed delay.
type SimulatedRail struct {
	Delay time.Duration
}

func (r SimulatedRail) Settle(ctx context.Context, _ model.Transaction) error {
	if r.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(r.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkSettlement runs the method-specific checks that fail a pending row.
func (l Limits) checkSettlement(txn model.Transaction) error {
	if !l.inRange(txn.Amount) {
		return ErrAmountOutOfRange
	}
	if txn.Method == nil {
		return nil
	}
	switch *txn.Method {
	case model.MethodMerchantCode:
		if len(txn.Recipient) < l.MerchantCodeMinLength {
			return ErrInvalidMerchantCode
		}
	case model.MethodPhoneNumber:
		if !model.ValidPhone(txn.Recipient) {
			return ErrInvalidRecipientPhone
		}
	}
	return nil
}
