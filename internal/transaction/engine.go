// Package transaction turns payment and transfer intents into terminal ledger rows.
//
// A movement runs in three steps. Accept locks the sender, runs admission and
// commits an en_attente row. Settle runs the method checks, marks the row soumis
// and calls the rail with no database transaction open. Finalize commits reussi
// (with the recipient's credit row for transfers) or echoue with the reason.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/balance"
	"github.com/mobilemoney/server/internal/events"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/notify"
	"github.com/mobilemoney/server/internal/repo"
)

const maxInsertAttempts = 3

// Notifier queues an SMS for an account.
type Notifier interface {
	Enqueue(ctx context.Context, accountID uuid.UUID, phone, message string) error
}

// Engine processes payments and transfers against the ledger.
type Engine struct {
	store    repo.TransactionRepo
	rail     Settler
	notifier Notifier
	events   events.Publisher
	limits   Limits
	refs     *ReferenceGenerator
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a new Engine
func NewEngine(
	store repo.TransactionRepo,
	rail Settler,
	notifier Notifier,
	publisher events.Publisher,
	limits Limits,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:    store,
		rail:     rail,
		notifier: notifier,
		events:   publisher,
		limits:   limits,
		refs:     NewReferenceGenerator(),
		logger:   logger,
		now:      time.Now,
	}
}

// movement is an accepted intent on its way to a terminal state.
type movement struct {
	txn       model.Transaction
	sender    model.Account
	recipient *model.Account
}

// ProcessPayment validates, accepts and settles a payment. On a settlement
// failure the failed row is returned with the error.
func (e *Engine) ProcessPayment(ctx context.Context, account model.Account, req PaymentRequest) (model.Transaction, error) {
	if err := req.Validate(e.limits); err != nil {
		return model.Transaction{}, err
	}
	if !account.IsActive() {
		return model.Transaction{}, ErrAccountNotActive
	}

	method := req.Method
	description := req.Description
	if description == "" {
		if method == model.MethodMerchantCode {
			description = "Paiement marchand " + req.Recipient
		} else {
			description = "Paiement vers " + req.Recipient
		}
	}
	draft := model.Transaction{
		AccountID:   account.ID,
		Type:        model.TypePayment,
		Direction:   model.Debit,
		Method:      &method,
		Recipient:   req.Recipient,
		Amount:      *req.Amount,
		Currency:    req.Currency,
		Description: description,
		Metadata:    req.Metadata.Clone(),
	}

	m, err := e.accept(ctx, account.ID, draft, "")
	if err != nil {
		return m.txn, err
	}
	return e.settle(ctx, m)
}

// ProcessTransfer validates, accepts and settles a transfer to another account.
func (e *Engine) ProcessTransfer(ctx context.Context, account model.Account, req TransferRequest) (model.Transaction, error) {
	if err := req.Validate(e.limits, account.Phone); err != nil {
		return model.Transaction{}, err
	}
	if !account.IsActive() {
		return model.Transaction{}, ErrAccountNotActive
	}

	description := req.Description
	if description == "" {
		description = "Transfert vers " + req.Recipient
	}
	draft := model.Transaction{
		AccountID:   account.ID,
		Type:        model.TypeTransfer,
		Direction:   model.Debit,
		Recipient:   req.Recipient,
		Amount:      *req.Amount,
		Currency:    req.Currency,
		Description: description,
		Metadata:    req.Metadata.Clone(),
	}

	m, err := e.accept(ctx, account.ID, draft, req.Recipient)
	if err != nil {
		return m.txn, err
	}
	return e.settle(ctx, m)
}

// accept commits the pending row. Admission failures are committed as a failed
// row in the same unit of work and returned with the row.
func (e *Engine) accept(ctx context.Context, accountID uuid.UUID, draft model.Transaction, recipientPhone string) (movement, error) {
	var m movement
	var rejected error
	err := e.store.WithinTx(ctx, func(tx repo.LedgerTx) error {
		rejected = nil
		sender, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if !sender.IsActive() {
			return ErrAccountNotActive
		}
		m = movement{txn: draft, sender: sender}
		m.txn.Metadata = draft.Metadata.Clone()
		m.txn.Status = model.StatusPending

		if recipientPhone != "" {
			recipient, err := tx.GetAccountByPhone(ctx, recipientPhone)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				rejected = ErrRecipientNotFound
			case err != nil:
				return fmt.Errorf("lookup recipient: %w", err)
			default:
				m.recipient = &recipient
				m.txn.Metadata[model.MetaRecipientID] = recipient.ID.String()
				m.txn.Metadata[model.MetaRecipientName] = recipient.Name
			}
		}

		if rejected == nil {
			totals, err := tx.Totals(ctx, accountID)
			if err != nil {
				return err
			}
			if balance.Available(sender.OpeningBalance, totals).LessThan(m.txn.Amount) {
				rejected = ErrInsufficientFunds
			}
		}

		if err := e.insert(ctx, tx, &m.txn); err != nil {
			return err
		}
		if rejected == nil {
			return nil
		}
		failed, err := tx.Transition(ctx, m.txn.ID, model.StatusFailed, nil, model.Metadata{
			model.MetaFailureReason: rejected.Error(),
		})
		if err != nil {
			return err
		}
		m.txn = failed
		return nil
	})
	if err != nil {
		return movement{}, err
	}

	if rejected != nil {
		e.logger.InfoContext(ctx, "transaction rejected at admission",
			"reference", m.txn.Reference, "type", m.txn.Type, "reason", rejected.Error())
		e.publish(ctx, events.TransactionFailed, m.txn)
		return m, rejected
	}
	e.publish(ctx, events.TransactionAccepted, m.txn)
	return m, nil
}

// insert assigns a reference and writes the row, regenerating the reference
// when the unique constraint rejects it.
func (e *Engine) insert(ctx context.Context, tx repo.LedgerTx, txn *model.Transaction) error {
	for attempt := 1; ; attempt++ {
		ref, err := e.refs.Next(ctx, tx)
		if err != nil {
			return err
		}
		txn.Reference = ref
		err = tx.Insert(ctx, txn)
		if err == nil {
			return nil
		}
		if c, ok := repo.ConstraintOf(err); ok && c == repo.ConstraintReference && attempt < maxInsertAttempts {
			e.logger.WarnContext(ctx, "reference collision; regenerating", "reference", ref)
			continue
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
}

// settle runs settlement checks and the rail, then finalizes. The caller's
// cancellation does not stop finalize once the rail has been called.
func (e *Engine) settle(ctx context.Context, m movement) (model.Transaction, error) {
	if err := e.limits.checkSettlement(m.txn); err != nil {
		return e.fail(ctx, m, err)
	}

	err := e.store.WithinTx(ctx, func(tx repo.LedgerTx) error {
		submitted, err := tx.Transition(ctx, m.txn.ID, model.StatusSubmitted, nil, nil)
		if err != nil {
			return err
		}
		m.txn = submitted
		return nil
	})
	if errors.Is(err, repo.ErrInvalidTransition) {
		return m.txn, ErrSettlementTimeout
	}
	if err != nil {
		return m.txn, fmt.Errorf("submit transaction: %w", err)
	}

	railErr := e.rail.Settle(ctx, m.txn)
	ctx = context.WithoutCancel(ctx)
	if railErr != nil {
		if !errors.Is(railErr, ErrRailRejected) {
			railErr = fmt.Errorf("%w: %v", ErrRailRejected, railErr)
		}
		return e.fail(ctx, m, railErr)
	}
	return e.succeed(ctx, m)
}

func (e *Engine) succeed(ctx context.Context, m movement) (model.Transaction, error) {
	var credit *model.Transaction
	err := e.store.WithinTx(ctx, func(tx repo.LedgerTx) error {
		credit = nil
		executedAt := e.now()
		done, err := tx.Transition(ctx, m.txn.ID, model.StatusSuccess, &executedAt, nil)
		if err != nil {
			return err
		}
		if m.recipient != nil {
			c := mirrorCredit(done, m.sender, *m.recipient)
			if err := e.insert(ctx, tx, &c); err != nil {
				return err
			}
			credit = &c
		}
		m.txn = done
		return nil
	})
	if errors.Is(err, repo.ErrInvalidTransition) {
		// The stale sweep got there first.
		return m.txn, ErrSettlementTimeout
	}
	if err != nil {
		return m.txn, fmt.Errorf("finalize transaction: %w", err)
	}

	e.logger.InfoContext(ctx, "transaction settled",
		"reference", m.txn.Reference, "type", m.txn.Type, "amount", m.txn.Amount.String())
	e.notify(ctx, m.sender.ID, m.sender.Phone, notify.TransactionMessage(m.txn))
	if credit != nil {
		e.notify(ctx, m.recipient.ID, m.recipient.Phone, notify.TransferReceivedMessage(*credit, m.sender.Name))
	}
	e.publish(ctx, events.TransactionSucceeded, m.txn)
	return m.txn, nil
}

// fail moves the row to echoue with the reason and returns cause.
func (e *Engine) fail(ctx context.Context, m movement, cause error) (model.Transaction, error) {
	err := e.store.WithinTx(ctx, func(tx repo.LedgerTx) error {
		failed, err := tx.Transition(ctx, m.txn.ID, model.StatusFailed, nil, model.Metadata{
			model.MetaFailureReason: cause.Error(),
		})
		if err != nil {
			return err
		}
		m.txn = failed
		return nil
	})
	if err != nil && !errors.Is(err, repo.ErrInvalidTransition) {
		e.logger.ErrorContext(ctx, "record transaction failure",
			"reference", m.txn.Reference, "cause", cause, "error", err)
		return m.txn, fmt.Errorf("record failure of %s: %w", m.txn.Reference, errors.Join(cause, err))
	}

	e.logger.InfoContext(ctx, "transaction failed",
		"reference", m.txn.Reference, "type", m.txn.Type, "reason", cause.Error())
	e.publish(ctx, events.TransactionFailed, m.txn)
	return m.txn, cause
}

// mirrorCredit builds the recipient's side of a settled transfer.
func mirrorCredit(debit model.Transaction, sender, recipient model.Account) model.Transaction {
	senderID := sender.ID
	linked := debit.Reference
	return model.Transaction{
		AccountID:             recipient.ID,
		Type:                  model.TypeTransfer,
		Direction:             model.Credit,
		Recipient:             recipient.Phone,
		CounterpartyAccountID: &senderID,
		LinkedReference:       &linked,
		Amount:                debit.Amount,
		Currency:              debit.Currency,
		Status:                model.StatusSuccess,
		Description:           "Transfert reçu de " + sender.Phone,
		Metadata: model.Metadata{
			model.MetaSenderID:    sender.ID.String(),
			model.MetaSenderName:  sender.Name,
			model.MetaSenderPhone: sender.Phone,
		},
		ExecutedAt: debit.ExecutedAt,
	}
}

func (e *Engine) notify(ctx context.Context, accountID uuid.UUID, phone, message string) {
	if err := e.notifier.Enqueue(ctx, accountID, phone, message); err != nil {
		e.logger.WarnContext(ctx, "queue notification failed", "phone", model.MaskPhone(phone), "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, routingKey string, txn model.Transaction) {
	ev := events.TransactionEvent{
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		AccountID:     txn.AccountID,
		Type:          string(txn.Type),
		Amount:        balance.Format(txn.Amount),
		Currency:      txn.Currency,
		Status:        string(txn.Status),
		Reason:        txn.FailureReason(),
		Timestamp:     e.now(),
	}
	if err := e.events.Publish(ctx, routingKey, ev); err != nil {
		e.logger.WarnContext(ctx, "publish event failed", "routing_key", routingKey, "error", err)
	}
}
