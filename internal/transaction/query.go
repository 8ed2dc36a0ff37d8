package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/balance"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/repo"
	"github.com/shopspring/decimal"
)

// Paging defaults for history listings.
const (
	DefaultPerPage = 15
	MaxPerPage     = 100
	RecentCount    = 5
)

// Page is one page of an account's history.
type Page struct {
	Transactions []model.Transaction
	Page         int
	PerPage      int
	Total        int
	LastPage     int
}

// List returns the account's transactions newest first.
func (e *Engine) List(ctx context.Context, accountID uuid.UUID, filter model.TransactionFilter) (Page, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = DefaultPerPage
	}
	if filter.PerPage > MaxPerPage {
		filter.PerPage = MaxPerPage
	}

	rows, total, err := e.store.List(ctx, accountID, filter)
	if err != nil {
		return Page{}, fmt.Errorf("list transactions: %w", err)
	}
	lastPage := (total + filter.PerPage - 1) / filter.PerPage
	if lastPage < 1 {
		lastPage = 1
	}
	return Page{
		Transactions: rows,
		Page:         filter.Page,
		PerPage:      filter.PerPage,
		Total:        total,
		LastPage:     lastPage,
	}, nil
}

// Recent returns the account's latest transactions for the dashboard.
func (e *Engine) Recent(ctx context.Context, accountID uuid.UUID) ([]model.Transaction, error) {
	page, err := e.List(ctx, accountID, model.TransactionFilter{Page: 1, PerPage: RecentCount})
	if err != nil {
		return nil, err
	}
	return page.Transactions, nil
}

// Get returns the transaction with reference when it belongs to accountID.
// Unknown and foreign references are indistinguishable.
func (e *Engine) Get(ctx context.Context, accountID uuid.UUID, reference string) (model.Transaction, error) {
	txn, err := e.store.GetByReference(ctx, accountID, reference)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Transaction{}, ErrNotFound
	}
	if err != nil {
		return model.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return txn, nil
}

// Balance derives the account's settled balance from the ledger.
func (e *Engine) Balance(ctx context.Context, account model.Account) (decimal.Decimal, error) {
	totals, err := e.store.Totals(ctx, account.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance: %w", err)
	}
	return balance.Compute(account.OpeningBalance, totals), nil
}
