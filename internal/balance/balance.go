// Package balance derives account balances from the ledger. It never writes.
package balance

import (
	"github.com/mobilemoney/server/internal/model"
	"github.com/shopspring/decimal"
)

// Compute returns the settled balance: opening + settled credits - settled debits.
func Compute(opening decimal.Decimal, totals model.LedgerTotals) decimal.Decimal {
	return opening.Add(totals.Credits).Sub(totals.Debits)
}

// Available returns the spendable figure used for admission: the settled
// balance less every debit still in flight.
func Available(opening decimal.Decimal, totals model.LedgerTotals) decimal.Decimal {
	return Compute(opening, totals).Sub(totals.InFlightDebits)
}

// Credits reports whether a row adds to its owner's balance once settled.
func Credits(t model.Transaction) bool {
	switch t.Type {
	case model.TypeDeposit:
		return true
	case model.TypeTransfer:
		return t.Direction == model.Credit
	}
	return false
}

// Debits reports whether a row subtracts from its owner's balance once settled.
func Debits(t model.Transaction) bool {
	switch t.Type {
	case model.TypeWithdrawal, model.TypePayment:
		return true
	case model.TypeTransfer:
		return t.Direction == model.Debit
	}
	return false
}

// Totals folds rows into ledger totals. Only successful rows count as settled;
// pending and submitted debits count as in flight; everything else is ignored.
func Totals(rows []model.Transaction) model.LedgerTotals {
	totals := model.LedgerTotals{
		Credits:        decimal.Zero,
		Debits:         decimal.Zero,
		InFlightDebits: decimal.Zero,
	}
	for _, t := range rows {
		switch {
		case t.Status == model.StatusSuccess && Credits(t):
			totals.Credits = totals.Credits.Add(t.Amount)
		case t.Status == model.StatusSuccess && Debits(t):
			totals.Debits = totals.Debits.Add(t.Amount)
		case t.Status.InFlight() && t.Direction == model.Debit:
			totals.InFlightDebits = totals.InFlightDebits.Add(t.Amount)
		}
	}
	return totals
}

// Format renders an amount with two decimal places, as exposed over the API.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
