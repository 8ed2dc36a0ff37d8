package transaction

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/balance"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/repo"
)

// memLedger is an in-memory TransactionRepo. WithinTx holds a single lock for
// the whole unit of work and discards its writes when fn fails.
type memLedger struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]model.Account
	rows     []model.Transaction
	clock    func() time.Time
	// hiddenRefs makes ReferenceExists lie, to exercise the unique-constraint retry.
	hiddenRefs map[string]bool
}

func newMemLedger(accounts ...model.Account) *memLedger {
	l := &memLedger{
		accounts:   map[uuid.UUID]model.Account{},
		clock:      time.Now,
		hiddenRefs: map[string]bool{},
	}
	for _, a := range accounts {
		l.accounts[a.ID] = a
	}
	return l
}

func (l *memLedger) WithinTx(ctx context.Context, fn func(tx repo.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	work := &memTx{l: l, rows: cloneRows(l.rows)}
	if err := fn(work); err != nil {
		return err
	}
	l.rows = work.rows
	return nil
}

func cloneRows(rows []model.Transaction) []model.Transaction {
	out := make([]model.Transaction, len(rows))
	for i, r := range rows {
		r.Metadata = r.Metadata.Clone()
		out[i] = r
	}
	return out
}

func (l *memLedger) Totals(_ context.Context, accountID uuid.UUID) (model.LedgerTotals, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return totalsFor(l.rows, accountID), nil
}

func totalsFor(rows []model.Transaction, accountID uuid.UUID) model.LedgerTotals {
	var own []model.Transaction
	for _, r := range rows {
		if r.AccountID == accountID {
			own = append(own, r)
		}
	}
	return balance.Totals(own)
}

func (l *memLedger) List(_ context.Context, accountID uuid.UUID, f model.TransactionFilter) ([]model.Transaction, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Transaction
	for _, r := range l.rows {
		if r.AccountID != accountID {
			continue
		}
		if f.Type != nil && r.Type != *f.Type {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (l *memLedger) GetByReference(_ context.Context, accountID uuid.UUID, ref string) (model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.rows {
		if r.Reference == ref && r.AccountID == accountID {
			return r, nil
		}
	}
	return model.Transaction{}, repo.ErrNotFound
}

func (l *memLedger) ListStale(_ context.Context, before time.Time, limit int) ([]model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Transaction
	for _, r := range l.rows {
		if r.Status.InFlight() && r.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *memLedger) byRef(ref string) (model.Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.rows {
		if r.Reference == ref {
			return r, true
		}
	}
	return model.Transaction{}, false
}

func (l *memLedger) all() []model.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneRows(l.rows)
}

type memTx struct {
	l    *memLedger
	rows []model.Transaction
}

func (t *memTx) LockAccount(_ context.Context, id uuid.UUID) (model.Account, error) {
	a, ok := t.l.accounts[id]
	if !ok {
		return model.Account{}, repo.ErrNotFound
	}
	return a, nil
}

func (t *memTx) GetAccountByPhone(_ context.Context, phone string) (model.Account, error) {
	for _, a := range t.l.accounts {
		if a.Phone == phone {
			return a, nil
		}
	}
	return model.Account{}, repo.ErrNotFound
}

func (t *memTx) ReferenceExists(_ context.Context, ref string) (bool, error) {
	if t.l.hiddenRefs[ref] {
		return false, nil
	}
	for _, r := range t.rows {
		if r.Reference == ref {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) Insert(_ context.Context, txn *model.Transaction) error {
	for _, r := range t.rows {
		if r.Reference == txn.Reference {
			return &repo.ConflictError{Constraint: repo.ConstraintReference, Err: fmt.Errorf("duplicate %s", txn.Reference)}
		}
	}
	now := t.l.clock()
	txn.ID = uuid.New()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	if txn.Metadata == nil {
		txn.Metadata = model.Metadata{}
	}
	row := *txn
	row.Metadata = txn.Metadata.Clone()
	t.rows = append(t.rows, row)
	return nil
}

func (t *memTx) Transition(_ context.Context, id uuid.UUID, to model.TransactionStatus, executedAt *time.Time, meta model.Metadata) (model.Transaction, error) {
	for i, r := range t.rows {
		if r.ID != id {
			continue
		}
		if !slices.Contains(model.SourcesFor(to), r.Status) {
			return model.Transaction{}, fmt.Errorf("%w: %s to %s", repo.ErrInvalidTransition, r.Status, to)
		}
		r.Status = to
		if executedAt != nil {
			at := *executedAt
			r.ExecutedAt = &at
		}
		r.Metadata = r.Metadata.Clone()
		for k, v := range meta {
			r.Metadata[k] = v
		}
		r.UpdatedAt = t.l.clock()
		t.rows[i] = r
		return r, nil
	}
	return model.Transaction{}, repo.ErrInvalidTransition
}

func (t *memTx) Totals(_ context.Context, accountID uuid.UUID) (model.LedgerTotals, error) {
	return totalsFor(t.rows, accountID), nil
}
