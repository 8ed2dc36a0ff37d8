package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mobilemoney/server/internal/db"
	"github.com/mobilemoney/server/internal/model"
)

// ConstraintReference is the unique constraint on transactions.reference.
const ConstraintReference = "transactions_reference_key"

// LedgerTx is the set of operations available inside one unit of work.
type LedgerTx interface {
	// LockAccount loads the account and holds a row lock until the unit of work ends.
	LockAccount(ctx context.Context, id uuid.UUID) (model.Account, error)
	GetAccountByPhone(ctx context.Context, phone string) (model.Account, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	Insert(ctx context.Context, txn *model.Transaction) error
	// Transition moves a row to status when its current status is an allowed source,
	// stamping executedAt if set and merging meta into its metadata.
	Transition(ctx context.Context, id uuid.UUID, status model.TransactionStatus, executedAt *time.Time, meta model.Metadata) (model.Transaction, error)
	Totals(ctx context.Context, accountID uuid.UUID) (model.LedgerTotals, error)
}

// TransactionRepo defines the interface for the transaction ledger.
type TransactionRepo interface {
	// WithinTx runs fn in a single atomic unit of work.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
	Totals(ctx context.Context, accountID uuid.UUID) (model.LedgerTotals, error)
	List(ctx context.Context, accountID uuid.UUID, filter model.TransactionFilter) ([]model.Transaction, int, error)
	GetByReference(ctx context.Context, accountID uuid.UUID, reference string) (model.Transaction, error)
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]model.Transaction, error)
}

type transactionRepo struct {
	db *sql.DB
}

// NewTransactionRepo creates a new TransactionRepo instance
func NewTransactionRepo(database *sql.DB) TransactionRepo {
	return &transactionRepo{db: database}
}

func (r *transactionRepo) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&ledgerTx{q: tx})
	})
}

func (r *transactionRepo) Totals(ctx context.Context, accountID uuid.UUID) (model.LedgerTotals, error) {
	return (&ledgerTx{q: r.db}).Totals(ctx, accountID)
}

const transactionColumns = `
	id, reference, account_id, type, direction, method, recipient, counterparty_account_id,
	linked_reference, amount, currency, status, description, metadata, executed_at, created_at, updated_at`

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var t model.Transaction
	var method, recipient, linkedRef, description sql.NullString
	var counterparty uuid.NullUUID
	var executedAt sql.NullTime
	var metaRaw []byte
	err := row.Scan(
		&t.ID,
		&t.Reference,
		&t.AccountID,
		&t.Type,
		&t.Direction,
		&method,
		&recipient,
		&counterparty,
		&linkedRef,
		&t.Amount,
		&t.Currency,
		&t.Status,
		&description,
		&metaRaw,
		&executedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return model.Transaction{}, mapError(err)
	}
	if method.Valid {
		m := model.PaymentMethod(method.String)
		t.Method = &m
	}
	t.Recipient = recipient.String
	if counterparty.Valid {
		id := counterparty.UUID
		t.CounterpartyAccountID = &id
	}
	if linkedRef.Valid {
		t.LinkedReference = &linkedRef.String
	}
	t.Description = description.String
	if executedAt.Valid {
		at := executedAt.Time
		t.ExecutedAt = &at
	}
	t.Metadata = model.Metadata{}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &t.Metadata); err != nil {
			return model.Transaction{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return t, nil
}

func (r *transactionRepo) List(ctx context.Context, accountID uuid.UUID, f model.TransactionFilter) ([]model.Transaction, int, error) {
	where := []string{"account_id = $1"}
	args := []any{accountID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Type != nil {
		add("type = $%d", string(*f.Type))
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 15
	}
	args = append(args, perPage, f.Offset())
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, clause, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]model.Transaction, 0, perPage)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, total, nil
}

// GetByReference returns the row only when it belongs to accountID.
func (r *transactionRepo) GetByReference(ctx context.Context, accountID uuid.UUID, reference string) (model.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE reference = $1 AND account_id = $2`,
		reference, accountID))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("query transaction: %w", err)
	}
	return t, nil
}

// ListStale returns non-terminal rows created before the cutoff, oldest first.
func (r *transactionRepo) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status IN ('en_attente', 'soumis') AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale transactions: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type ledgerTx struct {
	q db.Querier
}

func (l *ledgerTx) LockAccount(ctx context.Context, id uuid.UUID) (model.Account, error) {
	return getAccount(ctx, l.q, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
}

func (l *ledgerTx) GetAccountByPhone(ctx context.Context, phone string) (model.Account, error) {
	return getAccount(ctx, l.q, `SELECT `+accountColumns+` FROM accounts WHERE phone = $1`, phone)
}

func (l *ledgerTx) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var found bool
	err := l.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE reference = $1)`, reference).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("reference exists: %w", err)
	}
	return found, nil
}

// Insert writes the row and fills in its id and timestamps. A duplicate
// reference surfaces as a *ConflictError on ConstraintReference.
func (l *ledgerTx) Insert(ctx context.Context, t *model.Transaction) error {
	meta := t.Metadata
	if meta == nil {
		meta = model.Metadata{}
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var method *string
	if t.Method != nil {
		m := string(*t.Method)
		method = &m
	}

	// A savepoint keeps the surrounding unit of work usable after a unique violation.
	if _, err := l.q.ExecContext(ctx, `SAVEPOINT insert_transaction`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	err = l.q.QueryRowContext(ctx, `
		INSERT INTO transactions (reference, account_id, type, direction, method, recipient,
		                          counterparty_account_id, linked_reference, amount, currency,
		                          status, description, metadata, executed_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14)
		RETURNING id, created_at, updated_at
	`, t.Reference, t.AccountID, string(t.Type), string(t.Direction), method, t.Recipient,
		t.CounterpartyAccountID, t.LinkedReference, t.Amount, t.Currency,
		string(t.Status), t.Description, metaRaw, t.ExecutedAt,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if _, rbErr := l.q.ExecContext(ctx, `ROLLBACK TO SAVEPOINT insert_transaction`); rbErr != nil {
			return fmt.Errorf("rollback to savepoint: %w", rbErr)
		}
		return fmt.Errorf("insert transaction: %w", mapError(err))
	}
	if _, err := l.q.ExecContext(ctx, `RELEASE SAVEPOINT insert_transaction`); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	t.Metadata = meta
	return nil
}

func (l *ledgerTx) Transition(ctx context.Context, id uuid.UUID, status model.TransactionStatus, executedAt *time.Time, meta model.Metadata) (model.Transaction, error) {
	sources := model.SourcesFor(status)
	if len(sources) == 0 {
		return model.Transaction{}, fmt.Errorf("%w: nothing transitions to %s", ErrInvalidTransition, status)
	}
	from := make([]string, len(sources))
	for i, s := range sources {
		from[i] = string(s)
	}
	if meta == nil {
		meta = model.Metadata{}
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("encode metadata: %w", err)
	}

	t, err := scanTransaction(l.q.QueryRowContext(ctx, `
		UPDATE transactions
		SET status = $2,
		    executed_at = COALESCE($3, executed_at),
		    metadata = metadata || $4::jsonb,
		    updated_at = now()
		WHERE id = $1 AND status = ANY($5)
		RETURNING `+transactionColumns,
		id, string(status), executedAt, metaRaw, pq.Array(from)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Transaction{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, id, status)
		}
		return model.Transaction{}, fmt.Errorf("transition transaction: %w", err)
	}
	return t, nil
}

// Totals aggregates settled credits and debits, and in-flight debits, for the account.
func (l *ledgerTx) Totals(ctx context.Context, accountID uuid.UUID) (model.LedgerTotals, error) {
	var totals model.LedgerTotals
	err := l.q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (
				WHERE status = 'reussi'
				  AND (type = 'depot' OR (type = 'transfert' AND direction = 'credit'))), 0),
			COALESCE(SUM(amount) FILTER (
				WHERE status = 'reussi'
				  AND (type IN ('retrait', 'paiement') OR (type = 'transfert' AND direction = 'debit'))), 0),
			COALESCE(SUM(amount) FILTER (
				WHERE status IN ('en_attente', 'soumis') AND direction = 'debit'), 0)
		FROM transactions
		WHERE account_id = $1
	`, accountID).Scan(&totals.Credits, &totals.Debits, &totals.InFlightDebits)
	if err != nil {
		return model.LedgerTotals{}, fmt.Errorf("ledger totals: %w", err)
	}
	return totals, nil
}
