package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/repo"
	"github.com/mobilemoney/server/internal/validation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAccountRepo struct {
	mu       sync.Mutex
	accounts []model.Account
}

func (r *memAccountRepo) Create(_ context.Context, a *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.accounts {
		switch {
		case e.ClientID == a.ClientID:
			return &repo.ConflictError{Constraint: repo.ConstraintClientID}
		case e.AccountNumber == a.AccountNumber:
			return &repo.ConflictError{Constraint: repo.ConstraintAccountNumber}
		case e.Email == a.Email:
			return &repo.ConflictError{Constraint: repo.ConstraintEmail}
		case e.Phone == a.Phone:
			return &repo.ConflictError{Constraint: repo.ConstraintPhone}
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	r.accounts = append(r.accounts, *a)
	return nil
}

func (r *memAccountRepo) GetByID(context.Context, uuid.UUID) (model.Account, error) {
	return model.Account{}, repo.ErrNotFound
}

func (r *memAccountRepo) GetByPhone(context.Context, string) (model.Account, error) {
	return model.Account{}, repo.ErrNotFound
}

func (r *memAccountRepo) ClientIDExists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.ClientID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *memAccountRepo) AccountNumberExists(_ context.Context, n string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.AccountNumber == n {
			return true, nil
		}
	}
	return false, nil
}

func (r *memAccountRepo) SetOTPVerified(context.Context, uuid.UUID, time.Time) error { return nil }

type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "h:" + p, nil }
func (plainHasher) Compare(h, p string) error {
	if h != "h:"+p {
		return errors.New("mismatch")
	}
	return nil
}

type queue struct {
	messages []string
	emails   []string
}

func (q *queue) Enqueue(_ context.Context, _ uuid.UUID, phone, msg string) error {
	q.messages = append(q.messages, phone+"|"+msg)
	return nil
}

func (q *queue) EnqueueEmail(_ context.Context, _ uuid.UUID, address, subject, body string) error {
	q.emails = append(q.emails, address+"|"+subject+"|"+body)
	return nil
}

type keys struct{ published []string }

func (k *keys) Publish(_ context.Context, key string, _ any) error {
	k.published = append(k.published, key)
	return nil
}

func (k *keys) Close() {}

func newService() (*Service, *memAccountRepo, *queue, *keys) {
	r := &memAccountRepo{}
	q := &queue{}
	k := &keys{}
	return NewService(r, plainHasher{}, q, k, slog.New(slog.NewTextHandler(io.Discard, nil))), r, q, k
}

func validRequest() RegisterRequest {
	return RegisterRequest{
		Name:     "Awa Diop",
		Email:    "awa@example.sn",
		Phone:    "77 123 45 67",
		Password: "password123",
	}
}

func TestRegister_GeneratesIdentifiersAndDefaults(t *testing.T) {
	svc, _, q, k := newService()

	a, err := svc.Register(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, "+221771234567", a.Phone)
	assert.Regexp(t, `^CLI-[A-F0-9]{6}$`, a.ClientID)
	assert.Regexp(t, `^OM[1-9]\d{9}$`, a.AccountNumber)
	assert.Equal(t, model.AccountKindCurrent, a.Kind)
	assert.Equal(t, model.AccountStatusActive, a.Status)
	assert.True(t, a.OpeningBalance.IsZero())
	assert.Equal(t, "h:password123", a.PasswordHash)
	assert.Nil(t, a.OTPVerifiedAt)
	require.Len(t, q.messages, 1)
	assert.Contains(t, q.messages[0], "+221771234567|Bienvenue Awa Diop")
	require.Len(t, q.emails, 1)
	assert.True(t, strings.HasPrefix(q.emails[0], "awa@example.sn|Bienvenue sur Mobile Money"))
	assert.Contains(t, q.emails[0], "Numéro de compte : "+a.AccountNumber)
	assert.Equal(t, []string{"account.created"}, k.published)
}

func TestRegister_KeepsProvidedFields(t *testing.T) {
	svc, _, _, _ := newService()
	req := validRequest()
	req.ClientID = "CLI-TEST001"
	req.AccountNumber = "OM123456789012"
	req.Kind = model.AccountKindBusiness
	req.MerchantCode = "SHOP001"
	opening := decimal.RequireFromString("1000.005")
	req.OpeningBalance = &opening

	a, err := svc.Register(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "CLI-TEST001", a.ClientID)
	assert.Equal(t, "OM123456789012", a.AccountNumber)
	assert.Equal(t, model.AccountKindBusiness, a.Kind)
	require.NotNil(t, a.MerchantCode)
	assert.Equal(t, "SHOP001", *a.MerchantCode)
	assert.Equal(t, "1000.01", a.OpeningBalance.StringFixed(2))
}

func TestRegister_ValidationErrors(t *testing.T) {
	svc, r, q, _ := newService()
	negative := decimal.NewFromInt(-1)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Name:           "R2-D2",
		Email:          "not-an-email",
		Phone:          "+33612345678",
		Password:       "short",
		AccountNumber:  "XX1",
		Kind:           "gold",
		Status:         "ferme",
		OpeningBalance: &negative,
	})

	verrs, ok := validation.As(err)
	require.True(t, ok)
	for _, field := range []string{"nom", "email", "telephone", "password", "numero_compte", "type_compte", "statut_compte", "solde"} {
		assert.True(t, verrs.Has(field), field)
	}
	assert.Empty(t, r.accounts)
	assert.Empty(t, q.messages)
	assert.Empty(t, q.emails)
}

func TestRegister_ConflictIsFieldError(t *testing.T) {
	svc, _, _, _ := newService()
	ctx := context.Background()
	_, err := svc.Register(ctx, validRequest())
	require.NoError(t, err)

	dup := validRequest()
	dup.Email = "other@example.sn"
	_, err = svc.Register(ctx, dup)

	verrs, ok := validation.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"Ce numéro de téléphone est déjà utilisé."}, verrs["telephone"])
}
