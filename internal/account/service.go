// Package account registers mobile-money accounts.
package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/auth"
	"github.com/mobilemoney/server/internal/events"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/notify"
	"github.com/mobilemoney/server/internal/repo"
	"github.com/mobilemoney/server/internal/validation"
	"github.com/shopspring/decimal"
)

const (
	passwordMinLength = 8
	fieldMaxLength    = 255
	maxGenerateTries  = 10
	clientIDAlphabet  = "ABCDEF0123456789"
)

var (
	namePattern          = regexp.MustCompile(`^[\p{L}\s\-]+$`)
	accountNumberPattern = regexp.MustCompile(`^OM\d{10,12}$`)
)

// Notifier queues SMS and email for an account.
type Notifier interface {
	Enqueue(ctx context.Context, accountID uuid.UUID, phone, message string) error
	EnqueueEmail(ctx context.Context, accountID uuid.UUID, address, subject, body string) error
}

// RegisterRequest carries the registration form.
type RegisterRequest struct {
	Name           string
	Email          string
	Phone          string
	Password       string
	ClientID       string
	AccountNumber  string
	Kind           model.AccountKind
	Status         model.AccountStatus
	MerchantCode   string
	OpeningBalance *decimal.Decimal
}

// Service registers accounts.
type Service struct {
	accounts repo.AccountRepo
	hasher   auth.PasswordHasher
	notifier Notifier
	events   events.Publisher
	logger   *slog.Logger
	rand     io.Reader
}

// NewService creates a new account Service
func NewService(accounts repo.AccountRepo, hasher auth.PasswordHasher, notifier Notifier, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		accounts: accounts,
		hasher:   hasher,
		notifier: notifier,
		events:   publisher,
		logger:   logger,
		rand:     rand.Reader,
	}
}

// Normalize trims the form and normalizes the phone number.
func (r *RegisterRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Phone = model.NormalizePhone(r.Phone)
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.AccountNumber = strings.TrimSpace(r.AccountNumber)
	r.MerchantCode = strings.TrimSpace(r.MerchantCode)
	if r.Kind == "" {
		r.Kind = model.AccountKindCurrent
	}
	if r.Status == "" {
		r.Status = model.AccountStatusActive
	}
}

// Validate checks the normalized form.
func (r *RegisterRequest) Validate() error {
	errs := validation.Errors{}

	switch {
	case r.Name == "":
		errs.Add("nom", "Le nom est obligatoire.")
	case len(r.Name) > fieldMaxLength:
		errs.Add("nom", "Le nom ne peut pas dépasser 255 caractères.")
	case !namePattern.MatchString(r.Name):
		errs.Add("nom", "Le nom ne peut contenir que des lettres, espaces et tirets.")
	}

	if r.Email == "" {
		errs.Add("email", "L'email est obligatoire.")
	} else if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email || len(r.Email) > fieldMaxLength {
		errs.Add("email", "L'email doit être valide.")
	}

	if r.Phone == "" {
		errs.Add("telephone", "Le numéro de téléphone est obligatoire.")
	} else if !model.ValidPhone(r.Phone) {
		errs.Add("telephone", "Le numéro de téléphone doit être au format sénégalais (+221 + 77/78/70/76/75 + 7 chiffres).")
	}

	if len(r.Password) < passwordMinLength {
		errs.Add("password", "Le mot de passe doit contenir au moins 8 caractères.")
	}
	if len(r.ClientID) > fieldMaxLength {
		errs.Add("id_client", "L'ID client ne peut pas dépasser 255 caractères.")
	}
	if r.AccountNumber != "" && !accountNumberPattern.MatchString(r.AccountNumber) {
		errs.Add("numero_compte", "Le numéro de compte doit être au format OM suivi de 10 à 12 chiffres.")
	}
	if !r.Kind.Valid() {
		errs.Add("type_compte", "Le type de compte doit être: courant, epargne ou entreprise.")
	}
	if !r.Status.Valid() {
		errs.Add("statut_compte", "Le statut doit être: actif, inactif, bloque ou suspendu.")
	}
	if len(r.MerchantCode) > 20 {
		errs.Add("code_marchand", "Le code marchand ne peut pas dépasser 20 caractères.")
	}
	if r.OpeningBalance != nil && r.OpeningBalance.IsNegative() {
		errs.Add("solde", "Le solde initial ne peut pas être négatif.")
	}
	return errs.Err()
}

// conflictFields maps unique constraints to the form field and message reported.
var conflictFields = map[string][2]string{
	repo.ConstraintClientID:      {"id_client", "Cet ID client existe déjà."},
	repo.ConstraintAccountNumber: {"numero_compte", "Ce numéro de compte existe déjà."},
	repo.ConstraintEmail:         {"email", "Cet email existe déjà."},
	repo.ConstraintPhone:         {"telephone", "Ce numéro de téléphone est déjà utilisé."},
}

// Register validates the form, creates the account and queues the welcome SMS.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (model.Account, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return model.Account{}, err
	}

	clientID := req.ClientID
	if clientID == "" {
		id, err := s.unique(ctx, s.newClientID, s.accounts.ClientIDExists)
		if err != nil {
			return model.Account{}, err
		}
		clientID = id
	}
	number := req.AccountNumber
	if number == "" {
		n, err := s.unique(ctx, s.newAccountNumber, s.accounts.AccountNumberExists)
		if err != nil {
			return model.Account{}, err
		}
		number = n
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.Account{}, fmt.Errorf("hash password: %w", err)
	}

	a := model.Account{
		ClientID:       clientID,
		AccountNumber:  number,
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		Kind:           req.Kind,
		Status:         req.Status,
		OpeningBalance: decimal.Zero,
		PasswordHash:   hash,
	}
	if req.OpeningBalance != nil {
		a.OpeningBalance = req.OpeningBalance.Round(2)
	}
	if req.MerchantCode != "" {
		code := req.MerchantCode
		a.MerchantCode = &code
	}

	if err := s.accounts.Create(ctx, &a); err != nil {
		if c, ok := repo.ConstraintOf(err); ok {
			if f, known := conflictFields[c]; known {
				errs := validation.Errors{}
				errs.Add(f[0], f[1])
				return model.Account{}, errs
			}
		}
		return model.Account{}, fmt.Errorf("create account: %w", err)
	}

	s.logger.InfoContext(ctx, "account created", "account_id", a.ID, "phone", model.MaskPhone(a.Phone))
	if err := s.notifier.Enqueue(ctx, a.ID, a.Phone, notify.WelcomeMessage(a)); err != nil {
		s.logger.WarnContext(ctx, "queue welcome sms failed", "account_id", a.ID, "error", err)
	}
	subject, body := notify.WelcomeEmail(a)
	if err := s.notifier.EnqueueEmail(ctx, a.ID, a.Email, subject, body); err != nil {
		s.logger.WarnContext(ctx, "queue welcome email failed", "account_id", a.ID, "error", err)
	}
	if err := s.events.Publish(ctx, events.AccountCreated, events.AccountEvent{
		AccountID:     a.ID,
		ClientID:      a.ClientID,
		AccountNumber: a.AccountNumber,
		Phone:         a.Phone,
		Timestamp:     time.Now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "publish account.created failed", "account_id", a.ID, "error", err)
	}
	return a, nil
}

func (s *Service) unique(ctx context.Context, gen func() (string, error), exists func(context.Context, string) (bool, error)) (string, error) {
	for i := 0; i < maxGenerateTries; i++ {
		candidate, err := gen()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", errors.New("could not generate a free identifier")
}

// newClientID returns CLI- followed by 6 uppercase hex characters.
func (s *Service) newClientID() (string, error) {
	var b strings.Builder
	b.WriteString("CLI-")
	for i := 0; i < 6; i++ {
		n, err := rand.Int(s.rand, big.NewInt(int64(len(clientIDAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generate client id: %w", err)
		}
		b.WriteByte(clientIDAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// newAccountNumber returns OM followed by 10 digits, the first non-zero.
func (s *Service) newAccountNumber() (string, error) {
	n, err := rand.Int(s.rand, big.NewInt(9_000_000_000))
	if err != nil {
		return "", fmt.Errorf("generate account number: %w", err)
	}
	return fmt.Sprintf("OM%d", n.Int64()+1_000_000_000), nil
}
