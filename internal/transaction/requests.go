package transaction

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/validation"
	"github.com/shopspring/decimal"
)

const (
	merchantCodeMaxLength = 20
	descriptionMaxLength  = 255
)

var merchantCodePattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// Limits are the admission bounds applied to every movement.
type Limits struct {
	Min                   decimal.Decimal
	Max                   decimal.Decimal
	Currencies            []string
	DefaultCurrency       string
	MerchantCodeMinLength int
}

func (l Limits) inRange(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(l.Min) && amount.LessThanOrEqual(l.Max)
}

func (l Limits) validateCommon(errs validation.Errors, amount *decimal.Decimal, currency *string, description string) {
	switch {
	case amount == nil:
		errs.Add("montant", "Le montant est obligatoire.")
	case !l.inRange(*amount):
		errs.Add("montant", fmt.Sprintf("Le montant doit être compris entre %s et %s.", l.Min.String(), l.Max.String()))
	case !amount.Equal(amount.Round(2)):
		errs.Add("montant", "Le montant ne peut pas avoir plus de deux décimales.")
	}

	if *currency == "" {
		*currency = l.DefaultCurrency
	}
	*currency = strings.ToUpper(*currency)
	if !slices.Contains(l.Currencies, *currency) {
		errs.Add("devise", fmt.Sprintf("La devise doit être l'une des suivantes: %s.", strings.Join(l.Currencies, ", ")))
	}

	if len([]rune(description)) > descriptionMaxLength {
		errs.Add("description", fmt.Sprintf("La description ne peut pas dépasser %d caractères.", descriptionMaxLength))
	}
}

// PaymentRequest is a payment to a merchant code or a phone number.
type PaymentRequest struct {
	Amount      *decimal.Decimal
	Method      model.PaymentMethod
	Recipient   string
	Currency    string
	Description string
	Metadata    model.Metadata
}

// Validate checks the request shape, defaulting the currency. Merchant code
// length and recipient phone format are settlement checks, not shape checks.
func (r *PaymentRequest) Validate(l Limits) error {
	errs := validation.Errors{}
	l.validateCommon(errs, r.Amount, &r.Currency, r.Description)

	r.Recipient = strings.TrimSpace(r.Recipient)
	if !r.Method.Valid() {
		errs.Add("methode_paiement", "La méthode de paiement doit être code_marchand ou numero_telephone.")
	}
	switch {
	case r.Recipient == "":
		errs.Add("destinataire", "Le destinataire est obligatoire.")
	case r.Method == model.MethodMerchantCode:
		if len(r.Recipient) > merchantCodeMaxLength {
			errs.Add("destinataire", fmt.Sprintf("Le code marchand ne peut pas dépasser %d caractères.", merchantCodeMaxLength))
		} else if !merchantCodePattern.MatchString(r.Recipient) {
			errs.Add("destinataire", "Le code marchand ne peut contenir que des lettres majuscules et des chiffres.")
		}
	case r.Method == model.MethodPhoneNumber:
		r.Recipient = model.NormalizePhone(r.Recipient)
	}
	return errs.Err()
}

// TransferRequest is a transfer to another account addressed by phone.
type TransferRequest struct {
	Amount      *decimal.Decimal
	Recipient   string
	Currency    string
	Description string
	Metadata    model.Metadata
}

// Validate checks the request shape for a sender with phone senderPhone.
func (r *TransferRequest) Validate(l Limits, senderPhone string) error {
	errs := validation.Errors{}
	l.validateCommon(errs, r.Amount, &r.Currency, r.Description)

	r.Recipient = model.NormalizePhone(r.Recipient)
	switch {
	case r.Recipient == "":
		errs.Add("destinataire", "Le destinataire est obligatoire.")
	case !model.ValidPhone(r.Recipient):
		errs.Add("destinataire", "Le numéro du destinataire doit être au format +221XXXXXXXXX.")
	case r.Recipient == senderPhone:
		errs.Add("destinataire", "Vous ne pouvez pas effectuer un transfert vers votre propre numéro.")
	}
	return errs.Err()
}
