package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/mobilemoney/server/internal/model"
)

// WelcomeMessage is sent once an account is registered.
func WelcomeMessage(a model.Account) string {
	return fmt.Sprintf("Bienvenue %s sur Mobile Money !\nVotre compte %s a été créé avec succès.\nType: %s",
		a.Name, a.AccountNumber, a.Kind)
}

// WelcomeEmail is the subject and plain-text body of the registration email.
func WelcomeEmail(a model.Account) (subject, body string) {
	subject = "Bienvenue sur Mobile Money - Votre compte a été créé"
	var b strings.Builder
	fmt.Fprintf(&b, "Bienvenue %s !\n\n", a.Name)
	b.WriteString("Votre compte Mobile Money a été créé avec succès.\n\n")
	b.WriteString("Informations de votre compte\n")
	fmt.Fprintf(&b, "ID Client : %s\n", a.ClientID)
	fmt.Fprintf(&b, "Numéro de compte : %s\n", a.AccountNumber)
	fmt.Fprintf(&b, "Type de compte : %s\n", capitalize(string(a.Kind)))
	fmt.Fprintf(&b, "Statut : %s\n", capitalize(string(a.Status)))
	fmt.Fprintf(&b, "Téléphone : %s\n", a.Phone)
	fmt.Fprintf(&b, "Date de création : %s\n\n", a.CreatedAt.Format("02/01/2006 15:04"))
	b.WriteString("Note de sécurité : conservez ces informations en lieu sûr. ")
	b.WriteString("Ne partagez jamais vos identifiants de connexion avec qui que ce soit.\n\n")
	b.WriteString("Pour toute question ou assistance, contactez notre service client au 1212.\n")
	return subject, b.String()
}

// OTPMessage carries a login code valid for ttl.
func OTPMessage(code string, ttl time.Duration) string {
	return fmt.Sprintf("Votre code Mobile Money: %s. Valide %s.", code, validity(ttl))
}

// RedactCode replaces every character of a code so it can be logged or stored.
func RedactCode(code string) string {
	return strings.Repeat("*", len(code))
}

func validity(ttl time.Duration) string {
	if ttl >= time.Minute && ttl%time.Minute == 0 {
		return plural(int(ttl/time.Minute), "minute")
	}
	return plural(int(ttl.Round(time.Second)/time.Second), "seconde")
}

func plural(n int, unit string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss", n, unit)
	}
	return fmt.Sprintf("%d %s", n, unit)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// TransactionMessage confirms a settled payment or transfer to the payer.
func TransactionMessage(t model.Transaction) string {
	kind := "Paiement"
	if t.Type == model.TypeTransfer {
		kind = "Transfert"
	}
	recipient := t.Recipient
	if t.Method != nil && *t.Method == model.MethodMerchantCode {
		recipient = "marchand"
	}
	return fmt.Sprintf("%s de %s %s effectué avec succès.\nDestinataire: %s\nRéférence: %s",
		kind, t.Amount.StringFixed(2), t.Currency, recipient, t.Reference)
}

// TransferReceivedMessage tells a recipient about an incoming transfer.
func TransferReceivedMessage(t model.Transaction, senderName string) string {
	return fmt.Sprintf("Vous avez reçu un transfert de %s %s de %s.\nRéférence: %s",
		t.Amount.StringFixed(2), t.Currency, senderName, t.Reference)
}
