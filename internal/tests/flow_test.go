package tests

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/transaction"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	payerPhone    = "+221771234567"
	receiverPhone = "+221781112233"
)

func TestAuthFlow(t *testing.T) {
	requireDatabase(t)
	ts := newTestServer(t)

	t.Run("A_Health", func(t *testing.T) {
		status, body := ts.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["ok"])
	})

	t.Run("B_RegisterRejectsDuplicatePhone", func(t *testing.T) {
		compte := ts.register(t, "Awa Ndiaye", "77 123 45 67", "awa@example.sn", "0")
		assert.Equal(t, payerPhone, compte["telephone"])
		assert.Equal(t, false, compte["otp_verifie"])
		assert.NotContains(t, compte, "password")

		status, body := ts.do(t, http.MethodPost, "/comptes", "", map[string]any{
			"nom": "Autre", "email": "autre@example.sn", "telephone": payerPhone, "password": "motdepasse123",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Contains(t, body["errors"], "telephone")
	})

	t.Run("C_PasswordLoginNeedsOTP", func(t *testing.T) {
		status, _ := ts.do(t, http.MethodPost, "/login", "", map[string]string{"telephone": payerPhone, "password": "motdepasse123"})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("D_OTPIsSingleUse", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/send-otp", "", map[string]string{"telephone": payerPhone})
		require.Equal(t, http.StatusOK, status)
		code := body["otp"].(string)

		status, body = ts.do(t, http.MethodPost, "/verify-otp", "", map[string]string{"telephone": payerPhone, "otp": code})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Bearer", body["token_type"])
		assert.Equal(t, true, body["compte"].(map[string]any)["otp_verifie"])

		status, _ = ts.do(t, http.MethodPost, "/verify-otp", "", map[string]string{"telephone": payerPhone, "otp": code})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("E_PasswordLoginAfterOTP", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/login", "", map[string]string{"telephone": payerPhone, "password": "motdepasse123"})
		require.Equal(t, http.StatusOK, status)
		assert.NotEmpty(t, body["access_token"])
		assert.Equal(t, payerPhone, body["user"].(map[string]any)["telephone"])

		status, _ = ts.do(t, http.MethodPost, "/login", "", map[string]string{"telephone": payerPhone, "password": "mauvais-mdp"})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("F_UnknownPhoneGetsSameAnswer", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/send-otp", "", map[string]string{"telephone": "+221701234567"})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
		assert.NotContains(t, body, "otp")
	})

	t.Run("G_PhoneRateLimit", func(t *testing.T) {
		phone := "+221761234567"
		var last int
		for i := 0; i < 4; i++ {
			last, _ = ts.do(t, http.MethodPost, "/send-otp", "", map[string]string{"telephone": phone})
		}
		assert.Equal(t, http.StatusTooManyRequests, last)
	})

	t.Run("H_ProtectedRoutesNeedToken", func(t *testing.T) {
		status, body := ts.do(t, http.MethodGet, "/dashboard", "", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "Non authentifié.", body["message"])
	})
}

func TestMoneyFlow(t *testing.T) {
	requireDatabase(t)
	ts := newTestServer(t)

	ts.register(t, "Awa Ndiaye", payerPhone, "awa@example.sn", "100000")
	ts.register(t, "Moussa Diop", receiverPhone, "moussa@example.sn", "0")
	token := ts.login(t, payerPhone)

	var reference string

	t.Run("A_MerchantPayment", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/transactions/paiement", token, map[string]any{
			"montant":          5000,
			"methode_paiement": "code_marchand",
			"destinataire":     "SHOP4242",
		})
		require.Equal(t, http.StatusCreated, status, "%v", body)
		summary := body["transaction"].(map[string]any)
		assert.Equal(t, "reussi", summary["statut"])
		assert.Equal(t, "5000.00", summary["montant"])
		assert.NotNil(t, summary["date_execution"])
		reference = summary["reference"].(string)
		assert.Regexp(t, `^TXN\d{8}[A-Z0-9]{8}$`, reference)

		_, body = ts.do(t, http.MethodGet, "/compte/solde", token, nil)
		assert.Equal(t, "95000.00", body["solde"])
	})

	t.Run("B_ShortMerchantCodeFails", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/transactions/paiement", token, map[string]any{
			"montant":          1000,
			"methode_paiement": "code_marchand",
			"destinataire":     "AB",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid merchant code", body["error"])

		_, body = ts.do(t, http.MethodGet, "/transactions?statut=echoue", token, nil)
		page := body["transactions"].(map[string]any)
		assert.Equal(t, float64(1), page["total"])
	})

	t.Run("C_ValidationWritesNothing", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/transactions/paiement", token, map[string]any{
			"montant":          50,
			"methode_paiement": "code_marchand",
			"destinataire":     "SHOP4242",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Contains(t, body["errors"], "montant")

		_, body = ts.do(t, http.MethodGet, "/transactions", token, nil)
		assert.Equal(t, float64(2), body["transactions"].(map[string]any)["total"])
	})

	t.Run("D_Transfer", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/transactions/transfert", token, map[string]any{
			"montant":      "2500",
			"destinataire": "78 111 22 33",
		})
		require.Equal(t, http.StatusCreated, status, "%v", body)

		_, body = ts.do(t, http.MethodGet, "/compte/solde", token, nil)
		assert.Equal(t, "92500.00", body["solde"])

		recipientToken := ts.login(t, receiverPhone)
		_, body = ts.do(t, http.MethodGet, "/dashboard", recipientToken, nil)
		assert.Equal(t, "2500.00", body["solde"])
		recent := body["transactions_recentes"].([]any)
		require.Len(t, recent, 1)
		credit := recent[0].(map[string]any)
		assert.Equal(t, "credit", credit["sens"])
		assert.Equal(t, "reussi", credit["statut"])
	})

	t.Run("E_UnknownRecipient", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/transactions/transfert", token, map[string]any{
			"montant":      "1000",
			"destinataire": "+221751234567",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "recipient not found", body["error"])
	})

	t.Run("F_InsufficientFunds", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/transactions/paiement", token, map[string]any{
			"montant":          "5000000",
			"methode_paiement": "code_marchand",
			"destinataire":     "SHOP4242",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "insufficient funds", body["error"])

		_, body = ts.do(t, http.MethodGet, "/compte/solde", token, nil)
		assert.Equal(t, "92500.00", body["solde"])
	})

	t.Run("G_LookupIsScoped", func(t *testing.T) {
		status, body := ts.do(t, http.MethodGet, "/transactions/"+reference, token, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, reference, body["transaction"].(map[string]any)["reference"])

		otherToken := ts.login(t, receiverPhone)
		status, _ = ts.do(t, http.MethodGet, "/transactions/"+reference, otherToken, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("H_ListFilters", func(t *testing.T) {
		status, body := ts.do(t, http.MethodGet, "/transactions?type=transfert&per_page=1", token, nil)
		require.Equal(t, http.StatusOK, status)
		page := body["transactions"].(map[string]any)
		assert.Equal(t, float64(1), page["per_page"])
		assert.Equal(t, float64(2), page["total"])
		assert.Equal(t, float64(2), page["last_page"])
		assert.Equal(t, "transfert", body["filtres_appliques"].(map[string]any)["type"])

		status, _ = ts.do(t, http.MethodGet, "/transactions?date_debut=hier", token, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
	})

	t.Run("I_NotificationsDelivered", func(t *testing.T) {
		_, err := ts.Outbox.Flush(context.Background())
		require.NoError(t, err)

		var pending, received int
		require.NoError(t, ts.DB.QueryRow(
			"SELECT COUNT(*) FROM notification_logs WHERE status = 'en_attente'",
		).Scan(&pending))
		assert.Zero(t, pending)
		require.NoError(t, ts.DB.QueryRow(
			"SELECT COUNT(*) FROM notification_logs WHERE recipient = $1 AND status = 'envoye'", receiverPhone,
		).Scan(&received))
		// welcome, two OTPs and the transfer credit
		assert.Equal(t, 4, received)

		var emails, leaked int
		require.NoError(t, ts.DB.QueryRow(
			"SELECT COUNT(*) FROM notification_logs WHERE channel = 'email' AND status = 'envoye'",
		).Scan(&emails))
		assert.Equal(t, 2, emails, "one welcome email per account")
		require.NoError(t, ts.DB.QueryRow(
			"SELECT COUNT(*) FROM notification_logs WHERE message ~ 'Mobile Money: [0-9]'",
		).Scan(&leaked))
		assert.Zero(t, leaked, "login codes are stored redacted")
	})
}

// TestBalanceCountsSettledRowsOnly seeds the ledger directly so the SQL
// aggregation, not the engine, decides what reaches /compte/solde.
func TestBalanceCountsSettledRowsOnly(t *testing.T) {
	requireDatabase(t)
	ts := newTestServer(t)
	ctx := context.Background()

	ts.register(t, "Awa Ndiaye", payerPhone, "awa@example.sn", "1000")
	payer, err := ts.Accounts.GetByPhone(ctx, payerPhone)
	require.NoError(t, err)

	rows := []struct {
		typ, direction, status, amount string
	}{
		{"depot", "credit", "reussi", "500.00"},
		{"retrait", "debit", "reussi", "200.00"},
		{"retrait", "debit", "en_attente", "100.00"},
		{"depot", "credit", "echoue", "9999.00"},
		{"paiement", "debit", "annule", "50.00"},
		{"transfert", "credit", "soumis", "80.00"},
		{"transfert", "credit", "reussi", "300.00"},
		{"transfert", "debit", "reussi", "300.00"},
	}
	for i, r := range rows {
		_, err := ts.DB.ExecContext(ctx, `
			INSERT INTO transactions (reference, account_id, type, direction, amount, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			fmt.Sprintf("TXNSEED%04d", i), payer.ID, r.typ, r.direction, r.amount, r.status)
		require.NoError(t, err)
	}

	token := ts.login(t, payerPhone)
	status, body := ts.do(t, http.MethodGet, "/compte/solde", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1300.00", body["solde"])
}

// TestConcurrentPaymentsNeverOverdraw fires parallel debits at one account and
// checks that admission is serialized by the row lock.
func TestConcurrentPaymentsNeverOverdraw(t *testing.T) {
	requireDatabase(t)
	ts := newTestServer(t)
	ctx := context.Background()

	ts.register(t, "Awa Ndiaye", payerPhone, "awa@example.sn", "1000")
	payer, err := ts.Accounts.GetByPhone(ctx, payerPhone)
	require.NoError(t, err)

	const workers = 10
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			amount := decimal.NewFromInt(300)
			_, err := ts.Engine.ProcessPayment(ctx, payer, transaction.PaymentRequest{
				Amount:    &amount,
				Method:    model.MethodMerchantCode,
				Recipient: "SHOP4242",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, transaction.ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, workers-3, insufficient)

	bal, err := ts.Engine.Balance(ctx, payer)
	require.NoError(t, err)
	assert.Equal(t, "100.00", bal.StringFixed(2))
}
