package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/mobilemoney/server/internal/account"
	"github.com/mobilemoney/server/internal/auth"
	"github.com/mobilemoney/server/internal/config"
	"github.com/mobilemoney/server/internal/db"
	"github.com/mobilemoney/server/internal/events"
	httphandler "github.com/mobilemoney/server/internal/http"
	"github.com/mobilemoney/server/internal/http/handlers"
	"github.com/mobilemoney/server/internal/middleware"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/notify"
	"github.com/mobilemoney/server/internal/repo"
	"github.com/mobilemoney/server/internal/transaction"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Do NOT set DATABASE_URL; integration tests skip if missing.
	if os.Getenv("JWT_SECRET") == "" {
		os.Setenv("JWT_SECRET", "test-jwt-secret-at-least-32-characters-long")
	}
	if os.Getenv("OTP_SALT") == "" {
		os.Setenv("OTP_SALT", "test-otp-salt")
	}
	os.Setenv("BCRYPT_COST", "4")
	os.Setenv("SETTLEMENT_DELAY", "0s")

	os.Exit(m.Run())
}

func requireDatabase(t *testing.T) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
}

// testServer holds the server, DB and engine for integration tests
type testServer struct {
	Server   *httptest.Server
	DB       *sql.DB
	Engine   *transaction.Engine
	Accounts repo.AccountRepo
	Outbox   *notify.Dispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	database, err := db.Open(context.Background(), cfg.DatabaseURL, db.PoolConfig{MaxOpenConns: cfg.DBMaxOpenConns}, logger)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, RunMigrations(database), "migrations must run successfully")
	require.NoError(t, TruncateTables(context.Background(), database))

	accountRepo := repo.NewAccountRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	dispatcher := notify.NewDispatcher(repo.NewNotificationRepo(database),
		&notify.LogSender{Logger: logger, Channel: model.ChannelSMS},
		&notify.LogSender{Logger: logger, Channel: model.ChannelEmail},
		logger)
	publisher := &events.LogPublisher{Logger: logger}

	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	jwtService := auth.NewJWTService(cfg.JWTSecret, time.Hour)
	authenticator := auth.NewAuthenticator(accountRepo, otpRepo, dispatcher, hasher, auth.Options{
		Salt:        cfg.OTPSalt,
		TTL:         cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
		LoginWindow: cfg.OTPLoginWindow,
	}, logger)

	lo, hi, err := cfg.AmountBounds()
	require.NoError(t, err)
	engine := transaction.NewEngine(
		repo.NewTransactionRepo(database),
		transaction.SimulatedRail{},
		dispatcher,
		publisher,
		transaction.Limits{
			Min:                   lo,
			Max:                   hi,
			Currencies:            cfg.Currencies(),
			DefaultCurrency:       cfg.DefaultCurrency,
			MerchantCodeMinLength: cfg.MerchantCodeMinLength,
		},
		logger,
	)

	router := httphandler.NewRouter(httphandler.Deps{
		Auth:             handlers.NewAuthHandler(authenticator, jwtService, middleware.NewRateLimiter(10*time.Minute, 3), true, logger),
		Accounts:         handlers.NewAccountHandler(account.NewService(accountRepo, hasher, dispatcher, publisher, logger), cfg.OTPLoginWindow, logger),
		Transactions:     handlers.NewTransactionHandler(engine, logger),
		Dashboard:        handlers.NewDashboardHandler(engine, cfg.OTPLoginWindow, logger),
		JWT:              jwtService,
		AccountRepo:      accountRepo,
		SendOTPLimiter:   middleware.NewRateLimiter(10*time.Minute, 100),
		VerifyOTPLimiter: middleware.NewRateLimiter(10*time.Minute, 100),
		Logger:           logger,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, DB: database, Engine: engine, Accounts: accountRepo, Outbox: dispatcher}
}

// do sends a JSON request and decodes the JSON response into a map.
func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.Server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return resp.StatusCode, out
}

// register creates an account over HTTP and returns its resource.
func (s *testServer) register(t *testing.T, name, phone, email, opening string) map[string]any {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/comptes", "", map[string]any{
		"nom":       name,
		"email":     email,
		"telephone": phone,
		"password":  "motdepasse123",
		"solde":     opening,
	})
	require.Equal(t, http.StatusCreated, status, "register: %v", body)
	return body["compte"].(map[string]any)
}

// login runs send-otp then verify-otp and returns the bearer token.
func (s *testServer) login(t *testing.T, phone string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/send-otp", "", map[string]string{"telephone": phone})
	require.Equal(t, http.StatusOK, status, "send-otp: %v", body)
	code, ok := body["otp"].(string)
	require.True(t, ok, "send-otp must echo the code in tests: %v", body)

	status, body = s.do(t, http.MethodPost, "/verify-otp", "", map[string]string{"telephone": phone, "otp": code})
	require.Equal(t, http.StatusOK, status, "verify-otp: %v", body)
	return body["access_token"].(string)
}
