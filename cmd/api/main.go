package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mobilemoney/server/internal/account"
	"github.com/mobilemoney/server/internal/auth"
	"github.com/mobilemoney/server/internal/config"
	"github.com/mobilemoney/server/internal/db"
	"github.com/mobilemoney/server/internal/events"
	httphandler "github.com/mobilemoney/server/internal/http"
	"github.com/mobilemoney/server/internal/http/handlers"
	"github.com/mobilemoney/server/internal/jobs"
	"github.com/mobilemoney/server/internal/middleware"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/notify"
	"github.com/mobilemoney/server/internal/repo"
	"github.com/mobilemoney/server/internal/transaction"
	"github.com/redis/go-redis/v9"
)

// Rate limit windows for the unauthenticated OTP endpoints.
const (
	otpLimitWindow     = 10 * time.Minute
	sendOTPPerIP       = 10
	verifyOTPPerIP     = 20
	sendOTPPerPhone    = 3
	redisLimiterPrefix = "mobilemoney:ratelimit"
)

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func main() {
	// Load .env from CWD (env vars override)
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx := context.Background()

	// Open database connection
	database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	accountRepo := repo.NewAccountRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	transactionRepo := repo.NewTransactionRepo(database)
	notificationRepo := repo.NewNotificationRepo(database)

	// Outbound delivery
	var sms notify.Sender = &notify.LogSender{Logger: logger, Channel: model.ChannelSMS, Verbose: cfg.OTPReturnToClient}
	if cfg.SMSGatewayURL != "" {
		sms = notify.NewGatewayClient(cfg.SMSGatewayAPIKey, cfg.SMSGatewayURL, cfg.SMSSender)
	}
	var email notify.Sender = &notify.LogSender{Logger: logger, Channel: model.ChannelEmail}
	if cfg.SMTPHost != "" {
		email = &notify.SMTPMailer{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}
	}
	dispatcher := notify.NewDispatcher(notificationRepo, sms, email, logger)

	publisher := events.Connect(cfg.RabbitMQURL, cfg.EventsExchange, logger)
	defer publisher.Close()

	// Initialize services
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTAccessTTL)
	authenticator := auth.NewAuthenticator(accountRepo, otpRepo, dispatcher, hasher, auth.Options{
		Salt:        cfg.OTPSalt,
		TTL:         cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
		LoginWindow: cfg.OTPLoginWindow,
	}, logger)
	accountService := account.NewService(accountRepo, hasher, dispatcher, publisher, logger)

	lo, hi, _ := cfg.AmountBounds()
	engine := transaction.NewEngine(
		transactionRepo,
		transaction.SimulatedRail{Delay: cfg.SettlementDelay},
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

	// Rate limiters: Redis when configured and reachable, in-memory otherwise
	var sendOTPLimiter, verifyOTPLimiter, phoneLimiter middleware.Allower
	if client := connectRedis(ctx, cfg.RedisURL, logger); client != nil {
		defer client.Close()
		sendOTPLimiter = middleware.NewRedisRateLimiter(client, redisLimiterPrefix+":send-otp", otpLimitWindow, sendOTPPerIP)
		verifyOTPLimiter = middleware.NewRedisRateLimiter(client, redisLimiterPrefix+":verify-otp", otpLimitWindow, verifyOTPPerIP)
		phoneLimiter = middleware.NewRedisRateLimiter(client, redisLimiterPrefix+":phone", otpLimitWindow, sendOTPPerPhone)
	} else {
		sendIP := middleware.NewRateLimiter(otpLimitWindow, sendOTPPerIP)
		verifyIP := middleware.NewRateLimiter(otpLimitWindow, verifyOTPPerIP)
		phone := middleware.NewRateLimiter(otpLimitWindow, sendOTPPerPhone)
		defer sendIP.Close()
		defer verifyIP.Close()
		defer phone.Close()
		sendOTPLimiter, verifyOTPLimiter, phoneLimiter = sendIP, verifyIP, phone
	}

	// Initialize handlers
	router := httphandler.NewRouter(httphandler.Deps{
		Auth:             handlers.NewAuthHandler(authenticator, jwtService, phoneLimiter, cfg.OTPReturnToClient, logger),
		Accounts:         handlers.NewAccountHandler(accountService, cfg.OTPLoginWindow, logger),
		Transactions:     handlers.NewTransactionHandler(engine, logger),
		Dashboard:        handlers.NewDashboardHandler(engine, cfg.OTPLoginWindow, logger),
		JWT:              jwtService,
		AccountRepo:      accountRepo,
		SendOTPLimiter:   sendOTPLimiter,
		VerifyOTPLimiter: verifyOTPLimiter,
		Logger:           logger,
	})

	// Background jobs
	scheduler := jobs.NewScheduler(jobs.NewJobs(otpRepo, engine, dispatcher, cfg.SettlementTimeout, logger), logger)
	if err := scheduler.Register(jobs.Schedules{
		OTPPurge:          cfg.OTPPurgeSchedule,
		SettlementSweep:   cfg.SettlementSweepSchedule,
		NotificationFlush: cfg.NotificationFlushSchedule,
	}); err != nil {
		logger.Error("failed to schedule jobs", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	// Create HTTP server with timeouts. WriteTimeout covers the settlement delay.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10*time.Second + cfg.SettlementDelay,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("background jobs still running at shutdown")
	}

	logger.Info("server exited")
}

// connectRedis returns a client for redisURL, or nil when unset or unreachable.
func connectRedis(ctx context.Context, redisURL string, logger *slog.Logger) *redis.Client {
	if redisURL == "" {
		logger.Info("redis url missing; using in-memory rate limiting")
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; using in-memory rate limiting", "error", err)
		return nil
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; using in-memory rate limiting", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}
