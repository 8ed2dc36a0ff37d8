// Package config loads service configuration from the environment using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	DBConnMaxIdleTime time.Duration `mapstructure:"DB_CONN_MAX_IDLE_TIME"`

	Port string `mapstructure:"PORT"`
	// Env is the application environment ("development", "production", ...).
	Env string `mapstructure:"APP_ENV"`

	JWTSecret    string        `mapstructure:"JWT_SECRET"`
	JWTAccessTTL time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	BcryptCost   int           `mapstructure:"BCRYPT_COST"`

	OTPSalt        string        `mapstructure:"OTP_SALT"`
	OTPTTL         time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxAttempts int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPReturnToClient echoes issued codes in /send-otp responses. Never allowed in production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// OTPLoginWindow bounds how long an OTP verification unlocks password login.
	OTPLoginWindow time.Duration `mapstructure:"OTP_LOGIN_WINDOW"`

	AmountMin             string        `mapstructure:"AMOUNT_MIN"`
	AmountMax             string        `mapstructure:"AMOUNT_MAX"`
	DefaultCurrency       string        `mapstructure:"DEFAULT_CURRENCY"`
	AllowedCurrencies     string        `mapstructure:"ALLOWED_CURRENCIES"`
	MerchantCodeMinLength int           `mapstructure:"MERCHANT_CODE_MIN_LENGTH"`
	SettlementDelay       time.Duration `mapstructure:"SETTLEMENT_DELAY"`
	SettlementTimeout     time.Duration `mapstructure:"SETTLEMENT_TIMEOUT"`

	SMSGatewayURL    string `mapstructure:"SMS_GATEWAY_URL"`
	SMSGatewayAPIKey string `mapstructure:"SMS_GATEWAY_API_KEY"`
	SMSSender        string `mapstructure:"SMS_SENDER"`

	// SMTPHost enables the email channel; without it email is only logged.
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     string `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	MailFrom     string `mapstructure:"MAIL_FROM"`

	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`
	RedisURL       string `mapstructure:"REDIS_URL"`

	OTPPurgeSchedule          string `mapstructure:"OTP_PURGE_SCHEDULE"`
	SettlementSweepSchedule   string `mapstructure:"SETTLEMENT_SWEEP_SCHEDULE"`
	NotificationFlushSchedule string `mapstructure:"NOTIFICATION_FLUSH_SCHEDULE"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "10m")
	v.SetDefault("SMTP_PORT", "587")
	v.SetDefault("MAIL_FROM", "noreply@mobilemoney.sn")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("JWT_ACCESS_TTL", "8760h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("OTP_LOGIN_WINDOW", "720h")
	v.SetDefault("AMOUNT_MIN", "100")
	v.SetDefault("AMOUNT_MAX", "5000000")
	v.SetDefault("DEFAULT_CURRENCY", "XOF")
	v.SetDefault("ALLOWED_CURRENCIES", "XOF,USD,EUR")
	v.SetDefault("MERCHANT_CODE_MIN_LENGTH", 6)
	v.SetDefault("SETTLEMENT_DELAY", "1s")
	v.SetDefault("SETTLEMENT_TIMEOUT", "2m")
	v.SetDefault("EVENTS_EXCHANGE", "mobilemoney.events")
	v.SetDefault("OTP_PURGE_SCHEDULE", "@every 1m")
	v.SetDefault("SETTLEMENT_SWEEP_SCHEDULE", "@every 30s")
	v.SetDefault("NOTIFICATION_FLUSH_SCHEDULE", "@every 5s")
	// Keys without defaults must still be bound for Unmarshal to see them.
	for _, key := range []string{
		"DATABASE_URL", "JWT_SECRET", "OTP_SALT",
		"SMS_GATEWAY_URL", "SMS_GATEWAY_API_KEY", "SMS_SENDER",
		"SMTP_HOST", "SMTP_USERNAME", "SMTP_PASSWORD",
		"RABBITMQ_URL", "REDIS_URL",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("config: DATABASE_URL environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET environment variable is required")
	}
	if cfg.OTPSalt == "" {
		return nil, errors.New("config: OTP_SALT environment variable is required")
	}
	if cfg.OTPReturnToClient && cfg.IsProduction() {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.OTPTTL <= 0 {
		return nil, errors.New("config: OTP_TTL must be positive")
	}
	if cfg.OTPMaxAttempts < 1 {
		return nil, errors.New("config: OTP_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.MerchantCodeMinLength < 1 {
		return nil, errors.New("config: MERCHANT_CODE_MIN_LENGTH must be at least 1")
	}
	if cfg.DBMaxOpenConns < 1 || cfg.DBMaxIdleConns < 0 {
		return nil, errors.New("config: DB_MAX_OPEN_CONNS must be at least 1 and DB_MAX_IDLE_CONNS non-negative")
	}
	if cfg.SettlementTimeout <= cfg.SettlementDelay {
		return nil, errors.New("config: SETTLEMENT_TIMEOUT must exceed SETTLEMENT_DELAY")
	}

	lo, hi, err := cfg.AmountBounds()
	if err != nil {
		return nil, err
	}
	if !lo.IsPositive() || hi.LessThan(lo) {
		return nil, fmt.Errorf("config: invalid amount bounds [%s, %s]", lo, hi)
	}
	if len(cfg.Currencies()) == 0 {
		return nil, errors.New("config: ALLOWED_CURRENCIES must list at least one currency")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AmountBounds parses AMOUNT_MIN and AMOUNT_MAX.
func (c *Config) AmountBounds() (decimal.Decimal, decimal.Decimal, error) {
	lo, err := decimal.NewFromString(strings.TrimSpace(c.AmountMin))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("config: AMOUNT_MIN: %w", err)
	}
	hi, err := decimal.NewFromString(strings.TrimSpace(c.AmountMax))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("config: AMOUNT_MAX: %w", err)
	}
	return lo, hi, nil
}

// Currencies returns the upper-cased allowed currency codes.
func (c *Config) Currencies() []string {
	parts := strings.Split(c.AllowedCurrencies, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToUpper(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
