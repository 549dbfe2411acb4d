package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	AMQPURL     string `mapstructure:"AMQP_URL"`

	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	JWTIssuer       string        `mapstructure:"JWT_ISSUER"`
	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`

	OTPTTL        time.Duration `mapstructure:"OTP_TTL"`
	OTPRateWindow time.Duration `mapstructure:"OTP_RATE_WINDOW"`

	PaymentMerchantID  string        `mapstructure:"PAYMENT_MERCHANT_ID"`
	PaymentRequestURL  string        `mapstructure:"PAYMENT_REQUEST_URL"`
	PaymentVerifyURL   string        `mapstructure:"PAYMENT_VERIFY_URL"`
	PaymentPageURL     string        `mapstructure:"PAYMENT_PAGE_URL"`
	PaymentCallbackURL string        `mapstructure:"PAYMENT_CALLBACK_URL"`
	PaymentTimeout     time.Duration `mapstructure:"PAYMENT_TIMEOUT"`
	PaymentWindow      time.Duration `mapstructure:"PAYMENT_WINDOW"`

	TimeZone       string   `mapstructure:"TIME_ZONE"`
	SweepCron      string   `mapstructure:"SWEEP_CRON"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "AMQP_URL",
	"JWT_SECRET", "JWT_ISSUER", "ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL",
	"OTP_TTL", "OTP_RATE_WINDOW",
	"PAYMENT_MERCHANT_ID", "PAYMENT_REQUEST_URL", "PAYMENT_VERIFY_URL", "PAYMENT_PAGE_URL",
	"PAYMENT_CALLBACK_URL", "PAYMENT_TIMEOUT", "PAYMENT_WINDOW",
	"TIME_ZONE", "SWEEP_CRON", "MIGRATIONS_DIR", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_ISSUER", "medbook")
	v.SetDefault("ACCESS_TOKEN_TTL", "60m")
	v.SetDefault("REFRESH_TOKEN_TTL", "24h")
	v.SetDefault("OTP_TTL", "120s")
	v.SetDefault("OTP_RATE_WINDOW", "1m")
	v.SetDefault("PAYMENT_REQUEST_URL", "https://sandbox.zarinpal.com/pg/rest/WebGate/PaymentRequest.json")
	v.SetDefault("PAYMENT_VERIFY_URL", "https://sandbox.zarinpal.com/pg/rest/WebGate/PaymentVerification.json")
	v.SetDefault("PAYMENT_PAGE_URL", "https://sandbox.zarinpal.com/pg/StartPay/")
	v.SetDefault("PAYMENT_CALLBACK_URL", "http://localhost:8000/api/v1/payments/callback")
	v.SetDefault("PAYMENT_TIMEOUT", "15s")
	v.SetDefault("PAYMENT_WINDOW", "15m")
	v.SetDefault("TIME_ZONE", "Asia/Tehran")
	v.SetDefault("SWEEP_CRON", "@every 1m")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine; the environment wins anyway.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" && cfg.IsDev() {
		cfg.JWTSecret = "dev-insecure-secret"
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves TIME_ZONE, falling back to UTC for an unknown zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate rejects configurations that are unsafe outside development.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production, got %d", len(c.JWTSecret))
	}
	if c.IsProduction() && c.PaymentMerchantID == "" {
		return fmt.Errorf("PAYMENT_MERCHANT_ID is required in production")
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.PaymentWindow <= 0 {
		return fmt.Errorf("PAYMENT_WINDOW must be positive")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	return nil
}
