package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	DBStatementTimeout time.Duration `mapstructure:"DB_STATEMENT_TIMEOUT"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit          string        `mapstructure:"BODY_LIMIT"`

	AuthJWTSecret          string `mapstructure:"AUTH_JWT_SECRET"`
	AuthProviderURL        string `mapstructure:"AUTH_PROVIDER_URL"`
	AuthProviderServiceKey string `mapstructure:"AUTH_PROVIDER_SERVICE_KEY"`
	AuthProviderAnonKey    string `mapstructure:"AUTH_PROVIDER_ANON_KEY"`
	PasswordRedirectURL    string `mapstructure:"PASSWORD_REDIRECT_URL"`

	CertStorageDir    string        `mapstructure:"CERT_STORAGE_DIR"`
	CertURLSigningKey string        `mapstructure:"CERT_URL_SIGNING_KEY"`
	CertURLTTL        time.Duration `mapstructure:"CERT_URL_TTL"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	// EmailTemplateDir holds optional JSON overrides for the built-in email
	// templates.
	EmailTemplateDir string `mapstructure:"EMAIL_TEMPLATE_DIR"`

	// FX values stay strings until FXRates parses them, so no float rounding
	// creeps into money math.
	FXRate             string `mapstructure:"FX_RATE"`
	FXMarginRate       string `mapstructure:"FX_MARGIN_RATE"`
	SettlementCurrency string `mapstructure:"SETTLEMENT_CURRENCY"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_STATEMENT_TIMEOUT",
	"REDIS_URL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"BODY_LIMIT", "AUTH_JWT_SECRET", "AUTH_PROVIDER_URL", "AUTH_PROVIDER_SERVICE_KEY",
	"AUTH_PROVIDER_ANON_KEY", "PASSWORD_REDIRECT_URL", "CERT_STORAGE_DIR",
	"CERT_URL_SIGNING_KEY", "CERT_URL_TTL", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME",
	"SMTP_PASSWORD", "SMTP_FROM", "EMAIL_TEMPLATE_DIR", "FX_RATE", "FX_MARGIN_RATE", "SETTLEMENT_CURRENCY",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "5s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "6M")
	v.SetDefault("PASSWORD_REDIRECT_URL", "http://localhost:5173/set-password")
	v.SetDefault("CERT_STORAGE_DIR", "./data/certificates")
	v.SetDefault("CERT_URL_TTL", "15m")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM", "no-reply@medref.local")
	v.SetDefault("FX_RATE", "83")
	v.SetDefault("FX_MARGIN_RATE", "0.005")
	v.SetDefault("SETTLEMENT_CURRENCY", "USD")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthJWTSecret == "" {
		log.Println("WARNING: AUTH_JWT_SECRET is empty in development mode; every request runs as the dev admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DevAuth reports whether bearer validation is replaced by the dev identity.
func (c *Config) DevAuth() bool {
	return c.IsDev() && c.AuthJWTSecret == ""
}

// FXRates parses the configured fixed rate and margin.
func (c *Config) FXRates() (rate, margin decimal.Decimal, err error) {
	rate, err = decimal.NewFromString(c.FXRate)
	if err != nil {
		return rate, margin, fmt.Errorf("FX_RATE is not a decimal: %w", err)
	}
	margin, err = decimal.NewFromString(c.FXMarginRate)
	if err != nil {
		return rate, margin, fmt.Errorf("FX_MARGIN_RATE is not a decimal: %w", err)
	}
	return rate, margin, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthJWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.CertURLSigningKey == "" {
		return fmt.Errorf("CERT_URL_SIGNING_KEY is required in production")
	}
	if c.CertURLTTL <= 0 {
		return fmt.Errorf("CERT_URL_TTL must be positive, got %s", c.CertURLTTL)
	}

	rate, margin, err := c.FXRates()
	if err != nil {
		return err
	}
	if !rate.IsPositive() {
		return fmt.Errorf("FX_RATE must be positive, got %s", rate)
	}
	if margin.IsNegative() || margin.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("FX_MARGIN_RATE must be in [0, 1), got %s", margin)
	}
	if len(c.SettlementCurrency) != 3 {
		return fmt.Errorf("SETTLEMENT_CURRENCY must be a 3-letter code, got %q", c.SettlementCurrency)
	}
	return nil
}
