// Package config loads the settings of every ArcMeter service from defaults,
// an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// SellerConfig holds the seller settings.
type SellerConfig struct {
	Port           int           `mapstructure:"seller_port"`
	DBPath         string        `mapstructure:"seller_db_path"`
	DatabaseURL    string        `mapstructure:"seller_database_url"`
	DefaultPrice   string        `mapstructure:"seller_default_price_usd"`
	PriceRaiseMode bool          `mapstructure:"seller_price_raise_mode"`
	AdminSecret    string        `mapstructure:"seller_admin_secret"`
	ClientIDHeader string        `mapstructure:"seller_client_id_header"`
	TermsTTL       time.Duration `mapstructure:"seller_terms_ttl"`
	RejectReplays  bool          `mapstructure:"seller_reject_replays"`
	Recipient      string        `mapstructure:"seller_recipient"`

	DefaultPriceUSD decimal.Decimal `mapstructure:"-"`
}

// FacilitatorConfig holds the facilitator settings. The seller and the
// agent share the verifier secret and the facilitator URL.
type FacilitatorConfig struct {
	BaseURL         string        `mapstructure:"facilitator_base_url"`
	Port            int           `mapstructure:"facilitator_port"`
	VerifierSecret  string        `mapstructure:"local_demo_verifier_secret"`
	VerifyEndpoint  string        `mapstructure:"x402_verify_endpoint"`
	SettleEndpoint  string        `mapstructure:"x402_settle_endpoint"`
	EnforceExpiry   bool          `mapstructure:"x402_enforce_expiry"`
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	APIKey          string        `mapstructure:"facilitator_api_key"`
	DatabaseURL     string        `mapstructure:"facilitator_database_url"`
}

// Upstream reports whether verification and settlement are proxied.
func (c FacilitatorConfig) Upstream() bool {
	return c.VerifyEndpoint != "" && c.SettleEndpoint != ""
}

// AgentConfig holds the buyer agent settings.
type AgentConfig struct {
	Port          int    `mapstructure:"agent_port"`
	SellerBaseURL string `mapstructure:"seller_base_url"`
	Payer         string `mapstructure:"agent_payer"`
	MaxDailySpend string `mapstructure:"agent_max_daily_spend_usd"`
	RedisURL      string `mapstructure:"agent_redis_url"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key"`
	GeminiModel   string `mapstructure:"gemini_model"`
	GeminiBaseURL string `mapstructure:"gemini_base_url"`

	MaxDailySpendUSD decimal.Decimal `mapstructure:"-"`
}

// Config is the full configuration.
type Config struct {
	Seller      SellerConfig      `mapstructure:",squash"`
	Facilitator FacilitatorConfig `mapstructure:",squash"`
	Agent       AgentConfig       `mapstructure:",squash"`
	LogLevel    string            `mapstructure:"log_level"`
}

var defaults = map[string]any{
	"seller_port":                3001,
	"seller_db_path":             "./data/seller.json",
	"seller_database_url":        "",
	"seller_default_price_usd":   "0.01",
	"seller_price_raise_mode":    false,
	"seller_admin_secret":        "dev-secret",
	"seller_client_id_header":    "X-CLIENT-ID",
	"seller_terms_ttl":           "60s",
	"seller_reject_replays":      false,
	"seller_recipient":           "demo_seller",
	"facilitator_base_url":       "http://localhost:3002",
	"facilitator_port":           3002,
	"local_demo_verifier_secret": "change-me",
	"x402_verify_endpoint":       "",
	"x402_settle_endpoint":       "",
	"x402_enforce_expiry":        true,
	"upstream_timeout":           "10s",
	"facilitator_api_key":        "",
	"facilitator_database_url":   "",
	"agent_port":                 3003,
	"seller_base_url":            "http://localhost:3001",
	"agent_payer":                "demo_agent",
	"agent_max_daily_spend_usd":  "2.0",
	"agent_redis_url":            "",
	"gemini_api_key":             "",
	"gemini_model":               "gemini-1.5-pro",
	"gemini_base_url":            "https://generativelanguage.googleapis.com",
	"log_level":                  "info",
}

// Load reads the configuration. An empty path skips the YAML file; the
// environment always wins over the file and the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Read the optional file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment names match the keys in upper case
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Parse the money settings
	price, err := decimal.NewFromString(cfg.Seller.DefaultPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid SELLER_DEFAULT_PRICE_USD %q: %w", cfg.Seller.DefaultPrice, err)
	}
	cfg.Seller.DefaultPriceUSD = price

	spend, err := decimal.NewFromString(cfg.Agent.MaxDailySpend)
	if err != nil {
		return nil, fmt.Errorf("invalid AGENT_MAX_DAILY_SPEND_USD %q: %w", cfg.Agent.MaxDailySpend, err)
	}
	cfg.Agent.MaxDailySpendUSD = spend

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {

	// Check the price is positive
	if !c.Seller.DefaultPriceUSD.IsPositive() {
		return errors.New("SELLER_DEFAULT_PRICE_USD must be positive")
	}

	// Check the spend cap is not negative
	if c.Agent.MaxDailySpendUSD.IsNegative() {
		return errors.New("AGENT_MAX_DAILY_SPEND_USD must not be negative")
	}

	// Check the terms lifetime
	if c.Seller.TermsTTL <= 0 {
		return errors.New("SELLER_TERMS_TTL must be positive")
	}

	// Check the upstream endpoints come as a pair
	if (c.Facilitator.VerifyEndpoint == "") != (c.Facilitator.SettleEndpoint == "") {
		return errors.New("X402_VERIFY_ENDPOINT and X402_SETTLE_ENDPOINT must be set together")
	}

	return nil
}
