package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/arcmeter-go/types"
	v2 "github.com/raid-guild/arcmeter-go/types/v2"
)

// Now returns the current time. This variable can be overridden in tests.
var Now = time.Now

// NewRequestID returns a fresh request identifier. This variable can be overridden in tests.
var NewRequestID = func() string {
	return uuid.NewString()
}

// TermsConfig is the configuration for issuing terms.
type TermsConfig struct {
	Currency          types.Currency
	ChainID           types.Network
	Recipient         string
	TTL               time.Duration
	Scheme            v2.Scheme
	Asset             string
	MaxTimeoutSeconds int64
	Extra             *v2.Extra
}

// DefaultTermsConfig returns the local demo terms configuration.
func DefaultTermsConfig() TermsConfig {
	return TermsConfig{
		Currency:          types.CurrencyUSDC,
		ChainID:           types.NetworkLocal,
		Recipient:         "demo_seller",
		TTL:               60 * time.Second,
		Scheme:            v2.SchemeLocalDemo,
		Asset:             "USDC",
		MaxTimeoutSeconds: 60,
		Extra:             &v2.Extra{Name: "USDC", Version: "2"},
	}
}

// TermsIssuer issues payment terms bound to a resource.
type TermsIssuer struct {
	cfg TermsConfig
}

// NewTermsIssuer creates a new TermsIssuer.
func NewTermsIssuer(cfg TermsConfig) *TermsIssuer {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	return &TermsIssuer{cfg: cfg}
}

// IssueTerms issues fresh terms for resourceURL at priceUSD.
func (i *TermsIssuer) IssueTerms(resourceURL string, priceUSD decimal.Decimal) types.PaymentTerms {
	return types.PaymentTerms{
		RequestID: NewRequestID(),
		AmountUSD: priceUSD,
		Currency:  i.cfg.Currency,
		ChainID:   i.cfg.ChainID,
		Recipient: i.cfg.Recipient,
		ExpiresAt: types.FormatTime(Now().Add(i.cfg.TTL)),
		Resource:  resourceURL,
	}
}

// ToRequirements converts terms to the payment requirements advertised to the payer.
func (i *TermsIssuer) ToRequirements(terms types.PaymentTerms) v2.PaymentRequirements {
	return v2.PaymentRequirements{
		Scheme:            i.cfg.Scheme,
		Network:           terms.ChainID,
		Amount:            ToAtomicUnits(terms.AmountUSD),
		Asset:             i.cfg.Asset,
		PayTo:             terms.Recipient,
		MaxTimeoutSeconds: i.cfg.MaxTimeoutSeconds,
		Extra:             i.cfg.Extra,
	}
}
