package types

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, matching the other parties on the wire.
	decimal.MarshalJSONWithoutQuotes = true
}

// Header names used on the wire.
const (
	PaymentRequiredHeader  = "PAYMENT-REQUIRED"
	PaymentSignatureHeader = "PAYMENT-SIGNATURE"
	PaymentResponseHeader  = "PAYMENT-RESPONSE"
)

// TimeLayout is the ISO 8601 layout used for every timestamp (millisecond precision, UTC).
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime formats t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses an ISO 8601 timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// PaymentTerms are the terms a seller issues for one request.
type PaymentTerms struct {
	RequestID        string            `json:"requestId"`
	AmountUSD        decimal.Decimal   `json:"amountUsd"`
	Currency         Currency          `json:"currency"`
	ChainID          Network           `json:"chainId"`
	Recipient        string            `json:"recipient"`
	ExpiresAt        string            `json:"expiresAt"`
	Resource         string            `json:"resource"`
	PaymentURL       string            `json:"paymentUrl,omitempty"`
	FacilitatorHints map[string]string `json:"facilitatorHints,omitempty"`
}

// PaymentProof is the payer-signed proof answering one set of terms.
type PaymentProof struct {
	Kind      ProofKind       `json:"kind"`
	RequestID string          `json:"requestId"`
	Payer     string          `json:"payer"`
	AmountUSD decimal.Decimal `json:"amountUsd"`
	Currency  Currency        `json:"currency"`
	IssuedAt  string          `json:"issuedAt"`
	Sig       string          `json:"sig"`
}

// VerifyResponse is the response of the verify operation.
type VerifyResponse struct {
	IsValid       bool          `json:"isValid"`
	InvalidReason InvalidReason `json:"invalidReason,omitempty"`
	Payer         string        `json:"payer,omitempty"`
}

// SettleResponse is the response of the settle operation.
type SettleResponse struct {
	Success     bool        `json:"success"`
	ErrorReason ErrorReason `json:"errorReason,omitempty"`
	Payer       string      `json:"payer,omitempty"`
	Transaction string      `json:"transaction"`
	Network     Network     `json:"network"`
}

// SupportedKind is one scheme/network combination a facilitator can verify.
type SupportedKind struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     Network `json:"network"`
}

// SupportedResponse is the response of the supported operation.
type SupportedResponse struct {
	Kinds      []SupportedKind   `json:"kinds"`
	Extensions []string          `json:"extensions"`
	Signers    map[string]string `json:"signers"`
}

// Receipt is the seller's record of a completed settlement.
type Receipt struct {
	ID            string          `json:"id"`
	CreatedAt     string          `json:"createdAt"`
	RequestID     string          `json:"requestId"`
	Payer         string          `json:"payer"`
	AmountUSD     decimal.Decimal `json:"amountUsd"`
	TxHash        string          `json:"txHash"`
	ClientID      string          `json:"clientId,omitempty"`
	RawSettlement *SettleResponse `json:"rawSettlement,omitempty"`
}

// SellerState is the seller's persisted pricing state.
type SellerState struct {
	PriceRaiseMode bool   `json:"priceRaiseMode"`
	LastUpdatedAt  string `json:"lastUpdatedAt"`
}
