package v2

import (
	"encoding/json"

	"github.com/raid-guild/arcmeter-go/types"
)

// ResourceInfo describes the protected resource.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequirements is the payment requirements.
type PaymentRequirements struct {
	Scheme            Scheme        `json:"scheme"`
	Network           types.Network `json:"network"`
	Amount            string        `json:"amount"`
	Asset             string        `json:"asset"`
	PayTo             string        `json:"payTo"`
	MaxTimeoutSeconds int64         `json:"maxTimeoutSeconds,omitempty"`
	Extra             *Extra        `json:"extra,omitempty"`
}

// Extra is the extra of the payment requirements.
type Extra struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Extensions is the extension slot of the envelope.
type Extensions struct {
	ArcMeter *ArcMeterExtension `json:"arcmeter,omitempty"`
}

// ArcMeterExtension carries the base64 terms round-tripped by the client.
type ArcMeterExtension struct {
	TermsB64 string `json:"termsB64"`
}

// TermsB64 returns the embedded terms, or "" when absent.
func (e *Extensions) TermsB64() string {
	if e == nil || e.ArcMeter == nil {
		return ""
	}
	return e.ArcMeter.TermsB64
}

// PaymentRequired is the document carried in the PAYMENT-REQUIRED header.
type PaymentRequired struct {
	X402Version X402Version           `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Resource    *ResourceInfo         `json:"resource,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Extensions  *Extensions           `json:"extensions,omitempty"`
}

// PaymentPayload is the document carried in the PAYMENT-SIGNATURE header.
type PaymentPayload struct {
	X402Version X402Version         `json:"x402Version"`
	Resource    *ResourceInfo       `json:"resource,omitempty"`
	Accepted    PaymentRequirements `json:"accepted"`
	Payload     json.RawMessage     `json:"payload"`
	Extensions  *Extensions         `json:"extensions,omitempty"`
}

// RequestBody is the facilitator request body.
type RequestBody struct {
	PaymentPayload      *PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}
