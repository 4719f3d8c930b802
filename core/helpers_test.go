package core

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/arcmeter-go/codec"
	"github.com/raid-guild/arcmeter-go/types"
	v2 "github.com/raid-guild/arcmeter-go/types/v2"
)

const testSecret = "test-secret"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupClock(t *testing.T, now time.Time) {
	t.Helper()

	originalNow := Now
	t.Cleanup(func() {
		Now = originalNow
	})

	Now = func() time.Time {
		return now
	}
}

func setupRequestID(t *testing.T, id string) {
	t.Helper()

	originalNewRequestID := NewRequestID
	t.Cleanup(func() {
		NewRequestID = originalNewRequestID
	})

	NewRequestID = func() string {
		return id
	}
}

func testTerms() types.PaymentTerms {
	return types.PaymentTerms{
		RequestID: "req-1",
		AmountUSD: decimal.RequireFromString("0.01"),
		Currency:  types.CurrencyUSDC,
		ChainID:   types.NetworkLocal,
		Recipient: "demo_seller",
		ExpiresAt: types.FormatTime(testNow.Add(60 * time.Second)),
		Resource:  "http://localhost:3001/signal",
	}
}

// testEnvelope builds a signed payment payload and its requirements for terms.
func testEnvelope(t *testing.T, terms types.PaymentTerms, secret string) (v2.PaymentPayload, v2.PaymentRequirements) {
	t.Helper()

	termsB64, err := codec.Encode(terms)
	if err != nil {
		t.Fatalf("failed to encode terms: %v", err)
	}

	proofBytes, err := json.Marshal(Sign(terms, "demo_agent", secret))
	if err != nil {
		t.Fatalf("failed to marshal proof: %v", err)
	}

	requirements := NewTermsIssuer(DefaultTermsConfig()).ToRequirements(terms)

	payload := v2.PaymentPayload{
		X402Version: v2.X402Version2,
		Resource:    &v2.ResourceInfo{URL: terms.Resource},
		Accepted:    requirements,
		Payload:     proofBytes,
		Extensions: &v2.Extensions{
			ArcMeter: &v2.ArcMeterExtension{TermsB64: termsB64},
		},
	}

	return payload, requirements
}
