package core

import (
	"bytes"

	"github.com/goccy/go-json"

	"github.com/raid-guild/arcmeter-go/codec"
	"github.com/raid-guild/arcmeter-go/types"
	v1 "github.com/raid-guild/arcmeter-go/types/v1"
	v2 "github.com/raid-guild/arcmeter-go/types/v2"
)

// FacilitatorConfig is the configuration for the verify and settle operations.
type FacilitatorConfig struct {
	Secret        string
	EnforceExpiry bool
}

// VerifyLegacy verifies already-separated base64 terms and proof. A decode
// failure is returned as a *codec.DecodeError.
func VerifyLegacy(c FacilitatorConfig, r v1.VerifyRequest) (types.VerifyResponse, error) {
	result, err := verifyLegacy(c, r)
	if err != nil {
		return types.VerifyResponse{}, err
	}
	return toVerifyResponse(result), nil
}

// VerifyPayment verifies an x402 payment payload against the declared requirements.
func VerifyPayment(c FacilitatorConfig, p v2.PaymentPayload, r v2.PaymentRequirements) types.VerifyResponse {
	return toVerifyResponse(verifyPayment(c, p, r))
}

func verifyLegacy(c FacilitatorConfig, r v1.VerifyRequest) (VerifyResult, error) {

	// Decode the terms
	terms, err := codec.DecodeAs[types.PaymentTerms](r.TermsB64)
	if err != nil {
		return nil, err
	}

	// Decode the proof
	proof, err := codec.DecodeAs[types.PaymentProof](r.ProofB64)
	if err != nil {
		return nil, err
	}

	return verifyProof(c, proof, terms), nil
}

func verifyPayment(c FacilitatorConfig, p v2.PaymentPayload, r v2.PaymentRequirements) VerifyResult {

	// Check the x402 version
	if p.X402Version != v2.X402Version2 {
		return VerifyFailed{Reason: types.InvalidReasonInvalidX402Version}
	}

	// A missing or non-object payload carries no proof kind
	payload := bytes.TrimSpace(p.Payload)
	if len(payload) == 0 || payload[0] != '{' {
		return VerifyFailed{Reason: types.InvalidReasonUnsupportedScheme}
	}

	// Unmarshal the proof from the payload
	var proof types.PaymentProof
	if json.Unmarshal(payload, &proof) != nil {
		return VerifyFailed{Reason: types.InvalidReasonInvalidPayload}
	}

	// Check the proof kind
	if proof.Kind != types.ProofKindLocalDemoHMACV1 {
		return VerifyFailed{Reason: types.InvalidReasonUnsupportedScheme}
	}

	// Check the proof carries every required field
	if proof.RequestID == "" || proof.Payer == "" || proof.IssuedAt == "" || proof.Sig == "" {
		return VerifyFailed{Reason: types.InvalidReasonInvalidPayload}
	}

	// Get the terms embedded in the extension slot
	termsB64 := p.Extensions.TermsB64()
	if termsB64 == "" {
		return VerifyFailed{Reason: types.InvalidReasonMissingTerms}
	}

	// Decode the embedded terms
	terms, err := codec.DecodeAs[types.PaymentTerms](termsB64)
	if err != nil {
		return VerifyFailed{Reason: types.InvalidReasonInvalidTerms}
	}

	// Check the proof answers the embedded terms
	if terms.RequestID != proof.RequestID {
		return VerifyFailed{Reason: types.InvalidReasonRequestIDMismatch}
	}

	// Check the terms currency
	if terms.Currency != types.CurrencyUSDC {
		return VerifyFailed{Reason: types.InvalidReasonCurrencyMismatch}
	}

	// Check the requirements network matches the terms chain
	if r.Network != terms.ChainID {
		return VerifyFailed{Reason: types.InvalidReasonInvalidNetwork}
	}

	// Check the requirements payee matches the terms recipient
	if r.PayTo != terms.Recipient {
		return VerifyFailed{Reason: types.InvalidReasonInvalidRecipient}
	}

	// Check the declared atomic amount against our own conversion of the terms
	if r.Amount != ToAtomicUnits(terms.AmountUSD) {
		return VerifyFailed{Reason: types.InvalidReasonAmountMismatch}
	}

	// Check the proof amount matches the terms
	if !proof.AmountUSD.Equal(terms.AmountUSD) {
		return VerifyFailed{Reason: types.InvalidReasonAmountMismatch}
	}

	return verifyProof(c, proof, terms)
}

// verifyProof runs the proof engine, then the expiry check when enforced.
func verifyProof(c FacilitatorConfig, proof types.PaymentProof, terms types.PaymentTerms) VerifyResult {
	result := Verify(proof, terms, c.Secret)
	if _, ok := result.(VerifyOK); !ok || !c.EnforceExpiry {
		return result
	}

	// Check the terms have not expired
	expiresAt, err := types.ParseTime(terms.ExpiresAt)
	if err != nil {
		return VerifyFailed{Reason: types.InvalidReasonInvalidTerms}
	}
	if !Now().Before(expiresAt) {
		return VerifyFailed{Reason: types.InvalidReasonTermsExpired}
	}

	return result
}

func toVerifyResponse(result VerifyResult) types.VerifyResponse {
	switch r := result.(type) {
	case VerifyOK:
		return types.VerifyResponse{IsValid: true, Payer: r.Payer}
	case VerifyFailed:
		return types.VerifyResponse{IsValid: false, InvalidReason: r.Reason}
	default:
		return types.VerifyResponse{IsValid: false, InvalidReason: types.InvalidReasonUnexpectedVerifyError}
	}
}
