package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/raid-guild/arcmeter-go/types"
)

// txHashPrefix marks transaction identifiers derived by the local demo scheme.
const txHashPrefix = "local_"

// VerifyResult is the result of verifying a proof. It is either VerifyOK or VerifyFailed.
type VerifyResult interface {
	isVerifyResult()
}

// VerifyOK is a successful verification.
type VerifyOK struct {
	TxHash    string
	Payer     string
	AmountUSD decimal.Decimal
	Currency  types.Currency
	Timestamp string
	Proof     types.PaymentProof
}

// VerifyFailed is a failed verification.
type VerifyFailed struct {
	Reason types.InvalidReason
}

func (VerifyOK) isVerifyResult()     {}
func (VerifyFailed) isVerifyResult() {}

// Canonicalize returns the signing pre-image of terms.
func Canonicalize(t types.PaymentTerms) string {
	return strings.Join([]string{
		t.RequestID,
		t.AmountUSD.StringFixed(6),
		string(t.Currency),
		string(t.ChainID),
		t.Recipient,
		t.ExpiresAt,
		t.Resource,
	}, "|")
}

// Sign builds a proof for terms on behalf of payer.
func Sign(terms types.PaymentTerms, payer string, secret string) types.PaymentProof {
	issuedAt := types.FormatTime(Now())
	return types.PaymentProof{
		Kind:      types.ProofKindLocalDemoHMACV1,
		RequestID: terms.RequestID,
		Payer:     payer,
		AmountUSD: terms.AmountUSD,
		Currency:  terms.Currency,
		IssuedAt:  issuedAt,
		Sig:       signature(secret, proofMessage(terms, payer, issuedAt)),
	}
}

// Verify checks proof against terms and the shared secret.
func Verify(proof types.PaymentProof, terms types.PaymentTerms, secret string) VerifyResult {

	// Check the proof kind
	if proof.Kind != types.ProofKindLocalDemoHMACV1 {
		return VerifyFailed{Reason: types.InvalidReasonUnsupportedProofKind}
	}

	// Check the proof answers these terms
	if proof.RequestID != terms.RequestID {
		return VerifyFailed{Reason: types.InvalidReasonRequestIDMismatch}
	}

	// Check the amount is bound to the terms
	if !proof.AmountUSD.Equal(terms.AmountUSD) {
		return VerifyFailed{Reason: types.InvalidReasonAmountMismatch}
	}

	// Check the currency is bound to the terms
	if proof.Currency != terms.Currency {
		return VerifyFailed{Reason: types.InvalidReasonCurrencyMismatch}
	}

	// Decode the provided signature
	provided, err := hex.DecodeString(proof.Sig)
	if err != nil {
		return VerifyFailed{Reason: types.InvalidReasonBadSignature}
	}

	// Recompute the expected signature over the same message
	expected := mac(secret, proofMessage(terms, proof.Payer, proof.IssuedAt))

	// Compare in constant time
	if subtle.ConstantTimeCompare(expected, provided) != 1 {
		return VerifyFailed{Reason: types.InvalidReasonBadSignature}
	}

	return VerifyOK{
		TxHash:    DeriveTxHash(proof),
		Payer:     proof.Payer,
		AmountUSD: proof.AmountUSD,
		Currency:  proof.Currency,
		Timestamp: types.FormatTime(Now()),
		Proof:     proof,
	}
}

// DeriveTxHash returns the settlement transaction identifier of a proof.
func DeriveTxHash(proof types.PaymentProof) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(proof.Kind),
		proof.RequestID,
		proof.Payer,
		proof.Sig,
	}, "|")))
	return txHashPrefix + hex.EncodeToString(sum[:])
}

func proofMessage(terms types.PaymentTerms, payer string, issuedAt string) string {
	return strings.Join([]string{Canonicalize(terms), payer, issuedAt}, "|")
}

func mac(secret string, message string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return h.Sum(nil)
}

func signature(secret string, message string) string {
	return hex.EncodeToString(mac(secret, message))
}
