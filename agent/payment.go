// Package agent implements the buyer: decision policies, the pay-per-request
// run loop and run persistence.
package agent

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/raid-guild/arcmeter-go/codec"
	"github.com/raid-guild/arcmeter-go/core"
	"github.com/raid-guild/arcmeter-go/types"
	v2 "github.com/raid-guild/arcmeter-go/types/v2"
)

// Payment errors, each reported as the error of an ERROR event.
var (
	ErrNoAccepts    = errors.New("no_accepts")
	ErrMissingTerms = errors.New("missing_terms")
	ErrInvalidTerms = errors.New("invalid_terms")

	// The accepted requirements disagree with the signed terms
	ErrAmountMismatch    = errors.New("amount_mismatch")
	ErrNetworkMismatch   = errors.New("invalid_network")
	ErrRecipientMismatch = errors.New("invalid_recipient")
)

var offerErrors = []error{
	ErrNoAccepts,
	ErrMissingTerms,
	ErrInvalidTerms,
	ErrAmountMismatch,
	ErrNetworkMismatch,
	ErrRecipientMismatch,
}

// Offer is a decoded PAYMENT-REQUIRED document.
type Offer struct {
	Required v2.PaymentRequired
	Accepted v2.PaymentRequirements
	TermsB64 string
	Terms    types.PaymentTerms
}

// ParseOffer decodes a PAYMENT-REQUIRED header value and picks the first
// accepted requirements.
func ParseOffer(header string) (Offer, error) {

	// Decode the payment required document
	required, err := codec.DecodeAs[v2.PaymentRequired](header)
	if err != nil {
		return Offer{}, err
	}

	// Pick the first accepted requirements
	if len(required.Accepts) == 0 {
		return Offer{Required: required}, ErrNoAccepts
	}

	// Get the terms embedded in the extension slot
	termsB64 := required.Extensions.TermsB64()
	if termsB64 == "" {
		return Offer{Required: required, Accepted: required.Accepts[0]}, ErrMissingTerms
	}

	// Decode the terms
	terms, err := codec.DecodeAs[types.PaymentTerms](termsB64)
	if err != nil {
		return Offer{Required: required, Accepted: required.Accepts[0]}, fmt.Errorf("%w: %v", ErrInvalidTerms, err)
	}

	offer := Offer{
		Required: required,
		Accepted: required.Accepts[0],
		TermsB64: termsB64,
		Terms:    terms,
	}
	return offer, checkOffer(offer)
}

// checkOffer makes sure the requirements the agent would pay against are
// the ones the signed terms describe.
func checkOffer(offer Offer) error {
	if amount := core.ToAtomicUnits(offer.Terms.AmountUSD); offer.Accepted.Amount != amount {
		return fmt.Errorf("%w: accepts %s, terms %s", ErrAmountMismatch, offer.Accepted.Amount, amount)
	}
	if offer.Accepted.Network != offer.Terms.ChainID {
		return fmt.Errorf("%w: accepts %s, terms %s", ErrNetworkMismatch, offer.Accepted.Network, offer.Terms.ChainID)
	}
	if offer.Accepted.PayTo != offer.Terms.Recipient {
		return fmt.Errorf("%w: accepts %s, terms %s", ErrRecipientMismatch, offer.Accepted.PayTo, offer.Terms.Recipient)
	}
	return nil
}

// Payment is a signed answer to an Offer.
type Payment struct {
	Payload v2.PaymentPayload
	Proof   types.PaymentProof
	// Header is the PAYMENT-SIGNATURE header value.
	Header string
}

// BuildPayment signs the offer's terms as payer and wraps the proof in an
// x402 payment payload.
func BuildPayment(offer Offer, payer string, secret string) (Payment, error) {
	proof := core.Sign(offer.Terms, payer, secret)

	proofBytes, err := json.Marshal(proof)
	if err != nil {
		return Payment{}, fmt.Errorf("failed to marshal proof: %w", err)
	}

	payload := v2.PaymentPayload{
		X402Version: v2.X402Version2,
		Resource:    offer.Required.Resource,
		Accepted:    offer.Accepted,
		Payload:     proofBytes,
		Extensions: &v2.Extensions{
			ArcMeter: &v2.ArcMeterExtension{TermsB64: offer.TermsB64},
		},
	}

	header, err := codec.Encode(payload)
	if err != nil {
		return Payment{}, err
	}

	return Payment{Payload: payload, Proof: proof, Header: header}, nil
}
