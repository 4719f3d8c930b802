package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/arcmeter-go/auth"
	"github.com/raid-guild/arcmeter-go/clients"
	"github.com/raid-guild/arcmeter-go/codec"
	"github.com/raid-guild/arcmeter-go/core"
	"github.com/raid-guild/arcmeter-go/store"
	"github.com/raid-guild/arcmeter-go/types"
	v2 "github.com/raid-guild/arcmeter-go/types/v2"
	"github.com/raid-guild/arcmeter-go/utils"
)

// NewReceiptID returns a fresh receipt identifier. This variable can be overridden in tests.
var NewReceiptID = func() string {
	return uuid.NewString()
}

// SellerConfig is the configuration of the seller endpoints.
type SellerConfig struct {
	// AdminSecret guards the admin endpoints.
	AdminSecret string
	// ClientIDHeader names the header recorded on receipts.
	ClientIDHeader string
	// RejectReplays refuses a second settlement for a request id already in the ledger.
	RejectReplays bool
	// EnvDefaultRaiseMode is the raise mode the process started with.
	EnvDefaultRaiseMode bool
	// Description is advertised in the resource info of a 402.
	Description string
}

// SellerHandler serves the seller endpoints and gates protected resources.
type SellerHandler struct {
	cfg         SellerConfig
	store       store.Store
	pricing     core.PricingPolicy
	issuer      *core.TermsIssuer
	facilitator Facilitator
	log         *slog.Logger
}

// NewSellerHandler creates a new SellerHandler.
func NewSellerHandler(
	cfg SellerConfig,
	st store.Store,
	pricing core.PricingPolicy,
	issuer *core.TermsIssuer,
	facilitator Facilitator,
	logger *slog.Logger,
) *SellerHandler {
	if cfg.ClientIDHeader == "" {
		cfg.ClientIDHeader = "X-CLIENT-ID"
	}
	if cfg.Description == "" {
		cfg.Description = "ArcMeter paid signal"
	}
	return &SellerHandler{
		cfg:         cfg,
		store:       st,
		pricing:     pricing,
		issuer:      issuer,
		facilitator: facilitator,
		log:         logger,
	}
}

// Payment is the settled payment of a released request.
type Payment struct {
	Settlement types.SettleResponse
	Accepted   v2.PaymentRequirements
	Receipt    types.Receipt
}

type paymentKey struct{}

// PaymentFromContext returns the payment settled for the current request.
func PaymentFromContext(ctx context.Context) (Payment, bool) {
	p, ok := ctx.Value(paymentKey{}).(Payment)
	return p, ok
}

// Paywall gates next behind an x402 payment.
func (h *SellerHandler) Paywall(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resourceURL := requestURL(r)

		// Check for a payment
		header := r.Header.Get(types.PaymentSignatureHeader)
		if header == "" {
			h.requirePayment(w, r, resourceURL, errorBody{Error: "payment_required"})
			return
		}

		// Decode the payment payload
		payload, err := codec.DecodeAs[v2.PaymentPayload](header)
		if err != nil {
			writeError(w, h.log, http.StatusBadRequest, "invalid_payment_signature")
			return
		}
		body := v2.RequestBody{PaymentPayload: &payload, PaymentRequirements: &payload.Accepted}

		// Verify the payment
		verified, err := h.facilitator.Verify(ctx, body)
		if err != nil {
			h.writeFailure(w, err)
			return
		}
		if !verified.IsValid {
			reason := string(verified.InvalidReason)
			if reason == "" {
				reason = "invalid"
			}
			h.log.Info("payment invalid", "reason", reason, "resource", resourceURL)
			h.requirePayment(w, r, resourceURL, errorBody{Error: "payment_invalid", Reason: reason})
			return
		}

		proof, err := decodeProof(payload)
		if err != nil {
			h.log.Warn("payment payload is not a demo proof", "err", err, "resource", resourceURL)
		}

		// Check the request has not been paid already
		if h.cfg.RejectReplays && proof.RequestID != "" {
			paid, err := h.store.HasReceipt(ctx, proof.RequestID)
			if err != nil {
				h.writeFailure(w, err)
				return
			}
			if paid {
				h.log.Info("payment replayed", "requestId", proof.RequestID)
				h.requirePayment(w, r, resourceURL, errorBody{
					Error:  "payment_invalid",
					Reason: string(types.InvalidReasonProofAlreadyUsed),
				})
				return
			}
		}

		// Settle the payment
		settled, err := h.facilitator.Settle(ctx, body)
		if err != nil {
			h.writeFailure(w, err)
			return
		}
		if !settled.Success {
			reason := string(settled.ErrorReason)
			if reason == "" {
				reason = "failed"
			}
			h.log.Info("settlement failed", "reason", reason, "resource", resourceURL)
			writeJSON(w, h.log, http.StatusPaymentRequired, errorBody{Error: "settlement_failed", Reason: reason})
			return
		}

		// Record the receipt
		payer := settled.Payer
		if payer == "" {
			payer = verified.Payer
		}
		receipt := types.Receipt{
			ID:            NewReceiptID(),
			CreatedAt:     types.FormatTime(store.Now()),
			RequestID:     proof.RequestID,
			Payer:         payer,
			AmountUSD:     proof.AmountUSD,
			TxHash:        settled.Transaction,
			ClientID:      r.Header.Get(h.cfg.ClientIDHeader),
			RawSettlement: &settled,
		}
		if err := h.store.AppendReceipt(ctx, receipt); err != nil {
			h.writeFailure(w, err)
			return
		}
		h.log.Info("payment accepted",
			"requestId", receipt.RequestID,
			"payer", receipt.Payer,
			"amountUsd", receipt.AmountUSD.String(),
			"txHash", receipt.TxHash,
		)

		// Attach the settlement response
		response, err := codec.Encode(settled)
		if err != nil {
			h.writeFailure(w, err)
			return
		}
		w.Header().Set(types.PaymentResponseHeader, response)

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, paymentKey{}, Payment{
			Settlement: settled,
			Accepted:   payload.Accepted,
			Receipt:    receipt,
		})))
	})
}

// requirePayment issues fresh terms and answers 402 with body.
func (h *SellerHandler) requirePayment(w http.ResponseWriter, r *http.Request, resourceURL string, body errorBody) {
	ctx := r.Context()

	// Price the request from the current state
	state, err := h.store.State(ctx)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	priceUSD := h.pricing.PriceUSD(state.PriceRaiseMode)

	// Issue and record the terms
	terms := h.issuer.IssueTerms(resourceURL, priceUSD)
	termsB64, err := codec.Encode(terms)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if err := h.store.PutTerms(ctx, terms.RequestID, termsB64); err != nil {
		h.writeFailure(w, err)
		return
	}

	// Build the payment required document
	required := v2.PaymentRequired{
		X402Version: v2.X402Version2,
		Error:       "PAYMENT-SIGNATURE header is required",
		Resource: &v2.ResourceInfo{
			URL:         resourceURL,
			Description: h.cfg.Description,
			MimeType:    "application/json",
		},
		Accepts: []v2.PaymentRequirements{h.issuer.ToRequirements(terms)},
		Extensions: &v2.Extensions{
			ArcMeter: &v2.ArcMeterExtension{TermsB64: termsB64},
		},
	}
	header, err := codec.Encode(required)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	h.log.Debug("terms issued", "requestId", terms.RequestID, "amountUsd", priceUSD.String())

	w.Header().Set(types.PaymentRequiredHeader, header)
	writeJSON(w, h.log, http.StatusPaymentRequired, body)
}

// writeFailure answers an unexpected failure of the gate.
func (h *SellerHandler) writeFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, clients.ErrUpstream) {
		h.log.Error("facilitator request failed", "err", err)
		writeError(w, h.log, http.StatusBadGateway, "facilitator_unavailable")
		return
	}
	h.log.Error("paywall failed", "err", err)
	writeError(w, h.log, http.StatusInternalServerError, "internal_error")
}

// signal is the protected resource.
type signal struct {
	Score decimal.Decimal `json:"score"`
	Label string          `json:"label"`
}

// Signal handles GET /signal behind the paywall.
func (h *SellerHandler) Signal(w http.ResponseWriter, r *http.Request) {
	payment, ok := PaymentFromContext(r.Context())
	if !ok {
		writeError(w, h.log, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{
		"ok":        true,
		"signal":    signal{Score: decimal.RequireFromString("0.73"), Label: "ARC_MOMENTUM"},
		"txHash":    payment.Settlement.Transaction,
		"payer":     payment.Settlement.Payer,
		"accepted":  payment.Accepted,
		"receiptId": payment.Receipt.ID,
	})
}

// Health handles GET /health.
func (h *SellerHandler) Health(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.State(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{
		"ok":             true,
		"priceRaiseMode": state.PriceRaiseMode,
		"envDefault":     h.cfg.EnvDefaultRaiseMode,
	})
}

// SetPriceMode handles POST /admin/price-mode.
func (h *SellerHandler) SetPriceMode(w http.ResponseWriter, r *http.Request) {

	// Authenticate request
	if err := auth.AuthenticateAdmin(r, h.cfg.AdminSecret); err != nil {
		writeError(w, h.log, utils.StatusOf(err), err.Error())
		return
	}

	// Decode the request body
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, h.log, http.StatusBadRequest, "invalid_request")
		return
	}

	// Update the state
	state, err := h.store.SetPriceRaiseMode(r.Context(), body.Enabled)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.log.Info("price mode updated", "priceRaiseMode", state.PriceRaiseMode)

	writeJSON(w, h.log, http.StatusOK, map[string]any{"ok": true, "state": state})
}

// Receipts handles GET /admin/receipts.
func (h *SellerHandler) Receipts(w http.ResponseWriter, r *http.Request) {

	// Authenticate request
	if err := auth.AuthenticateAdmin(r, h.cfg.AdminSecret); err != nil {
		writeError(w, h.log, utils.StatusOf(err), err.Error())
		return
	}

	receipts, err := h.store.Receipts(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"receipts": receipts})
}

// NewSellerRouter returns the seller routes.
func NewSellerRouter(h *SellerHandler, logger *slog.Logger) http.Handler {
	r := newRouter(logger)
	r.Get("/health", h.Health)
	r.With(h.Paywall).Get("/signal", h.Signal)
	r.Route("/admin", func(r chi.Router) {
		r.Post("/price-mode", h.SetPriceMode)
		r.Get("/receipts", h.Receipts)
	})
	return r
}

// requestURL returns the absolute URL of the request.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// decodeProof reads the proof fields recorded on the receipt. A payload that
// is not a demo proof falls back to the request id and amount of the terms
// it answers, and the decode error is returned alongside.
func decodeProof(payload v2.PaymentPayload) (types.PaymentProof, error) {
	var proof types.PaymentProof
	err := json.Unmarshal(payload.Payload, &proof)
	if err == nil && proof.RequestID != "" {
		return proof, nil
	}
	if err == nil {
		err = errors.New("payload carries no request id")
	}

	if terms, termsErr := codec.DecodeAs[types.PaymentTerms](payload.Extensions.TermsB64()); termsErr == nil {
		proof.RequestID = terms.RequestID
		proof.AmountUSD = terms.AmountUSD
	}
	return proof, fmt.Errorf("failed to decode proof: %w", err)
}
