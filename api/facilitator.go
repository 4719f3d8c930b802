package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/raid-guild/arcmeter-go/auth"
	"github.com/raid-guild/arcmeter-go/codec"
	"github.com/raid-guild/arcmeter-go/core"
	"github.com/raid-guild/arcmeter-go/types"
	v1 "github.com/raid-guild/arcmeter-go/types/v1"
	v2 "github.com/raid-guild/arcmeter-go/types/v2"
	"github.com/raid-guild/arcmeter-go/utils"
)

// Facilitator modes reported by the health endpoint.
const (
	modeLocalDemo = "local_demo"
	modeUpstream  = "upstream"
)

// Facilitator verifies and settles payments. The seller talks to it over
// HTTP; the facilitator handler can in turn proxy to an upstream facilitator.
type Facilitator interface {
	Verify(ctx context.Context, body v2.RequestBody) (types.VerifyResponse, error)
	Settle(ctx context.Context, body v2.RequestBody) (types.SettleResponse, error)
}

// facilitatorRequest accepts both the legacy and the envelope body.
type facilitatorRequest struct {
	v1.VerifyRequest
	v2.RequestBody
}

// FacilitatorHandler serves the facilitator endpoints.
type FacilitatorHandler struct {
	cfg      core.FacilitatorConfig
	auth     auth.APIKeyConfig
	upstream Facilitator
	log      *slog.Logger
}

// NewFacilitatorHandler creates a new FacilitatorHandler. A nil upstream
// verifies locally with the demo scheme.
func NewFacilitatorHandler(cfg core.FacilitatorConfig, apiKeys auth.APIKeyConfig, upstream Facilitator, logger *slog.Logger) *FacilitatorHandler {
	return &FacilitatorHandler{
		cfg:      cfg,
		auth:     apiKeys,
		upstream: upstream,
		log:      logger,
	}
}

// Verify handles POST /verify.
func (h *FacilitatorHandler) Verify(w http.ResponseWriter, r *http.Request) {

	// Authenticate request
	if err := auth.Authenticate(r, h.auth); err != nil {
		writeError(w, h.log, utils.StatusOf(err), err.Error())
		return
	}

	// Decode the request body
	var body facilitatorRequest
	if err := decodeBody(r, &body, false); err != nil {
		h.writeVerifyResponse(w, http.StatusBadRequest, invalidVerifyResponse(types.InvalidReasonInvalidRequest))
		return
	}

	// Check for the legacy body
	if body.IsLegacy() {
		response, err := core.VerifyLegacy(h.cfg, body.VerifyRequest)
		if err != nil {
			h.writeVerifyError(w, err)
			return
		}
		h.writeVerifyResponse(w, http.StatusOK, response)
		return
	}

	// Check the envelope is complete
	if body.PaymentPayload == nil || body.PaymentRequirements == nil {
		h.writeVerifyResponse(w, http.StatusBadRequest, invalidVerifyResponse(types.InvalidReasonInvalidRequest))
		return
	}

	// Check if the request is proxied
	if h.upstream != nil {
		response, err := h.upstream.Verify(r.Context(), body.RequestBody)
		if err != nil {
			h.log.Error("upstream verify failed", "err", err)
			h.writeVerifyResponse(w, http.StatusBadGateway, invalidVerifyResponse(types.InvalidReasonUpstreamVerifyFailed))
			return
		}
		h.writeVerifyResponse(w, http.StatusOK, response)
		return
	}

	// Verify the payment locally
	response := core.VerifyPayment(h.cfg, *body.PaymentPayload, *body.PaymentRequirements)
	if !response.IsValid {
		h.log.Info("payment rejected", "reason", response.InvalidReason)
	}
	h.writeVerifyResponse(w, http.StatusOK, response)
}

// Settle handles POST /settle.
func (h *FacilitatorHandler) Settle(w http.ResponseWriter, r *http.Request) {

	// Authenticate request
	if err := auth.Authenticate(r, h.auth); err != nil {
		writeError(w, h.log, utils.StatusOf(err), err.Error())
		return
	}

	// Decode the request body
	var body facilitatorRequest
	if err := decodeBody(r, &body, false); err != nil {
		h.writeSettleResponse(w, http.StatusBadRequest, failedSettleResponse(types.ErrorReasonInvalidRequest, ""))
		return
	}

	// Check for the legacy body
	if body.IsLegacy() {
		response, err := core.SettleLegacy(h.cfg, body.VerifyRequest)
		if err != nil {
			h.writeSettleError(w, err)
			return
		}
		h.writeSettleResponse(w, http.StatusOK, response)
		return
	}

	// Check the envelope is complete
	if body.PaymentPayload == nil || body.PaymentRequirements == nil {
		h.writeSettleResponse(w, http.StatusBadRequest, failedSettleResponse(types.ErrorReasonInvalidRequest, ""))
		return
	}

	// Check if the request is proxied
	if h.upstream != nil {
		response, err := h.upstream.Settle(r.Context(), body.RequestBody)
		if err != nil {
			h.log.Error("upstream settle failed", "err", err)
			h.writeSettleResponse(w, http.StatusBadGateway, failedSettleResponse(types.ErrorReasonUpstreamSettleFailed, body.PaymentRequirements.Network))
			return
		}
		h.writeSettleResponse(w, http.StatusOK, response)
		return
	}

	// Settle the payment locally
	response := core.SettlePayment(h.cfg, *body.PaymentPayload, *body.PaymentRequirements)
	if response.Success {
		h.log.Info("payment settled", "payer", response.Payer, "transaction", response.Transaction)
	}
	h.writeSettleResponse(w, http.StatusOK, response)
}

// Supported handles GET /supported.
func (h *FacilitatorHandler) Supported(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.log, http.StatusOK, buildSupportedResponse())
}

// Health handles GET /health.
func (h *FacilitatorHandler) Health(w http.ResponseWriter, _ *http.Request) {
	mode := modeLocalDemo
	if h.upstream != nil {
		mode = modeUpstream
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{
		"ok":   true,
		"mode": mode,
		"time": types.FormatTime(core.Now()),
	})
}

// buildSupportedResponse builds the supported response.
func buildSupportedResponse() types.SupportedResponse {
	return types.SupportedResponse{
		Kinds: []types.SupportedKind{
			{
				X402Version: int(v2.X402Version2),
				Scheme:      string(v2.SchemeLocalDemo),
				Network:     types.NetworkLocal,
			},
		},
		Extensions: []string{},
		Signers:    map[string]string{},
	}
}

func (h *FacilitatorHandler) writeVerifyError(w http.ResponseWriter, err error) {
	if errors.Is(err, codec.ErrDecode) {
		h.writeVerifyResponse(w, http.StatusBadRequest, invalidVerifyResponse(types.InvalidReasonInvalidRequest))
		return
	}
	h.log.Error("verify failed", "err", err)
	h.writeVerifyResponse(w, http.StatusInternalServerError, invalidVerifyResponse(types.InvalidReasonUnexpectedVerifyError))
}

func (h *FacilitatorHandler) writeSettleError(w http.ResponseWriter, err error) {
	if errors.Is(err, codec.ErrDecode) {
		h.writeSettleResponse(w, http.StatusBadRequest, failedSettleResponse(types.ErrorReasonInvalidRequest, ""))
		return
	}
	h.log.Error("settle failed", "err", err)
	h.writeSettleResponse(w, http.StatusInternalServerError, failedSettleResponse(types.ErrorReasonUnexpectedSettleError, ""))
}

// writeVerifyResponse writes the verify response to the response body.
func (h *FacilitatorHandler) writeVerifyResponse(w http.ResponseWriter, status int, response types.VerifyResponse) {
	writeJSON(w, h.log, status, response)
}

// writeSettleResponse writes the settle response to the response body.
func (h *FacilitatorHandler) writeSettleResponse(w http.ResponseWriter, status int, response types.SettleResponse) {
	writeJSON(w, h.log, status, response)
}

func invalidVerifyResponse(reason types.InvalidReason) types.VerifyResponse {
	return types.VerifyResponse{IsValid: false, InvalidReason: reason}
}

func failedSettleResponse(reason types.ErrorReason, network types.Network) types.SettleResponse {
	return types.SettleResponse{Success: false, ErrorReason: reason, Network: network}
}

// NewFacilitatorRouter returns the facilitator routes.
func NewFacilitatorRouter(h *FacilitatorHandler, logger *slog.Logger) http.Handler {
	r := newRouter(logger)
	r.Get("/health", h.Health)
	r.Get("/supported", h.Supported)
	r.Post("/verify", h.Verify)
	r.Post("/settle", h.Settle)
	return r
}
