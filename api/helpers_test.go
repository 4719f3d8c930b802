package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/arcmeter-go/agent"
	"github.com/raid-guild/arcmeter-go/auth"
	"github.com/raid-guild/arcmeter-go/clients"
	"github.com/raid-guild/arcmeter-go/codec"
	"github.com/raid-guild/arcmeter-go/core"
	"github.com/raid-guild/arcmeter-go/store"
	"github.com/raid-guild/arcmeter-go/types"
	v1 "github.com/raid-guild/arcmeter-go/types/v1"
	v2 "github.com/raid-guild/arcmeter-go/types/v2"
)

const (
	testSecret      = "test-secret"
	testAdminSecret = "dev-secret"
)

var testPrice = decimal.RequireFromString("0.01")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFacilitatorHandler(apiKeys auth.APIKeyConfig, upstream Facilitator) *FacilitatorHandler {
	return NewFacilitatorHandler(
		core.FacilitatorConfig{Secret: testSecret, EnforceExpiry: true},
		apiKeys,
		upstream,
		discardLogger(),
	)
}

// testOffer issues terms the way the seller does and wraps them in an offer.
func testOffer(t *testing.T) agent.Offer {
	t.Helper()

	issuer := core.NewTermsIssuer(core.DefaultTermsConfig())
	terms := issuer.IssueTerms("http://seller.test/signal", testPrice)
	termsB64, err := codec.Encode(terms)
	if err != nil {
		t.Fatalf("failed to encode terms: %v", err)
	}

	accepted := issuer.ToRequirements(terms)
	return agent.Offer{
		Required: v2.PaymentRequired{
			X402Version: v2.X402Version2,
			Resource:    &v2.ResourceInfo{URL: terms.Resource},
			Accepts:     []v2.PaymentRequirements{accepted},
			Extensions:  &v2.Extensions{ArcMeter: &v2.ArcMeterExtension{TermsB64: termsB64}},
		},
		Accepted: accepted,
		TermsB64: termsB64,
		Terms:    terms,
	}
}

// envelopeBody returns a facilitator request body paying a fresh offer.
func envelopeBody(t *testing.T, secret string) string {
	t.Helper()

	payment, err := agent.BuildPayment(testOffer(t), "demo_agent", secret)
	if err != nil {
		t.Fatalf("failed to build payment: %v", err)
	}

	body, err := json.Marshal(v2.RequestBody{
		PaymentPayload:      &payment.Payload,
		PaymentRequirements: &payment.Payload.Accepted,
	})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return string(body)
}

// legacyBody returns a legacy facilitator request body paying a fresh offer.
func legacyBody(t *testing.T, secret string) string {
	t.Helper()

	offer := testOffer(t)
	proofB64, err := codec.Encode(core.Sign(offer.Terms, "demo_agent", secret))
	if err != nil {
		t.Fatalf("failed to encode proof: %v", err)
	}

	body, err := json.Marshal(v1.VerifyRequest{TermsB64: offer.TermsB64, ProofB64: proofB64})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return string(body)
}

func verify(t *testing.T, h *FacilitatorHandler, apiKey string, body string, expectedStatus int, checkResponse func(*testing.T, types.VerifyResponse)) {
	t.Helper()

	w := httptest.NewRecorder()

	req := httptest.NewRequest("POST", "/verify", nil)
	if apiKey != "" {
		req.Header.Set(auth.APIKeyHeader, apiKey)
	}
	req.Body = io.NopCloser(strings.NewReader(body))

	h.Verify(w, req)

	if w.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d. Body: %s", expectedStatus, w.Code, w.Body.String())
	}

	if checkResponse != nil {
		var response types.VerifyResponse
		if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to decode response: %v. Body: %s", err, w.Body.String())
		}
		checkResponse(t, response)
	}
}

func settle(t *testing.T, h *FacilitatorHandler, apiKey string, body string, expectedStatus int, checkResponse func(*testing.T, types.SettleResponse)) {
	t.Helper()

	w := httptest.NewRecorder()

	req := httptest.NewRequest("POST", "/settle", nil)
	if apiKey != "" {
		req.Header.Set(auth.APIKeyHeader, apiKey)
	}
	req.Body = io.NopCloser(strings.NewReader(body))

	h.Settle(w, req)

	if w.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d. Body: %s", expectedStatus, w.Code, w.Body.String())
	}

	if checkResponse != nil {
		var response types.SettleResponse
		if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to decode response: %v. Body: %s", err, w.Body.String())
		}
		checkResponse(t, response)
	}
}

// stack is a facilitator and a seller wired together over HTTP.
type stack struct {
	facilitator *httptest.Server
	seller      *httptest.Server
	store       store.Store
}

type stackOptions struct {
	rejectReplays bool
	// facilitator replaces the HTTP facilitator client when set
	facilitator Facilitator
}

func setupStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()

	logger := discardLogger()

	facilitator := httptest.NewServer(NewFacilitatorRouter(newTestFacilitatorHandler(auth.APIKeyConfig{}, nil), logger))
	t.Cleanup(facilitator.Close)

	st, err := store.OpenFile(filepath.Join(t.TempDir(), "seller.json"), false)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	var upstream Facilitator = clients.NewFacilitatorClient(facilitator.URL, 5*time.Second)
	if opts.facilitator != nil {
		upstream = opts.facilitator
	}

	h := NewSellerHandler(
		SellerConfig{
			AdminSecret:   testAdminSecret,
			RejectReplays: opts.rejectReplays,
		},
		st,
		core.NewPricingPolicy(testPrice),
		core.NewTermsIssuer(core.DefaultTermsConfig()),
		upstream,
		logger,
	)
	seller := httptest.NewServer(NewSellerRouter(h, logger))
	t.Cleanup(seller.Close)

	return &stack{facilitator: facilitator, seller: seller, store: st}
}

// get sends a GET to url with the given headers.
func get(t *testing.T, url string, header map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

// post sends a POST with a JSON body to url with the given headers.
func post(t *testing.T, url string, body string, header map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decodeResponse[T any](t *testing.T, res *http.Response) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

// fetchOffer requests the protected resource without payment and parses the 402.
func fetchOffer(t *testing.T, url string) agent.Offer {
	t.Helper()

	res := get(t, url, nil)
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", res.StatusCode)
	}

	offer, err := agent.ParseOffer(res.Header.Get(types.PaymentRequiredHeader))
	if err != nil {
		t.Fatalf("failed to parse offer: %v", err)
	}
	return offer
}
