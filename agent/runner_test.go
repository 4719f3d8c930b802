package agent

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/arcmeter-go/clients"
	"github.com/raid-guild/arcmeter-go/codec"
	"github.com/raid-guild/arcmeter-go/core"
	"github.com/raid-guild/arcmeter-go/types"
	v2 "github.com/raid-guild/arcmeter-go/types/v2"
)

const testSecret = "test-secret"

// fakeSeller answers like the seller paywall, using the core package directly.
type fakeSeller struct {
	price    decimal.Decimal
	secret   string
	requests []http.Header

	// Overrides of the first response
	firstStatus int
	firstHeader string
	firstErr    error
	omitHeader  bool
}

func (s *fakeSeller) Get(_ context.Context, url string, header http.Header) (clients.Response, error) {
	s.requests = append(s.requests, header)

	sig := header.Get(types.PaymentSignatureHeader)
	if sig == "" {
		if s.firstErr != nil {
			return clients.Response{}, s.firstErr
		}
		if s.firstStatus != 0 {
			return clients.Response{Status: s.firstStatus, Header: http.Header{}, Body: []byte(`{"ok":true}`)}, nil
		}

		h := http.Header{}
		switch {
		case s.omitHeader:
		case s.firstHeader != "":
			h.Set(types.PaymentRequiredHeader, s.firstHeader)
		default:
			h.Set(types.PaymentRequiredHeader, s.paymentRequired(url))
		}
		return clients.Response{Status: http.StatusPaymentRequired, Header: h, Body: []byte(`{"error":"payment_required"}`)}, nil
	}

	payload, err := codec.DecodeAs[v2.PaymentPayload](sig)
	if err != nil {
		return clients.Response{Status: http.StatusBadRequest, Header: http.Header{}, Body: []byte(`{"error":"invalid_payment_signature"}`)}, nil
	}

	settled := core.SettlePayment(core.FacilitatorConfig{Secret: s.secret}, payload, payload.Accepted)
	if !settled.Success {
		body, _ := json.Marshal(map[string]any{"error": "payment_invalid", "reason": settled.ErrorReason})
		return clients.Response{Status: http.StatusPaymentRequired, Header: http.Header{}, Body: body}, nil
	}

	body, _ := json.Marshal(map[string]any{"ok": true, "txHash": settled.Transaction, "payer": settled.Payer})
	return clients.Response{Status: http.StatusOK, Header: http.Header{}, Body: body}, nil
}

func (s *fakeSeller) paymentRequired(url string) string {
	issuer := core.NewTermsIssuer(core.DefaultTermsConfig())
	terms := issuer.IssueTerms(url, s.price)
	termsB64, _ := codec.Encode(terms)
	header, _ := codec.Encode(v2.PaymentRequired{
		X402Version: v2.X402Version2,
		Resource:    &v2.ResourceInfo{URL: url},
		Accepts:     []v2.PaymentRequirements{issuer.ToRequirements(terms)},
		Extensions:  &v2.Extensions{ArcMeter: &v2.ArcMeterExtension{TermsB64: termsB64}},
	})
	return header
}

func setupRunner(t *testing.T, seller Fetcher, policy Policy) (*Runner, *MemoryRunStore) {
	t.Helper()

	originalNow := Now
	t.Cleanup(func() {
		Now = originalNow
	})
	Now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}

	runs := NewMemoryRunStore()
	runner := NewRunner(RunnerConfig{
		SellerBaseURL:    "http://seller.test/",
		Payer:            "demo_agent",
		Secret:           testSecret,
		MaxDailySpendUSD: decimal.RequireFromString("2"),
	}, seller, policy, runs, nil)

	return runner, runs
}

func eventTypes(log []types.AgentLogEvent) string {
	names := make([]string, len(log))
	for i, e := range log {
		names[i] = string(e.Type)
	}
	return strings.Join(names, ",")
}

func runRequest(maxSpend string) types.AgentRunRequest {
	return types.AgentRunRequest{
		Goal:          types.GoalGetSignal,
		MaxSpendUSD:   decimal.RequireFromString(maxSpend),
		ConfidenceMin: 0.5,
	}
}

func TestRunner_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("pays within budget", func(t *testing.T) {
		seller := &fakeSeller{price: decimal.RequireFromString("0.01"), secret: testSecret}
		runner, runs := setupRunner(t, seller, FallbackPolicy{})

		response, err := runner.Run(ctx, runRequest("0.05"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := "RUN_STARTED,FETCH_1,RECEIVED_402,DECISION,PAYMENT_CREATED,FETCH_2,RECEIVED_200"
		if got := eventTypes(response.DecisionLog); got != expected {
			t.Errorf("expected events %s, got %s", expected, got)
		}
		if !response.SpentUSD.Equal(decimal.RequireFromString("0.01")) {
			t.Errorf("unexpected spend %s", response.SpentUSD)
		}
		if response.Receipt == nil || !strings.HasPrefix(response.Receipt.TxHash, "local_") {
			t.Fatalf("unexpected receipt %#v", response.Receipt)
		}
		if response.Receipt.Payer != "demo_agent" || response.Receipt.RawProofJSON == nil {
			t.Errorf("unexpected receipt %#v", response.Receipt)
		}

		for _, e := range response.DecisionLog {
			if e.RunID != response.RunID || e.ID == "" {
				t.Errorf("unexpected event %#v", e)
			}
		}

		if len(seller.requests) != 2 {
			t.Fatalf("expected 2 requests, got %d", len(seller.requests))
		}
		if !strings.HasPrefix(seller.requests[1].Get("X-CLIENT-ID"), "agent_") {
			t.Errorf("unexpected client id %q", seller.requests[1].Get("X-CLIENT-ID"))
		}

		stored, err := runs.Get(ctx, response.RunID)
		if err != nil {
			t.Fatalf("failed to get run: %v", err)
		}
		if len(stored.Log) != 7 || stored.Receipt == nil {
			t.Errorf("unexpected stored run %#v", stored)
		}
	})

	t.Run("abstains above budget", func(t *testing.T) {
		seller := &fakeSeller{price: decimal.RequireFromString("0.01"), secret: testSecret}
		runner, _ := setupRunner(t, seller, FallbackPolicy{})

		response, err := runner.Run(ctx, runRequest("0.005"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := "RUN_STARTED,FETCH_1,RECEIVED_402,DECISION,ABSTAINED"
		if got := eventTypes(response.DecisionLog); got != expected {
			t.Errorf("expected events %s, got %s", expected, got)
		}
		if !response.SpentUSD.IsZero() || response.Receipt != nil {
			t.Errorf("expected no spend, got %s %#v", response.SpentUSD, response.Receipt)
		}
		if string(response.Result) != `{"abstained":true,"reason":"fallback_policy_price_exceeds_budget"}` {
			t.Errorf("unexpected result %s", response.Result)
		}
		if len(seller.requests) != 1 {
			t.Errorf("expected a single request, got %d", len(seller.requests))
		}
	})

	t.Run("the daily cap bounds the budget", func(t *testing.T) {
		seller := &fakeSeller{price: decimal.RequireFromString("0.5"), secret: testSecret}
		runner, _ := setupRunner(t, seller, FallbackPolicy{})
		runner.cfg.MaxDailySpendUSD = decimal.RequireFromString("0.1")

		response, _ := runner.Run(ctx, runRequest("1"))
		if got := eventTypes(response.DecisionLog); !strings.HasSuffix(got, "ABSTAINED") {
			t.Errorf("expected an abstained run, got %s", got)
		}
	})

	t.Run("a zero daily cap never pays", func(t *testing.T) {
		seller := &fakeSeller{price: decimal.RequireFromString("0.01"), secret: testSecret}
		runner, _ := setupRunner(t, seller, FallbackPolicy{})
		runner.cfg.MaxDailySpendUSD = decimal.Zero

		response, err := runner.Run(ctx, runRequest("0.05"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := "RUN_STARTED,FETCH_1,RECEIVED_402,DECISION,ABSTAINED"
		if got := eventTypes(response.DecisionLog); got != expected {
			t.Errorf("expected events %s, got %s", expected, got)
		}
		if !response.SpentUSD.IsZero() || response.Receipt != nil {
			t.Errorf("expected no spend, got %s %#v", response.SpentUSD, response.Receipt)
		}
		if len(seller.requests) != 1 {
			t.Errorf("expected a single request, got %d", len(seller.requests))
		}
	})

	t.Run("a zero daily cap survives NewRunner", func(t *testing.T) {
		runner := NewRunner(RunnerConfig{MaxDailySpendUSD: decimal.Zero}, &fakeSeller{}, FallbackPolicy{}, NewMemoryRunStore(), nil)
		if !runner.cfg.MaxDailySpendUSD.IsZero() {
			t.Errorf("expected a zero cap, got %s", runner.cfg.MaxDailySpendUSD)
		}
	})

	t.Run("a policy cannot pay past the cap", func(t *testing.T) {
		seller := &fakeSeller{price: decimal.RequireFromString("0.01"), secret: testSecret}
		reasoner := &fakeReasoner{text: `{"decision":"PAY","reason":"yolo","maxAcceptablePriceUsd":10}`}
		runner, _ := setupRunner(t, seller, NewDelegatedPolicy(reasoner))

		response, _ := runner.Run(ctx, runRequest("0.001"))
		if got := eventTypes(response.DecisionLog); !strings.HasSuffix(got, "ABSTAINED") {
			t.Errorf("expected an abstained run, got %s", got)
		}
		if !strings.Contains(string(response.Result), "price_exceeds_spend_cap") {
			t.Errorf("unexpected result %s", response.Result)
		}
	})

	t.Run("a rejected payment ends in an error", func(t *testing.T) {
		seller := &fakeSeller{price: decimal.RequireFromString("0.01"), secret: "other-secret"}
		runner, _ := setupRunner(t, seller, FallbackPolicy{})

		response, err := runner.Run(ctx, runRequest("0.05"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := "RUN_STARTED,FETCH_1,RECEIVED_402,DECISION,PAYMENT_CREATED,FETCH_2,ERROR"
		if got := eventTypes(response.DecisionLog); got != expected {
			t.Errorf("expected events %s, got %s", expected, got)
		}
		last := response.DecisionLog[len(response.DecisionLog)-1]
		if last.Data["error"] != "expected_200" {
			t.Errorf("unexpected error event %#v", last.Data)
		}
		if !response.SpentUSD.IsZero() {
			t.Errorf("expected no spend, got %s", response.SpentUSD)
		}
		if !strings.Contains(string(response.Result), "bad_signature") {
			t.Errorf("unexpected result %s", response.Result)
		}
	})

	errorCases := []struct {
		name   string
		seller *fakeSeller
		code   string
		events string
	}{
		{
			name:   "a free resource",
			seller: &fakeSeller{firstStatus: http.StatusOK},
			code:   "expected_402",
			events: "RUN_STARTED,FETCH_1,ERROR",
		},
		{
			name:   "a 402 without a header",
			seller: &fakeSeller{omitHeader: true},
			code:   "missing_payment_required_header",
			events: "RUN_STARTED,FETCH_1,ERROR",
		},
		{
			name:   "an undecodable header",
			seller: &fakeSeller{firstHeader: "%%%"},
			code:   "invalid_payment_required",
			events: "RUN_STARTED,FETCH_1,ERROR",
		},
		{
			name:   "no accepted requirements",
			seller: &fakeSeller{firstHeader: mustEncode(v2.PaymentRequired{X402Version: 2})},
			code:   "no_accepts",
			events: "RUN_STARTED,FETCH_1,RECEIVED_402,ERROR",
		},
		{
			name: "no embedded terms",
			seller: &fakeSeller{firstHeader: mustEncode(v2.PaymentRequired{
				X402Version: 2,
				Accepts:     []v2.PaymentRequirements{{Amount: "10000"}},
			})},
			code:   "missing_terms",
			events: "RUN_STARTED,FETCH_1,RECEIVED_402,ERROR",
		},
		{
			name: "a cheaper amount than the signed terms",
			seller: &fakeSeller{firstHeader: tamperedHeader("1.00", func(r *v2.PaymentRequirements) {
				r.Amount = "10000"
			})},
			code:   "amount_mismatch",
			events: "RUN_STARTED,FETCH_1,RECEIVED_402,ERROR",
		},
		{
			name: "another network than the signed terms",
			seller: &fakeSeller{firstHeader: tamperedHeader("0.01", func(r *v2.PaymentRequirements) {
				r.Network = "base-sepolia"
			})},
			code:   "invalid_network",
			events: "RUN_STARTED,FETCH_1,RECEIVED_402,ERROR",
		},
		{
			name: "another recipient than the signed terms",
			seller: &fakeSeller{firstHeader: tamperedHeader("0.01", func(r *v2.PaymentRequirements) {
				r.PayTo = "someone_else"
			})},
			code:   "invalid_recipient",
			events: "RUN_STARTED,FETCH_1,RECEIVED_402,ERROR",
		},
	}

	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			runner, _ := setupRunner(t, tt.seller, FallbackPolicy{})

			response, err := runner.Run(ctx, runRequest("0.05"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := eventTypes(response.DecisionLog); got != tt.events {
				t.Errorf("expected events %s, got %s", tt.events, got)
			}
			last := response.DecisionLog[len(response.DecisionLog)-1]
			if last.Data["error"] != tt.code {
				t.Errorf("expected error %s, got %#v", tt.code, last.Data)
			}
			if !response.SpentUSD.IsZero() || response.Receipt != nil {
				t.Errorf("expected no spend, got %s %#v", response.SpentUSD, response.Receipt)
			}
			if len(tt.seller.requests) != 1 {
				t.Errorf("expected a single request, got %d", len(tt.seller.requests))
			}
		})
	}

	t.Run("an unreachable seller is an upstream error", func(t *testing.T) {
		seller := &fakeSeller{firstErr: &clients.UpstreamError{URL: "http://seller.test/signal", Err: errors.New("refused")}}
		runner, runs := setupRunner(t, seller, FallbackPolicy{})

		response, err := runner.Run(ctx, runRequest("0.05"))
		if !errors.Is(err, clients.ErrUpstream) {
			t.Fatalf("expected an upstream error, got %v", err)
		}
		if got := eventTypes(response.DecisionLog); got != "RUN_STARTED,FETCH_1,ERROR" {
			t.Errorf("unexpected events %s", got)
		}
		if _, err := runs.Get(ctx, response.RunID); err != nil {
			t.Errorf("expected the failed run to be stored, got %v", err)
		}
	})

}

// tamperedHeader issues an offer for priceUSD and then edits its accepted
// requirements without touching the signed terms.
func tamperedHeader(priceUSD string, edit func(*v2.PaymentRequirements)) string {
	seller := &fakeSeller{price: decimal.RequireFromString(priceUSD)}
	required, err := codec.DecodeAs[v2.PaymentRequired](seller.paymentRequired("http://seller.test/signal"))
	if err != nil {
		panic(err)
	}
	edit(&required.Accepts[0])
	return mustEncode(required)
}

func mustEncode(v any) string {
	s, err := codec.Encode(v)
	if err != nil {
		panic(err)
	}
	return s
}
