package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/arcmeter-go/clients"
	"github.com/raid-guild/arcmeter-go/codec"
	"github.com/raid-guild/arcmeter-go/core"
	"github.com/raid-guild/arcmeter-go/types"
)

// Now returns the current time. This variable can be overridden in tests.
var Now = time.Now

// NewID returns a fresh identifier. This variable can be overridden in tests.
var NewID = func() string {
	return uuid.NewString()
}

// Fetcher fetches a resource with extra headers.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) (clients.Response, error)
}

// RunnerConfig is the configuration for the Runner.
type RunnerConfig struct {
	SellerBaseURL    string
	ResourcePath     string
	Payer            string
	Secret           string
	MaxDailySpendUSD decimal.Decimal
	ClientIDHeader   string
}

// Runner executes buyer runs: one fetch, at most one payment, one retry.
type Runner struct {
	cfg    RunnerConfig
	seller Fetcher
	policy Policy
	runs   RunStore
	log    *slog.Logger
}

// NewRunner creates a new Runner.
func NewRunner(cfg RunnerConfig, seller Fetcher, policy Policy, runs RunStore, logger *slog.Logger) *Runner {
	if cfg.ResourcePath == "" {
		cfg.ResourcePath = "/signal"
	}
	if cfg.ClientIDHeader == "" {
		cfg.ClientIDHeader = "X-CLIENT-ID"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, seller: seller, policy: policy, runs: runs, log: logger}
}

// run is one run in progress. Every recorded event is saved immediately so
// a run can be inspected while it executes.
type run struct {
	ctx    context.Context
	record types.AgentRun
	store  RunStore
	log    *slog.Logger
}

func (r *run) event(eventType types.EventType, data map[string]any) {
	r.record.Log = append(r.record.Log, types.AgentLogEvent{
		ID:    NewID(),
		RunID: r.record.RunID,
		TS:    types.FormatTime(Now()),
		Type:  eventType,
		Data:  data,
	})
	r.save()
}

func (r *run) save() {
	if err := r.store.Save(r.ctx, r.record); err != nil {
		r.log.Error("failed to save run", "runId", r.record.RunID, "err", err)
	}
}

func (r *run) response() types.AgentRunResponse {
	return types.AgentRunResponse{
		RunID:       r.record.RunID,
		DecisionLog: r.record.Log,
		SpentUSD:    r.record.SpentUSD,
		Result:      r.record.Result,
		Receipt:     r.record.Receipt,
	}
}

// fail records an ERROR event and finishes the run with result.
func (r *run) fail(code string, data map[string]any, result []byte) types.AgentRunResponse {
	if data == nil {
		data = map[string]any{}
	}
	data["error"] = code
	r.record.Result = result
	r.event(types.EventError, data)
	return r.response()
}

// Run executes one run. Protocol failures end the run with an ERROR event
// and a nil error; an unreachable seller also returns an UpstreamError.
func (r *Runner) Run(ctx context.Context, req types.AgentRunRequest) (types.AgentRunResponse, error) {
	rn := &run{
		ctx: ctx,
		record: types.AgentRun{
			RunID:     NewID(),
			CreatedAt: types.FormatTime(Now()),
			SpentUSD:  decimal.Zero,
			Log:       []types.AgentLogEvent{},
		},
		store: r.runs,
		log:   r.log,
	}

	rn.event(types.EventRunStarted, map[string]any{"goal": req.Goal})

	// Fetch the resource without payment
	url := strings.TrimRight(r.cfg.SellerBaseURL, "/") + r.cfg.ResourcePath
	rn.event(types.EventFetch1, map[string]any{"url": url})

	first, err := r.seller.Get(ctx, url, nil)
	if err != nil {
		r.log.Error("seller fetch failed", "runId", rn.record.RunID, "err", err)
		return rn.fail("fetch_failed", map[string]any{"url": url}, nil), err
	}
	if first.Status != http.StatusPaymentRequired {
		return rn.fail("expected_402", map[string]any{"status": first.Status, "body": decodeBody(first.Body)}, first.Body), nil
	}

	// Read the payment requirements
	header := first.Header.Get(types.PaymentRequiredHeader)
	if header == "" {
		return rn.fail("missing_payment_required_header", nil, nil), nil
	}

	offer, err := ParseOffer(header)
	var decodeErr *codec.DecodeError
	if errors.As(err, &decodeErr) {
		return rn.fail("invalid_payment_required", map[string]any{"detail": err.Error()}, nil), nil
	}
	rn.event(types.EventReceived402, map[string]any{"accepts": len(offer.Required.Accepts)})

	if err != nil {
		for _, offerErr := range offerErrors {
			if errors.Is(err, offerErr) {
				return rn.fail(offerErr.Error(), map[string]any{"detail": err.Error()}, nil), nil
			}
		}
		return rn.fail("invalid_payment_required", map[string]any{"detail": err.Error()}, nil), nil
	}

	priceUSD, err := core.AtomicToUSD(offer.Accepted.Amount)
	if err != nil {
		return rn.fail("invalid_amount", map[string]any{"amount": offer.Accepted.Amount}, nil), nil
	}

	// Decide within the spend cap
	budget := decimal.Min(req.MaxSpendUSD, r.cfg.MaxDailySpendUSD)
	decision := r.policy.Decide(ctx, Quote{
		PriceUSD:      priceUSD,
		MaxSpendUSD:   budget,
		ConfidenceMin: req.ConfidenceMin,
		Prompt:        req.Prompt,
	})
	if decision.Decision == types.VerdictPay && priceUSD.GreaterThan(budget) {
		decision = types.AgentDecision{
			Decision:              types.VerdictAbstain,
			Reason:                "price_exceeds_spend_cap",
			MaxAcceptablePriceUSD: budget,
			Source:                decision.Source,
			Model:                 decision.Model,
			RawText:               decision.RawText,
		}
	}
	rn.event(types.EventDecision, toData(decision))

	if decision.Decision != types.VerdictPay {
		rn.record.Result = toRaw(map[string]any{"abstained": true, "reason": decision.Reason})
		rn.event(types.EventAbstained, map[string]any{"reason": decision.Reason, "priceUsd": priceUSD})
		return rn.response(), nil
	}

	// Sign the terms
	payment, err := BuildPayment(offer, r.cfg.Payer, r.cfg.Secret)
	if err != nil {
		return rn.fail("payment_failed", map[string]any{"detail": err.Error()}, nil), nil
	}
	rn.event(types.EventPaymentCreated, map[string]any{
		"payer":     r.cfg.Payer,
		"requestId": payment.Proof.RequestID,
		"amountUsd": payment.Proof.AmountUSD,
	})

	// Retry with the payment
	rn.event(types.EventFetch2, map[string]any{"url": url})

	paid := http.Header{}
	paid.Set(types.PaymentSignatureHeader, payment.Header)
	paid.Set(r.cfg.ClientIDHeader, "agent_"+NewID())

	second, err := r.seller.Get(ctx, url, paid)
	if err != nil {
		r.log.Error("seller fetch failed", "runId", rn.record.RunID, "err", err)
		return rn.fail("fetch_failed", map[string]any{"url": url}, nil), err
	}
	if second.Status != http.StatusOK {
		return rn.fail("expected_200", map[string]any{"status": second.Status, "body": decodeBody(second.Body)}, second.Body), nil
	}

	// Record the spend and the receipt
	proof := payment.Proof
	rn.record.SpentUSD = proof.AmountUSD
	rn.record.Result = second.Body
	rn.record.Receipt = &types.RunReceipt{
		RequestID:    proof.RequestID,
		TxHash:       txHash(second),
		Payer:        r.cfg.Payer,
		AmountUSD:    proof.AmountUSD,
		Currency:     types.CurrencyUSDC,
		VerifiedAt:   types.FormatTime(Now()),
		RawProofJSON: &proof,
	}
	rn.event(types.EventReceived200, map[string]any{"ok": true})

	r.log.Info("run paid",
		"runId", rn.record.RunID,
		"requestId", proof.RequestID,
		"amountUsd", proof.AmountUSD.String(),
	)

	return rn.response(), nil
}

// txHash reads the transaction from the body, falling back to the
// PAYMENT-RESPONSE header.
func txHash(res clients.Response) string {
	var body struct {
		TxHash string `json:"txHash"`
	}
	if json.Unmarshal(res.Body, &body) == nil && body.TxHash != "" {
		return body.TxHash
	}

	settlement, err := codec.DecodeAs[types.SettleResponse](res.Header.Get(types.PaymentResponseHeader))
	if err != nil {
		return ""
	}
	return settlement.Transaction
}

func toData(v any) map[string]any {
	var data map[string]any
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"detail": fmt.Sprint(v)}
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]any{"detail": string(raw)}
	}
	return data
}

func toRaw(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func decodeBody(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
