package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/arcmeter-go/clients"
	"github.com/raid-guild/arcmeter-go/types"
)

// Quote is what a policy decides on.
type Quote struct {
	PriceUSD      decimal.Decimal
	MaxSpendUSD   decimal.Decimal
	ConfidenceMin float64
	Prompt        string
}

// Policy maps a quote to PAY or ABSTAIN. Implementations never fail: any
// internal error is an ABSTAIN.
type Policy interface {
	Decide(ctx context.Context, q Quote) types.AgentDecision
}

// FallbackPolicy pays iff the price is within the budget.
type FallbackPolicy struct{}

func (FallbackPolicy) Decide(_ context.Context, q Quote) types.AgentDecision {
	if q.PriceUSD.LessThanOrEqual(q.MaxSpendUSD) {
		return types.AgentDecision{
			Decision:              types.VerdictPay,
			Reason:                "fallback_policy_price_within_budget",
			MaxAcceptablePriceUSD: q.MaxSpendUSD,
			Source:                types.DecisionSourceFallback,
		}
	}
	return types.AgentDecision{
		Decision:              types.VerdictAbstain,
		Reason:                "fallback_policy_price_exceeds_budget",
		MaxAcceptablePriceUSD: q.MaxSpendUSD,
		Source:                types.DecisionSourceFallback,
	}
}

// Reasoner generates free text from a prompt.
type Reasoner interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

// DelegatedPolicy asks a Reasoner to decide and parses its answer.
type DelegatedPolicy struct {
	reasoner Reasoner
}

// NewDelegatedPolicy creates a new DelegatedPolicy.
func NewDelegatedPolicy(reasoner Reasoner) *DelegatedPolicy {
	return &DelegatedPolicy{reasoner: reasoner}
}

func (p *DelegatedPolicy) Decide(ctx context.Context, q Quote) types.AgentDecision {
	prompt := q.Prompt
	if prompt == "" {
		prompt = defaultPrompt(q)
	}

	// Ask the model
	text, err := p.reasoner.GenerateContent(ctx, prompt)
	if err != nil {
		status := 0
		var ue *clients.UpstreamError
		if errors.As(err, &ue) {
			status = ue.Status
		}
		return types.AgentDecision{
			Decision:              types.VerdictAbstain,
			Reason:                fmt.Sprintf("gemini_error_%d", status),
			MaxAcceptablePriceUSD: q.MaxSpendUSD,
			Source:                types.DecisionSourceFallback,
		}
	}

	// Parse the decision out of the answer
	decision, ok := parseDecision(text)
	if !ok {
		return types.AgentDecision{
			Decision:              types.VerdictAbstain,
			Reason:                "gemini_unparseable_response",
			MaxAcceptablePriceUSD: q.MaxSpendUSD,
			Source:                types.DecisionSourceGemini,
			Model:                 p.reasoner.Model(),
			RawText:               text,
		}
	}

	decision.Source = types.DecisionSourceGemini
	decision.Model = p.reasoner.Model()
	decision.RawText = text
	return decision
}

func defaultPrompt(q Quote) string {
	return fmt.Sprintf(
		`You are an automated buyer agent. Decide PAY or ABSTAIN. PriceUSD=%s. MaxSpendUSD=%s. ConfidenceMin=%g. Reply with JSON {"decision":"PAY"|"ABSTAIN","reason":"...","maxAcceptablePriceUsd":number}.`,
		q.PriceUSD.String(), q.MaxSpendUSD.String(), q.ConfidenceMin,
	)
}

// parseDecision reads a JSON decision, tolerating a surrounding code fence.
func parseDecision(text string) (types.AgentDecision, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimPrefix(text, "json")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var parsed struct {
		Decision              types.Verdict   `json:"decision"`
		Reason                string          `json:"reason"`
		MaxAcceptablePriceUSD decimal.Decimal `json:"maxAcceptablePriceUsd"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return types.AgentDecision{}, false
	}
	if parsed.Decision != types.VerdictPay && parsed.Decision != types.VerdictAbstain {
		return types.AgentDecision{}, false
	}

	return types.AgentDecision{
		Decision:              parsed.Decision,
		Reason:                parsed.Reason,
		MaxAcceptablePriceUSD: parsed.MaxAcceptablePriceUSD,
	}, true
}
