package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// AgentDecision is the outcome of a buyer decision policy.
type AgentDecision struct {
	Decision              Verdict         `json:"decision"`
	Reason                string          `json:"reason"`
	MaxAcceptablePriceUSD decimal.Decimal `json:"maxAcceptablePriceUsd"`
	Constraints           []string        `json:"constraints,omitempty"`
	Model                 string          `json:"model,omitempty"`
	RawText               string          `json:"rawText,omitempty"`
	Source                DecisionSource  `json:"source"`
}

// AgentRunRequest is the request body of a buyer run.
type AgentRunRequest struct {
	Goal          Goal            `json:"goal"`
	MaxSpendUSD   decimal.Decimal `json:"maxSpendUsd"`
	ConfidenceMin float64         `json:"confidenceMin"`
	Prompt        string          `json:"prompt,omitempty"`
}

// AgentLogEvent is one entry of a run's ordered event log.
type AgentLogEvent struct {
	ID    string         `json:"id"`
	RunID string         `json:"runId"`
	TS    string         `json:"ts"`
	Type  EventType      `json:"type"`
	Data  map[string]any `json:"data,omitempty"`
}

// RunReceipt is the buyer's view of a paid request.
type RunReceipt struct {
	RequestID    string          `json:"requestId"`
	TxHash       string          `json:"txHash"`
	Payer        string          `json:"payer"`
	AmountUSD    decimal.Decimal `json:"amountUsd"`
	Currency     Currency        `json:"currency"`
	VerifiedAt   string          `json:"verifiedAt"`
	RawProofJSON *PaymentProof   `json:"rawProofJson,omitempty"`
}

// AgentRun is the full record of one buyer run.
type AgentRun struct {
	RunID     string          `json:"runId"`
	CreatedAt string          `json:"createdAt"`
	SpentUSD  decimal.Decimal `json:"spentUsd"`
	Result    json.RawMessage `json:"result,omitempty"`
	Receipt   *RunReceipt     `json:"receipt,omitempty"`
	Log       []AgentLogEvent `json:"log"`
}

// AgentRunResponse is the response body of a buyer run.
type AgentRunResponse struct {
	RunID       string          `json:"runId"`
	DecisionLog []AgentLogEvent `json:"decisionLog"`
	SpentUSD    decimal.Decimal `json:"spentUsd"`
	Result      json.RawMessage `json:"result,omitempty"`
	Receipt     *RunReceipt     `json:"receipt,omitempty"`
}
