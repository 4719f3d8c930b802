package types

// ProofKind is the proof kind enum.
type ProofKind string

const (
	ProofKindLocalDemoHMACV1 ProofKind = "local_demo_hmac_v1"
)

// Currency is the currency enum.
type Currency string

const (
	CurrencyUSDC Currency = "USDC"
)

// Network is the network enum.
type Network string

const (
	NetworkLocal Network = "local"
)

// Verdict is the buyer decision enum.
type Verdict string

const (
	VerdictPay     Verdict = "PAY"
	VerdictAbstain Verdict = "ABSTAIN"
)

// DecisionSource is the decision source enum.
type DecisionSource string

const (
	DecisionSourceFallback DecisionSource = "fallback"
	DecisionSourceGemini   DecisionSource = "gemini"
)

// EventType is the agent log event type enum.
type EventType string

const (
	EventRunStarted     EventType = "RUN_STARTED"
	EventFetch1         EventType = "FETCH_1"
	EventReceived402    EventType = "RECEIVED_402"
	EventDecision       EventType = "DECISION"
	EventPaymentCreated EventType = "PAYMENT_CREATED"
	EventFetch2         EventType = "FETCH_2"
	EventReceived200    EventType = "RECEIVED_200"
	EventAbstained      EventType = "ABSTAINED"
	EventError          EventType = "ERROR"
)

// Goal is the agent run goal enum.
type Goal string

const (
	GoalGetSignal Goal = "get_signal"
	GoalCompute   Goal = "compute"
)

// InvalidReason is the invalid reason enum.
type InvalidReason string

const (
	InvalidReasonUnsupportedProofKind  InvalidReason = "unsupported_proof_kind"
	InvalidReasonRequestIDMismatch     InvalidReason = "request_id_mismatch"
	InvalidReasonAmountMismatch        InvalidReason = "amount_mismatch"
	InvalidReasonCurrencyMismatch      InvalidReason = "currency_mismatch"
	InvalidReasonBadSignature          InvalidReason = "bad_signature"
	InvalidReasonInvalidX402Version    InvalidReason = "invalid_x402_version"
	InvalidReasonUnsupportedScheme     InvalidReason = "unsupported_scheme"
	InvalidReasonInvalidPayload        InvalidReason = "invalid_payload"
	InvalidReasonMissingTerms          InvalidReason = "missing_terms"
	InvalidReasonInvalidTerms          InvalidReason = "invalid_terms"
	InvalidReasonInvalidNetwork        InvalidReason = "invalid_network"
	InvalidReasonInvalidRecipient      InvalidReason = "invalid_recipient"
	InvalidReasonTermsExpired          InvalidReason = "terms_expired"
	InvalidReasonProofAlreadyUsed      InvalidReason = "proof_already_used"
	InvalidReasonInvalidRequest        InvalidReason = "invalid_request"
	InvalidReasonUpstreamVerifyFailed  InvalidReason = "upstream_verify_failed"
	InvalidReasonUnexpectedVerifyError InvalidReason = "unexpected_verify_error"
)

// ErrorReason is the error reason enum.
type ErrorReason string

const (
	ErrorReasonInvalidRequest        ErrorReason = "invalid_request"
	ErrorReasonUpstreamSettleFailed  ErrorReason = "upstream_settle_failed"
	ErrorReasonUnexpectedSettleError ErrorReason = "unexpected_settle_error"
)
