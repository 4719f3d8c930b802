package core

import (
	"github.com/raid-guild/arcmeter-go/types"
	v1 "github.com/raid-guild/arcmeter-go/types/v1"
	v2 "github.com/raid-guild/arcmeter-go/types/v2"
)

// SettleLegacy settles already-separated base64 terms and proof. A decode
// failure is returned as a *codec.DecodeError.
func SettleLegacy(c FacilitatorConfig, r v1.VerifyRequest) (types.SettleResponse, error) {
	result, err := verifyLegacy(c, r)
	if err != nil {
		return types.SettleResponse{}, err
	}
	return toSettleResponse(result, types.NetworkLocal), nil
}

// SettlePayment settles an x402 payment payload. The local demo scheme has no
// ledger to write: the transaction identifier is derived from the proof, so
// settling the same proof twice yields the same transaction.
func SettlePayment(c FacilitatorConfig, p v2.PaymentPayload, r v2.PaymentRequirements) types.SettleResponse {
	return toSettleResponse(verifyPayment(c, p, r), r.Network)
}

func toSettleResponse(result VerifyResult, network types.Network) types.SettleResponse {
	switch r := result.(type) {
	case VerifyOK:
		return types.SettleResponse{
			Success:     true,
			Payer:       r.Payer,
			Transaction: r.TxHash,
			Network:     network,
		}
	case VerifyFailed:
		return types.SettleResponse{
			Success:     false,
			ErrorReason: types.ErrorReason(r.Reason),
			Network:     network,
		}
	default:
		return types.SettleResponse{
			Success:     false,
			ErrorReason: types.ErrorReasonUnexpectedSettleError,
			Network:     network,
		}
	}
}
