package clients

import (
	"context"
	"strings"
	"time"

	"github.com/raid-guild/arcmeter-go/types"
	v2 "github.com/raid-guild/arcmeter-go/types/v2"
)

// FacilitatorClient calls the verify and settle endpoints of a facilitator.
type FacilitatorClient struct {
	verifyURL string
	settleURL string
	http      HTTPDoer
}

// NewFacilitatorClient creates a client for the facilitator at baseURL.
func NewFacilitatorClient(baseURL string, timeout time.Duration) *FacilitatorClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return NewFacilitatorClientWithEndpoints(baseURL+"/verify", baseURL+"/settle", timeout)
}

// NewFacilitatorClientWithEndpoints creates a client for explicit verify and
// settle endpoints, such as an upstream facilitator.
func NewFacilitatorClientWithEndpoints(verifyURL string, settleURL string, timeout time.Duration) *FacilitatorClient {
	return &FacilitatorClient{
		verifyURL: verifyURL,
		settleURL: settleURL,
		http:      NewHTTPClient(timeout),
	}
}

// Verify asks the facilitator whether the payment is valid.
func (c *FacilitatorClient) Verify(ctx context.Context, body v2.RequestBody) (types.VerifyResponse, error) {
	var response types.VerifyResponse
	if err := postJSON(ctx, c.http, c.verifyURL, body, &response); err != nil {
		return types.VerifyResponse{}, err
	}
	return response, nil
}

// Settle asks the facilitator to settle the payment.
func (c *FacilitatorClient) Settle(ctx context.Context, body v2.RequestBody) (types.SettleResponse, error) {
	var response types.SettleResponse
	if err := postJSON(ctx, c.http, c.settleURL, body, &response); err != nil {
		return types.SettleResponse{}, err
	}
	return response, nil
}
