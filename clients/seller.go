package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Response is a fetched resource. Body is always a JSON document: a body that
// is not valid JSON is replaced by an empty object.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// SellerClient fetches protected resources on behalf of a buyer.
type SellerClient struct {
	http HTTPDoer
}

// NewSellerClient creates a new SellerClient.
func NewSellerClient(timeout time.Duration) *SellerClient {
	return &SellerClient{http: NewHTTPClient(timeout)}
}

// Get fetches url with the given extra headers. Any HTTP status is returned
// as a Response; only transport failures are errors.
func (c *SellerClient) Get(ctx context.Context, url string, header http.Header) (Response, error) {

	// Build the request
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	// Send the request
	res, err := c.http.Do(req)
	if err != nil {
		return Response{}, &UpstreamError{URL: url, Err: err}
	}
	defer res.Body.Close()

	// Read the response body
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return Response{}, &UpstreamError{URL: url, Err: err}
	}
	if !json.Valid(raw) {
		raw = []byte("{}")
	}

	return Response{
		Status: res.StatusCode,
		Header: res.Header,
		Body:   raw,
	}, nil
}
