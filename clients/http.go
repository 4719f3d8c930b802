package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// maxResponseBytes bounds every upstream response body.
const maxResponseBytes = 1 << 20

// HTTPDoer defines the interface for the HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient creates a new HTTP client. This function can be overridden in tests.
var NewHTTPClient = func(timeout time.Duration) HTTPDoer {
	return &http.Client{Timeout: timeout}
}

// ErrUpstream matches every UpstreamError.
var ErrUpstream = errors.New("upstream request failed")

// UpstreamError is returned when an upstream service is unreachable or
// answers with a non-2xx status. Status is zero for transport failures.
type UpstreamError struct {
	URL    string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s: status %d", ErrUpstream, e.URL, e.Status)
	}
	return fmt.Sprintf("%s: %s: %v", ErrUpstream, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is reports ErrUpstream as a match.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// postJSON posts body as JSON to url and unmarshals a 2xx response into out.
func postJSON(ctx context.Context, client HTTPDoer, url string, body any, out any) error {

	// Marshal the request body
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// Build the request
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Send the request
	res, err := client.Do(req)
	if err != nil {
		return &UpstreamError{URL: url, Err: err}
	}
	defer res.Body.Close()

	// Read the response body
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return &UpstreamError{URL: url, Err: err}
	}

	// Check the response status
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &UpstreamError{URL: url, Status: res.StatusCode, Err: errors.New(http.StatusText(res.StatusCode))}
	}

	// Unmarshal the response body
	if err := json.Unmarshal(raw, out); err != nil {
		return &UpstreamError{URL: url, Err: fmt.Errorf("invalid response body: %w", err)}
	}

	return nil
}
