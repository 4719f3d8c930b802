package clients

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// DefaultGeminiBaseURL is the public Gemini API endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiConfig is the configuration for the Gemini client.
type GeminiConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// GeminiClient calls the generateContent method of a Gemini model.
type GeminiClient struct {
	cfg  GeminiConfig
	http HTTPDoer
}

// NewGeminiClient creates a new GeminiClient.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	return &GeminiClient{cfg: cfg, http: NewHTTPClient(cfg.Timeout)}
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.cfg.Model
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// GenerateContent sends prompt as a single user turn and returns the text of
// every part of the first candidate, concatenated.
func (c *GeminiClient) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", errors.New("gemini api key is not configured")
	}

	// Build the request body
	var body geminiRequest
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	body.GenerationConfig.Temperature = c.cfg.Temperature

	// Build the endpoint
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") +
		"/v1beta/models/" + url.PathEscape(c.cfg.Model) +
		":generateContent?key=" + url.QueryEscape(c.cfg.APIKey)

	// Call the model
	var response geminiResponse
	if err := postJSON(ctx, c.http, endpoint, body, &response); err != nil {
		var ue *UpstreamError
		if errors.As(err, &ue) {
			// Keep the api key out of error messages
			ue.URL = strings.TrimRight(c.cfg.BaseURL, "/") + "/v1beta/models/" + c.cfg.Model
			var urlErr *url.Error
			if errors.As(ue.Err, &urlErr) {
				ue.Err = urlErr.Err
			}
		}
		return "", err
	}

	// Join the text of the first candidate
	if len(response.Candidates) == 0 {
		return "", nil
	}
	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	return text.String(), nil
}
