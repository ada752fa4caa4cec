package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrRateLimited is returned when the insight service answers 429.
var ErrRateLimited = errors.New("insight service rate limited the request")

// StatusError reports any other non-2xx answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("insight service returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("insight service returned HTTP %d: %s", e.Code, e.Body)
}

// InsightPath is the insight endpoint relative to the service base URL.
const InsightPath = "/api/ai-insight"

type insightRequest struct {
	Prompt string `json:"prompt"`
}

type insightResponse struct {
	Message string `json:"message"`
}

// Client calls a remote insight service over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + InsightPath,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// AnalyzeTraffic posts the prompt and returns the message of a 2xx answer.
func (c *Client) AnalyzeTraffic(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(insightRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to encode insight request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build insight request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("insight request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return "", ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out insightResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode insight response: %w", err)
	}
	return out.Message, nil
}
