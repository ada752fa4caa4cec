package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"KSpectra/internal/config"
	"KSpectra/internal/logging"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// ErrAllKeysRateLimited is returned when every configured API key answered 429.
var ErrAllKeysRateLimited = errors.New("all API keys are rate limited")

type keyedClient struct {
	// label is a redacted form of the key, safe to log.
	label  string
	client *openai.Client
}

// Analyzer answers prompts through an OpenAI compatible API, falling back to the next
// API key when one is rate limited.
type Analyzer struct {
	model   string
	clients []keyedClient
	logger  *zap.Logger
}

// NewAnalyzer creates one client per configured API key.
func NewAnalyzer(cfg *config.AIConfig, logger *zap.Logger) (*Analyzer, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("AI API key is not configured")
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout.Std(),
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	a := &Analyzer{model: cfg.Model, logger: logging.OrNop(logger).Named("analyzer")}
	for _, key := range cfg.APIKeys {
		clientConfig := openai.DefaultConfig(key)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		clientConfig.HTTPClient = httpClient
		a.clients = append(a.clients, keyedClient{label: redact(key), client: openai.NewClientWithConfig(clientConfig)})
	}
	return a, nil
}

func redact(key string) string {
	if len(key) <= 6 {
		return "***"
	}
	return key[:6] + "***"
}

// AnalyzeTraffic sends the prompt with each key in turn until one is not rate limited.
func (a *Analyzer) AnalyzeTraffic(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	}

	for _, kc := range a.clients {
		resp, err := kc.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if isRateLimited(err) {
				a.logger.Warn("API key rate limited, trying next", zap.String("key", kc.label))
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return "", fmt.Errorf("AI request timeout: %w", err)
			}
			if errors.Is(err, context.Canceled) {
				return "", fmt.Errorf("AI request canceled by client: %w", err)
			}
			return "", fmt.Errorf("OpenAI API error: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("OpenAI API returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", ErrAllKeysRateLimited
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
