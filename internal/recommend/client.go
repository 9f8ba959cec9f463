package recommend

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

	"go.uber.org/zap"
)

const (
	defaultCompletionTimeout = 30 * time.Second
	defaultCompletionModel   = "gpt-4o-mini"
	completionsPath          = "/v1/chat/completions"
)

var (
	// ErrUpstreamUnavailable indicates the completion service timed out or failed.
	ErrUpstreamUnavailable = errors.New("recommend: completion service unavailable")
	// ErrUpstreamMalformed indicates the completion service returned an unusable payload.
	ErrUpstreamMalformed = errors.New("recommend: completion service returned malformed payload")

	errMissingBaseURL = errors.New("completion base url is required")
	errMissingAPIKey  = errors.New("completion api key is required")
)

// CompletionClient produces a raw completion for a system/user prompt pair.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ClientConfig configures the HTTP completion client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPClient calls an OpenAI-compatible chat-completions endpoint.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient constructs a completion client with a bounded request timeout.
func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errMissingAPIKey
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultCompletionModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []chatCompletionMessage `json:"messages"`
	Temperature float64                 `json:"temperature"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt pair and returns the first choice's content.
func (c *HTTPClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload := chatCompletionRequest{
		Model: c.model,
		Messages: []chatCompletionMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.2,
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		return "", err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, &body)
	if err != nil {
		return "", err
	}
	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("completion request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer response.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		c.logger.Warn("completion request rejected",
			zap.Int("status", response.StatusCode),
			zap.Int("body_bytes", len(raw)))
		return "", fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, response.StatusCode)
	}

	var decoded chatCompletionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamMalformed, err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUpstreamMalformed)
	}
	return decoded.Choices[0].Message.Content, nil
}
