package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	internalerrors "github.com/olegiv/dmesg-ai-go/internal/errors"
)

// AnthropicClient wraps the Anthropic Messages API client
type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	maxAttempts int
}

// AnthropicConfig holds Anthropic-specific configuration
type AnthropicConfig struct {
	APIKey         string
	Model          string
	BaseURL        string // optional, defaults to the SDK's endpoint
	TimeoutSeconds int
	MaxTokens      int
	Temperature    float64
	MaxAttempts    int
	ProxyURL       string
}

// NewAnthropicClient creates a new Claude client
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}

	httpClient, err := newHTTPClient(cfg.TimeoutSeconds, cfg.ProxyURL)
	if err != nil {
		return nil, err
	}

	opts := []anthropic.ClientOption{anthropic.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(cfg.APIKey, opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// Summarize sends the system prompt and the user turn (text plus optional image).
func (c *AnthropicClient) Summarize(ctx context.Context, req *Request) (string, *Stats, error) {
	img, err := loadOptionalImage(req.ImagePath)
	if err != nil {
		return "", nil, err
	}

	startTime := time.Now()

	response, err := retryWithBackoff(ctx, c.maxAttempts, func() (anthropic.MessagesResponse, error) {
		return c.callAPI(ctx, req, img)
	})
	if err != nil {
		return "", nil, err
	}

	var responseText strings.Builder
	for _, content := range response.Content {
		if content.Type == "text" && content.Text != nil {
			responseText.WriteString(*content.Text)
		}
	}
	if responseText.Len() == 0 {
		return "", nil, fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}

	return responseText.String(), c.calculateStats(response, time.Since(startTime).Seconds()), nil
}

func (c *AnthropicClient) callAPI(ctx context.Context, req *Request, img *imageData) (anthropic.MessagesResponse, error) {
	content := []anthropic.MessageContent{anthropic.NewTextMessageContent(req.UserPrompt)}
	if img != nil {
		content = append(content, anthropic.NewImageMessageContent(anthropic.MessageContentSource{
			Type:      "base64",
			MediaType: img.MediaType,
			Data:      img.Base64,
		}))
	}

	temperature := c.temperature
	request := anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: content},
		},
		System:      req.SystemPrompt,
		MaxTokens:   c.maxTokens,
		Temperature: &temperature,
	}

	response, err := c.client.CreateMessages(ctx, request)
	if err != nil {
		return anthropic.MessagesResponse{}, internalerrors.Wrapf(err, "Anthropic API call failed")
	}

	return response, nil
}

// calculateStats calculates cost and token statistics
func (c *AnthropicClient) calculateStats(response anthropic.MessagesResponse, durationSeconds float64) *Stats {
	inputTokens := response.Usage.InputTokens
	outputTokens := response.Usage.OutputTokens
	cacheCreationTokens := response.Usage.CacheCreationInputTokens
	cacheReadTokens := response.Usage.CacheReadInputTokens

	// Claude Sonnet pricing: input $3/MTok, output $15/MTok,
	// cache write $3.75/MTok, cache read $0.30/MTok
	totalCost := float64(inputTokens)/1000000*3.0 +
		float64(outputTokens)/1000000*15.0 +
		float64(cacheCreationTokens)/1000000*3.75 +
		float64(cacheReadTokens)/1000000*0.30

	return &Stats{
		Provider:            "Anthropic",
		Model:               c.model,
		InputTokens:         inputTokens,
		OutputTokens:        outputTokens,
		CacheCreationTokens: cacheCreationTokens,
		CacheReadTokens:     cacheReadTokens,
		CostUSD:             totalCost,
		DurationSeconds:     durationSeconds,
	}
}

// GetModelInfo returns information about the configured model
func (c *AnthropicClient) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"model":         c.model,
		"provider":      "Anthropic",
		"max_tokens":    c.maxTokens,
		"temperature":   c.temperature,
		"context_limit": 200000,
	}
}

// GetProviderName returns the name of the provider
func (c *AnthropicClient) GetProviderName() string {
	return "Anthropic"
}

var _ Provider = (*AnthropicClient)(nil)
