package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	internalerrors "github.com/olegiv/dmesg-ai-go/internal/errors"
)

// OpenAIClient talks to an OpenAI-compatible /chat/completions endpoint.
// It serves both the hosted OpenAI API and a local LM Studio server.
type OpenAIClient struct {
	name        string
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	maxAttempts int
	httpClient  *http.Client
}

// OpenAIConfig holds configuration for an OpenAI-compatible backend
type OpenAIConfig struct {
	Name           string // provider name reported in stats, "OpenAI" when empty
	BaseURL        string // e.g. "https://api.openai.com/v1"
	APIKey         string // empty for local servers
	Model          string // e.g. "gpt-4o"
	TimeoutSeconds int
	MaxTokens      int
	Temperature    float64
	MaxAttempts    int
	ProxyURL       string
}

// openAIChatRequest is the request body for /chat/completions
type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	N           int             `json:"n"`
	Stream      bool            `json:"stream"`
}

// openAIMessage carries either a plain string or a list of content parts.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"` // "text" or "image_url"
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

// openAIChatResponse is the response from /chat/completions
type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient creates a client for the hosted OpenAI API or any compatible server.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Name == "" {
		cfg.Name = "OpenAI"
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

	return &OpenAIClient{
		name:        cfg.Name,
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxAttempts: cfg.MaxAttempts,
		httpClient:  httpClient,
	}, nil
}

// NewLMStudioClient returns an OpenAIClient pointed at a local LM Studio server.
// LM Studio exposes the OpenAI API under /v1 and needs no key, so cfg.APIKey
// is ignored. Empty fields get local defaults.
func NewLMStudioClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:1234"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if !strings.HasSuffix(cfg.BaseURL, "/v1") {
		cfg.BaseURL += "/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "local-model"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	cfg.Name = "LMStudio"
	cfg.APIKey = ""

	return NewOpenAIClient(cfg)
}

// Summarize sends the request as a two-message chat completion.
func (c *OpenAIClient) Summarize(ctx context.Context, req *Request) (string, *Stats, error) {
	img, err := loadOptionalImage(req.ImagePath)
	if err != nil {
		return "", nil, err
	}

	startTime := time.Now()

	response, err := retryWithBackoff(ctx, c.maxAttempts, func() (*openAIChatResponse, error) {
		return c.callAPI(ctx, req, img)
	})
	if err != nil {
		return "", nil, err
	}

	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		return "", nil, fmt.Errorf("%s: %w", c.name, ErrEmptyResponse)
	}

	return response.Choices[0].Message.Content, c.calculateStats(response, time.Since(startTime).Seconds()), nil
}

func (c *OpenAIClient) callAPI(ctx context.Context, req *Request, img *imageData) (*openAIChatResponse, error) {
	var userContent any = req.UserPrompt
	if img != nil {
		userContent = []openAIContentPart{
			{Type: "text", Text: req.UserPrompt},
			{Type: "image_url", ImageURL: &openAIImageURL{URL: img.DataURL()}},
		}
	}

	request := openAIChatRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: userContent},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		N:           1,
		Stream:      false,
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	response, err := doJSONPost[openAIChatResponse](ctx, c.httpClient, c.baseURL+"/chat/completions", headers, request)
	if err != nil {
		return nil, internalerrors.Wrapf(err, "%s API call failed", c.name)
	}
	return response, nil
}

// calculateStats fills token counts. Hosted OpenAI usage is priced at gpt-4o rates
// ($2.50/MTok input, $10/MTok output); local servers are free.
func (c *OpenAIClient) calculateStats(response *openAIChatResponse, durationSeconds float64) *Stats {
	inputTokens := response.Usage.PromptTokens
	outputTokens := response.Usage.CompletionTokens

	cost := 0.0
	if c.apiKey != "" {
		cost = float64(inputTokens)/1000000*2.50 + float64(outputTokens)/1000000*10.0
	}

	return &Stats{
		Provider:        c.name,
		Model:           c.model,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		CostUSD:         cost,
		DurationSeconds: durationSeconds,
	}
}

// GetModelInfo returns information about the configured model
func (c *OpenAIClient) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"model":       c.model,
		"provider":    c.name,
		"max_tokens":  c.maxTokens,
		"base_url":    c.baseURL,
		"temperature": c.temperature,
	}
}

// GetProviderName returns the name of the provider
func (c *OpenAIClient) GetProviderName() string {
	return c.name
}

var _ Provider = (*OpenAIClient)(nil)
