package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	internalerrors "github.com/olegiv/dmesg-ai-go/internal/errors"
)

// geminiNoMarkdown is appended to the system instruction; Gemini otherwise
// answers in Markdown even when asked for HTML.
const geminiNoMarkdown = " Do not use Markdown."

// GeminiClient wraps the Google Generative Language generateContent REST API.
type GeminiClient struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	maxAttempts int
	httpClient  *http.Client
}

// GeminiConfig holds Google-specific configuration
type GeminiConfig struct {
	BaseURL        string // e.g. "https://generativelanguage.googleapis.com/v1beta"
	APIKey         string
	Model          string // e.g. "gemini-1.5-flash"
	TimeoutSeconds int
	MaxTokens      int
	Temperature    float64
	MaxAttempts    int
	ProxyURL       string
}

type geminiRequest struct {
	SystemInstruction *geminiContent        `json:"systemInstruction,omitempty"`
	Contents          []geminiContent       `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	CandidateCount  int     `json:"candidateCount"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiClient creates a new Google Gemini client
func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("google model is required")
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

	return &GeminiClient{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxAttempts: cfg.MaxAttempts,
		httpClient:  httpClient,
	}, nil
}

// Summarize calls models/{model}:generateContent with a single candidate.
func (c *GeminiClient) Summarize(ctx context.Context, req *Request) (string, *Stats, error) {
	img, err := loadOptionalImage(req.ImagePath)
	if err != nil {
		return "", nil, err
	}

	startTime := time.Now()

	response, err := retryWithBackoff(ctx, c.maxAttempts, func() (*geminiResponse, error) {
		return c.callAPI(ctx, req, img)
	})
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	if len(response.Candidates) > 0 {
		for _, part := range response.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return "", nil, fmt.Errorf("google: %w", ErrEmptyResponse)
	}

	return text.String(), c.calculateStats(response, time.Since(startTime).Seconds()), nil
}

func (c *GeminiClient) callAPI(ctx context.Context, req *Request, img *imageData) (*geminiResponse, error) {
	parts := []geminiPart{{Text: req.UserPrompt}}
	if img != nil {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: img.MediaType, Data: img.Base64}})
	}

	request := geminiRequest{
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: req.SystemPrompt + geminiNoMarkdown}},
		},
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			CandidateCount:  1,
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxTokens,
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	headers := map[string]string{"x-goog-api-key": c.apiKey}

	response, err := doJSONPost[geminiResponse](ctx, c.httpClient, endpoint, headers, request)
	if err != nil {
		return nil, internalerrors.Wrapf(err, "Google API call failed")
	}
	return response, nil
}

// calculateStats uses gemini-1.5-flash pricing ($0.075/MTok input, $0.30/MTok output).
func (c *GeminiClient) calculateStats(response *geminiResponse, durationSeconds float64) *Stats {
	inputTokens := response.UsageMetadata.PromptTokenCount
	outputTokens := response.UsageMetadata.CandidatesTokenCount

	return &Stats{
		Provider:        "Google",
		Model:           c.model,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		CostUSD:         float64(inputTokens)/1000000*0.075 + float64(outputTokens)/1000000*0.30,
		DurationSeconds: durationSeconds,
	}
}

// GetModelInfo returns information about the configured model
func (c *GeminiClient) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"model":         c.model,
		"provider":      "Google",
		"max_tokens":    c.maxTokens,
		"temperature":   c.temperature,
		"context_limit": 1000000,
	}
}

// GetProviderName returns the name of the provider
func (c *GeminiClient) GetProviderName() string {
	return "Google"
}

var _ Provider = (*GeminiClient)(nil)
