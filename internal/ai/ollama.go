package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	internalerrors "github.com/olegiv/dmesg-ai-go/internal/errors"
)

// OllamaClient wraps the Ollama REST API
type OllamaClient struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	maxAttempts int
	httpClient  *http.Client
}

// OllamaConfig holds Ollama-specific configuration
type OllamaConfig struct {
	BaseURL        string // e.g., "http://localhost:11434"
	Model          string // e.g., "llama3.3:latest"
	TimeoutSeconds int
	MaxTokens      int
	Temperature    float64
	MaxAttempts    int
}

// ollamaOptions contains model parameters
type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

// ollamaChatRequest is the request body for Ollama's /api/chat endpoint
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

// ollamaMessage represents a chat message; Images holds raw base64 strings.
type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse is the response from Ollama's /api/chat endpoint
type ollamaChatResponse struct {
	Model           string        `json:"model"`
	CreatedAt       time.Time     `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	TotalDuration   int64         `json:"total_duration,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// NewOllamaClient creates a new Ollama client
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300 // large local models are slow
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}

	httpClient, err := newHTTPClient(cfg.TimeoutSeconds, "")
	if err != nil {
		return nil, err
	}

	return &OllamaClient{
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxAttempts: cfg.MaxAttempts,
		httpClient:  httpClient,
	}, nil
}

// Summarize runs a non-streaming chat against the local model.
func (c *OllamaClient) Summarize(ctx context.Context, req *Request) (string, *Stats, error) {
	img, err := loadOptionalImage(req.ImagePath)
	if err != nil {
		return "", nil, err
	}

	startTime := time.Now()

	response, err := retryWithBackoff(ctx, c.maxAttempts, func() (*ollamaChatResponse, error) {
		return c.callAPI(ctx, req, img)
	})
	if err != nil {
		return "", nil, err
	}

	if response.Message.Content == "" {
		return "", nil, fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}

	return response.Message.Content, c.calculateStats(response, time.Since(startTime).Seconds()), nil
}

func (c *OllamaClient) callAPI(ctx context.Context, req *Request, img *imageData) (*ollamaChatResponse, error) {
	user := ollamaMessage{Role: "user", Content: req.UserPrompt}
	if img != nil {
		user.Images = []string{img.Base64}
	}

	request := ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: req.SystemPrompt},
			user,
		},
		Stream: false,
		Options: ollamaOptions{
			NumPredict:  c.maxTokens,
			Temperature: c.temperature,
		},
	}

	response, err := doJSONPost[ollamaChatResponse](ctx, c.httpClient, c.baseURL+"/api/chat", nil, request)
	if err != nil {
		return nil, internalerrors.Wrapf(err, "Ollama API call failed")
	}
	if !response.Done {
		return nil, fmt.Errorf("incomplete response from Ollama")
	}
	return response, nil
}

// calculateStats tracks tokens for comparison; local inference has no cost.
func (c *OllamaClient) calculateStats(response *ollamaChatResponse, durationSeconds float64) *Stats {
	return &Stats{
		Provider:        "Ollama",
		Model:           c.model,
		InputTokens:     response.PromptEvalCount,
		OutputTokens:    response.EvalCount,
		DurationSeconds: durationSeconds,
	}
}

// GetModelInfo returns information about the configured model
func (c *OllamaClient) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"model":       c.model,
		"provider":    "Ollama",
		"max_tokens":  c.maxTokens,
		"base_url":    c.baseURL,
		"temperature": c.temperature,
	}
}

// GetProviderName returns the name of the provider
func (c *OllamaClient) GetProviderName() string {
	return "Ollama"
}

// CheckConnection verifies that Ollama is running and the model is pulled.
func (c *OllamaClient) CheckConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama is not running at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var tagsResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &tagsResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	available := make([]string, 0, len(tagsResp.Models))
	for _, m := range tagsResp.Models {
		// "llama3.3:latest" matches "llama3.3"
		if m.Name == c.model || strings.HasPrefix(m.Name, strings.Split(c.model, ":")[0]) {
			return nil
		}
		available = append(available, m.Name)
	}

	return fmt.Errorf("model '%s' not found in Ollama. Available models: %v. Run 'ollama pull %s' to download it",
		c.model, available, c.model)
}

var _ Provider = (*OllamaClient)(nil)
