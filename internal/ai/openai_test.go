package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// capturedOpenAIRequest mirrors openAIChatRequest with raw message content.
type capturedOpenAIRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	N           int     `json:"n"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func openAISuccessBody(content string) map[string]any {
	return map[string]any{
		"id":    "chatcmpl-1",
		"model": "gpt-4o",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]any{"prompt_tokens": 1500, "completion_tokens": 250, "total_tokens": 1750},
	}
}

func TestNewOpenAIClient(t *testing.T) {
	tests := []struct {
		name     string
		cfg      OpenAIConfig
		wantErr  bool
		wantBase string
	}{
		{
			name:     "defaults",
			cfg:      OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"},
			wantBase: "https://api.openai.com/v1",
		},
		{
			name:     "trailing slash removed",
			cfg:      OpenAIConfig{BaseURL: "http://example.com/v1/", Model: "gpt-4o"},
			wantBase: "http://example.com/v1",
		},
		{
			name:    "missing model",
			cfg:     OpenAIConfig{APIKey: "sk-test"},
			wantErr: true,
		},
		{
			name:    "invalid proxy scheme",
			cfg:     OpenAIConfig{Model: "gpt-4o", ProxyURL: "socks5://proxy:1080"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOpenAIClient(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewOpenAIClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if client.baseURL != tt.wantBase {
				t.Errorf("baseURL = %q, want %q", client.baseURL, tt.wantBase)
			}
			if client.GetProviderName() != "OpenAI" {
				t.Errorf("GetProviderName() = %q, want OpenAI", client.GetProviderName())
			}
		})
	}
}

func TestOpenAIClient_Summarize(t *testing.T) {
	var captured *capturedOpenAIRequest
	var authHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		authHeader = r.Header.Get("Authorization")
		captured = decodeJSONBody[capturedOpenAIRequest](t, r)
		writeJSON(w, http.StatusOK, openAISuccessBody("<p>Disk error on sda</p>"))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL:     server.URL + "/v1",
		APIKey:      "sk-test-key-1234567890abcdef",
		Model:       "gpt-4o",
		Temperature: DefaultTemperature,
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}

	text, stats, err := client.Summarize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if text != "<p>Disk error on sda</p>" {
		t.Errorf("text = %q", text)
	}
	if authHeader != "Bearer sk-test-key-1234567890abcdef" {
		t.Errorf("Authorization = %q", authHeader)
	}
	if captured == nil {
		t.Fatal("request not captured")
	}
	if captured.Temperature != 0.4 {
		t.Errorf("temperature = %v, want 0.4", captured.Temperature)
	}
	if captured.N != 1 {
		t.Errorf("n = %d, want 1", captured.N)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" || captured.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", captured.Messages)
	}

	var userText string
	if err := json.Unmarshal(captured.Messages[1].Content, &userText); err != nil {
		t.Errorf("user content without image should be a plain string: %v", err)
	}

	if stats.Provider != "OpenAI" || stats.InputTokens != 1500 || stats.OutputTokens != 250 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.CostUSD <= 0 {
		t.Errorf("CostUSD = %v, want > 0 for hosted API", stats.CostUSD)
	}
}

func TestOpenAIClient_SummarizeWithImage(t *testing.T) {
	var parts []openAIContentPart

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeJSONBody[capturedOpenAIRequest](t, r)
		if req != nil && len(req.Messages) == 2 {
			if err := json.Unmarshal(req.Messages[1].Content, &parts); err != nil {
				t.Errorf("user content with image should be a part list: %v", err)
			}
		}
		writeJSON(w, http.StatusOK, openAISuccessBody("OK"))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "sk-test", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}

	req := testRequest()
	req.ImagePath = writeTestPNG(t)

	if _, _, err := client.Summarize(context.Background(), req); err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if len(parts) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(parts))
	}
	if parts[0].Type != "text" || parts[0].Text == "" {
		t.Errorf("first part = %+v, want text", parts[0])
	}
	if parts[1].Type != "image_url" || parts[1].ImageURL == nil ||
		!strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("second part = %+v, want png data URL", parts[1])
	}
}

func TestOpenAIClient_MissingImageFailsLocally(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeJSON(w, http.StatusOK, openAISuccessBody("OK"))
	}))
	defer server.Close()

	client, _ := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, Model: "gpt-4o"})

	req := testRequest()
	req.ImagePath = "/nonexistent/chart.png"

	_, _, err := client.Summarize(context.Background(), req)
	if !errors.Is(err, ErrImage) {
		t.Errorf("error = %v, want ErrImage", err)
	}
	if called {
		t.Error("backend must not be called when the image cannot be loaded")
	}
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      any
		wantEmpty bool
	}{
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   map[string]any{"error": map[string]any{"message": "boom"}},
		},
		{
			name:      "no choices",
			status:    http.StatusOK,
			body:      map[string]any{"choices": []any{}},
			wantEmpty: true,
		},
		{
			name:      "empty content",
			status:    http.StatusOK,
			body:      openAISuccessBody(""),
			wantEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer server.Close()

			client, _ := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "sk-test", Model: "gpt-4o"})

			_, _, err := client.Summarize(context.Background(), testRequest())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantEmpty != errors.Is(err, ErrEmptyResponse) {
				t.Errorf("errors.Is(err, ErrEmptyResponse) = %v, want %v (err: %v)", !tt.wantEmpty, tt.wantEmpty, err)
			}
		})
	}
}

func TestOpenAIClient_ErrorRedactsKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{"message": "Incorrect API key provided: sk-proj-abcdefghijklmnopqrstuvwx"},
		})
	}))
	defer server.Close()

	client, _ := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "sk-test", Model: "gpt-4o"})

	_, _, err := client.Summarize(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "sk-proj-abcdefghijklmnopqrstuvwx") {
		t.Errorf("error leaks API key: %v", err)
	}
}

func TestNewLMStudioClient(t *testing.T) {
	client, err := NewLMStudioClient(OpenAIConfig{BaseURL: "http://localhost:1234/", APIKey: "ignored", MaxAttempts: 3, Temperature: DefaultTemperature})
	if err != nil {
		t.Fatalf("NewLMStudioClient() error = %v", err)
	}

	if client.baseURL != "http://localhost:1234/v1" {
		t.Errorf("baseURL = %q, want http://localhost:1234/v1", client.baseURL)
	}
	if client.model != "local-model" {
		t.Errorf("model = %q, want local-model", client.model)
	}
	if client.GetProviderName() != "LMStudio" {
		t.Errorf("GetProviderName() = %q, want LMStudio", client.GetProviderName())
	}
	if client.maxAttempts != 3 {
		t.Errorf("maxAttempts = %d, want 3", client.maxAttempts)
	}
	if client.apiKey != "" {
		t.Errorf("apiKey = %q, want empty for a local server", client.apiKey)
	}
}

func TestLMStudioClient_Summarize(t *testing.T) {
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		authHeader = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, openAISuccessBody("OK"))
	}))
	defer server.Close()

	client, err := NewLMStudioClient(OpenAIConfig{
		BaseURL:        server.URL,
		Model:          "qwen2.5-32b-instruct",
		TimeoutSeconds: 10,
		MaxTokens:      1000,
		Temperature:    DefaultTemperature,
	})
	if err != nil {
		t.Fatalf("NewLMStudioClient() error = %v", err)
	}

	text, stats, err := client.Summarize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if text != "OK" {
		t.Errorf("text = %q, want OK", text)
	}
	if authHeader != "" {
		t.Errorf("local server must not receive an Authorization header, got %q", authHeader)
	}
	verifyLocalProviderStats(t, stats, "LMStudio")
}

func TestLMStudioClient_RetriesUpToMaxAttempts(t *testing.T) {
	noSleep(t)
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, openAISuccessBody("OK"))
	}))
	defer server.Close()

	client, err := NewLMStudioClient(OpenAIConfig{BaseURL: server.URL, MaxAttempts: 2})
	if err != nil {
		t.Fatalf("NewLMStudioClient() error = %v", err)
	}

	text, _, err := client.Summarize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if text != "OK" || hits != 2 {
		t.Errorf("text = %q after %d calls, want OK after 2", text, hits)
	}
}
