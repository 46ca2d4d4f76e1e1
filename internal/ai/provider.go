package ai

import (
	"context"
	"errors"
)

// Provider is one summarization backend (OpenAI, Gemini, Claude, Ollama, LM Studio).
type Provider interface {
	// Summarize sends the system instruction, the user prompt and the optional
	// image to the backend and returns its free-text answer.
	Summarize(ctx context.Context, req *Request) (string, *Stats, error)

	// GetModelInfo returns information about the configured model
	GetModelInfo() map[string]interface{}

	// GetProviderName returns the name of the provider (e.g., "OpenAI", "Google")
	GetProviderName() string
}

// Request is a single analysis request. It is never mutated after construction.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	// ImagePath is optional; when set the image is sent alongside the prompt.
	ImagePath string
}

// Stats holds statistics about the API call
type Stats struct {
	Provider            string
	Model               string
	InputTokens         int
	OutputTokens        int
	CacheCreationTokens int
	CacheReadTokens     int
	CostUSD             float64
	DurationSeconds     float64
}

// BackendID identifies a backend in configuration.
type BackendID string

const (
	BackendOpenAI    BackendID = "openai"
	BackendGoogle    BackendID = "google"
	BackendAnthropic BackendID = "anthropic"
	BackendOllama    BackendID = "ollama"
	BackendLMStudio  BackendID = "lmstudio"
)

// DefaultTemperature keeps run-to-run wording stable.
const DefaultTemperature = 0.4

var (
	// ErrUnsupportedBackend is returned for an identifier no provider is registered under.
	ErrUnsupportedBackend = errors.New("unsupported backend")
	// ErrImage is returned when the optional image cannot be opened or decoded.
	ErrImage = errors.New("cannot load image")
	// ErrEmptyResponse is returned when the backend answered without any text.
	ErrEmptyResponse = errors.New("empty response from backend")
)

// KnownBackends returns the backend identifiers this build can construct.
func KnownBackends() []BackendID {
	return []BackendID{BackendOpenAI, BackendGoogle, BackendAnthropic, BackendOllama, BackendLMStudio}
}

// IsKnownBackend checks if the given identifier names a supported backend
func IsKnownBackend(id string) bool {
	for _, known := range KnownBackends() {
		if string(known) == id {
			return true
		}
	}
	return false
}
