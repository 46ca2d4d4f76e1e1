package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/olegiv/dmesg-ai-go/internal/ai"
)

// Summarizer resolves a backend identifier and runs the request.
// *ai.Registry satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, backend ai.BackendID, req *ai.Request) (string, *ai.Stats, error)
}

// Report is one backend's classified answer.
type Report struct {
	Backend ai.BackendID
	// Raw is the answer as returned by the backend.
	Raw string
	// Content is Raw with fence artifacts stripped; this is the notification payload.
	Content string
	Outcome Outcome
	Stats   *ai.Stats
}

// Generator composes requests and classifies answers. Its system instruction
// is fixed at construction and shared by every backend.
type Generator struct {
	summarizer   Summarizer
	systemPrompt string
	imagePath    string
}

// NewGenerator creates a generator with the given system instruction and optional image.
func NewGenerator(summarizer Summarizer, systemPrompt, imagePath string) *Generator {
	return &Generator{
		summarizer:   summarizer,
		systemPrompt: systemPrompt,
		imagePath:    imagePath,
	}
}

// SystemPrompt returns the system instruction sent with every request.
func (g *Generator) SystemPrompt() string {
	return g.systemPrompt
}

// Generate asks backend to analyze filteredLog and classifies the answer.
// A backend failure or an unknown backend is returned as an error; the caller
// treats it as "no response" for this backend only.
func (g *Generator) Generate(ctx context.Context, backend ai.BackendID, extraInstructions, filteredLog string) (*Report, error) {
	req := &ai.Request{
		SystemPrompt: g.systemPrompt,
		UserPrompt:   BuildUserPrompt(extraInstructions, filteredLog),
		ImagePath:    g.imagePath,
	}

	raw, stats, err := g.summarizer.Summarize(ctx, backend, req)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", backend, err)
	}

	content := strings.TrimSpace(StripFences(raw))

	return &Report{
		Backend: backend,
		Raw:     raw,
		Content: content,
		Outcome: Classify(content),
		Stats:   stats,
	}, nil
}
