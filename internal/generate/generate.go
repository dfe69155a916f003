// Package generate drafts and revises project documents with a hosted LLM.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrGenerationFailed covers upstream failures and empty output. Callers may
// retry; nothing is persisted when it is returned.
var ErrGenerationFailed = errors.New("generation failed")

type Provider interface {
	Generate(ctx context.Context, apiKey, prompt string) (string, error)
}

// KeySource hands out the API key for the next call.
type KeySource interface {
	Next(ctx context.Context) (string, error)
}

type Generator struct {
	keys     KeySource
	provider Provider
}

func NewGenerator(keys KeySource, provider Provider) *Generator {
	return &Generator{keys: keys, provider: provider}
}

// Generate runs prompt with the next key and returns cleaned HTML.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	apiKey, err := g.keys.Next(ctx)
	if err != nil {
		return "", err
	}
	raw, err := g.provider.Generate(ctx, apiKey, prompt)
	if err != nil {
		if errors.Is(err, ErrGenerationFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	cleaned := CleanHTML(raw)
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty output", ErrGenerationFailed)
	}
	return cleaned, nil
}

// CleanHTML drops the Markdown code fence models like to wrap HTML in.
func CleanHTML(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```html", "```HTML", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			break
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
