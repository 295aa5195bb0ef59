package llmclient

import (
	"context"
	"strings"
)

// APIKeys carries provider credentials from configuration.
type APIKeys struct {
	Gemini string
	Groq   string
	OpenAI string
}

// Catalog returns the factories of every built-in provider keyed by the
// provider half of a "provider:model" reference.
func Catalog(keys APIKeys) map[string]Factory {
	return map[string]Factory{
		"gemini": func(ctx context.Context, model string) (Client, error) {
			return NewGeminiClient(ctx, keys.Gemini, model)
		},
		"groq": func(_ context.Context, model string) (Client, error) {
			return NewGroqClient(keys.Groq, model)
		},
		"openai": func(_ context.Context, model string) (Client, error) {
			return NewOpenAIClient(keys.OpenAI, model)
		},
		"fake": func(_ context.Context, model string) (Client, error) {
			return NewFakeClient(strings.TrimSpace(model)), nil
		},
	}
}
