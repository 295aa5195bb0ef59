package llmclient

import (
	"context"
	"fmt"
	"strings"
)

// Media is an inline attachment sent with a prompt.
type Media struct {
	MIMEType string
	Data     []byte
}

// Client is a single provider model. Implementations only perform the API
// call; rate limiting and logging are layered on by middleware.
type Client interface {
	Name() string
	Generate(ctx context.Context, prompt string, media []Media) (string, error)
	Close() error
}

// Factory builds a client for a model of one provider.
type Factory func(ctx context.Context, model string) (Client, error)

// SplitRef splits a "provider:model" reference.
func SplitRef(ref string) (provider, model string, err error) {
	provider, model, ok := strings.Cut(strings.TrimSpace(ref), ":")
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	if !ok || provider == "" || model == "" {
		return "", "", fmt.Errorf("provider ref %q: want provider:model", ref)
	}
	return provider, model, nil
}
