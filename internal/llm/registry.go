package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"tcmdiag/internal/llmclient"
)

var ErrProviderNotRegistered = errors.New("llm provider is not registered")

// RateLimitConfig is a per-reference request budget.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// ProviderRegistry resolves "provider:model" references to clients. Clients
// are built lazily on first use and cached per reference.
type ProviderRegistry struct {
	mu        sync.RWMutex
	factories map[string]llmclient.Factory
	limits    map[string]RateLimitConfig
	clients   map[string]llmclient.Client
	mws       []Middleware
}

// NewProviderRegistry creates an empty registry. The middlewares wrap every
// client it builds, outermost first.
func NewProviderRegistry(mws ...Middleware) *ProviderRegistry {
	return &ProviderRegistry{
		factories: map[string]llmclient.Factory{},
		limits:    map[string]RateLimitConfig{},
		clients:   map[string]llmclient.Client{},
		mws:       mws,
	}
}

// RegisterProvider adds a factory for one provider name.
func (r *ProviderRegistry) RegisterProvider(name string, f llmclient.Factory) error {
	if f == nil {
		return fmt.Errorf("register provider: factory is nil")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("register provider: name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	return nil
}

// RegisterCatalog registers every factory of a catalog.
func (r *ProviderRegistry) RegisterCatalog(catalog map[string]llmclient.Factory) error {
	for name, f := range catalog {
		if err := r.RegisterProvider(name, f); err != nil {
			return err
		}
	}
	return nil
}

// SetRateLimit sets the budget applied when the client for ref is built.
func (r *ProviderRegistry) SetRateLimit(ref string, rl RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[strings.TrimSpace(ref)] = rl
}

// ApplyTierLimits copies the per-tier RPS settings onto their references.
func (r *ProviderRegistry) ApplyTierLimits(tiers []ModelTier) {
	for _, t := range tiers {
		if t.RPS > 0 {
			r.SetRateLimit(t.ProviderRef, RateLimitConfig{RPS: t.RPS, Burst: t.Burst})
		}
	}
}

// Validate checks that every tier references a registered provider.
func (r *ProviderRegistry) Validate(tiers []ModelTier) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range tiers {
		provider, _, err := llmclient.SplitRef(t.ProviderRef)
		if err != nil {
			return fmt.Errorf("tier %s: %w", t.TierID, err)
		}
		if _, ok := r.factories[provider]; !ok {
			return fmt.Errorf("tier %s: %w: %s", t.TierID, ErrProviderNotRegistered, provider)
		}
	}
	return nil
}

// Client returns the cached client for ref, building it on first use.
func (r *ProviderRegistry) Client(ctx context.Context, ref string) (llmclient.Client, error) {
	ref = strings.TrimSpace(ref)
	r.mu.RLock()
	cli, ok := r.clients[ref]
	r.mu.RUnlock()
	if ok {
		return cli, nil
	}

	provider, model, err := llmclient.SplitRef(ref)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cli, ok := r.clients[ref]; ok {
		return cli, nil
	}
	factory, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotRegistered, provider)
	}
	base, err := factory(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("build %s client: %w", ref, err)
	}
	mws := append([]Middleware(nil), r.mws...)
	if rl, ok := r.limits[ref]; ok {
		mws = append(mws, RateLimit(rl.RPS, rl.Burst))
	}
	cli = Wrap(base, mws...)
	r.clients[ref] = cli
	return cli, nil
}

// Generate resolves ref and forwards the call.
func (r *ProviderRegistry) Generate(ctx context.Context, ref, prompt string, media []llmclient.Media) (string, error) {
	cli, err := r.Client(ctx, ref)
	if err != nil {
		return "", err
	}
	return cli.Generate(ctx, prompt, media)
}

// Close closes every built client.
func (r *ProviderRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for ref, cli := range r.clients {
		if err := cli.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ref, err))
		}
		delete(r.clients, ref)
	}
	return errors.Join(errs...)
}
