package llm

import (
	"context"
	"log/slog"
	"time"

	"tcmdiag/internal/llmclient"
)

// Middleware decorates a provider client with a cross-cutting concern.
type Middleware func(llmclient.Client) llmclient.Client

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner llmclient.Client, mws ...Middleware) llmclient.Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// RateLimit throttles calls to rps with the given burst. rps <= 0 disables it.
func RateLimit(rps float64, burst int) Middleware {
	return func(next llmclient.Client) llmclient.Client {
		rl := newRPSLimiter(rps, burst)
		if rl == nil {
			return next
		}
		return &rateLimited{next: next, rl: rl}
	}
}

type rateLimited struct {
	next llmclient.Client
	rl   *rpsLimiter
}

func (c *rateLimited) Name() string { return c.next.Name() }

func (c *rateLimited) Close() error {
	c.rl.Stop()
	return c.next.Close()
}

func (c *rateLimited) Generate(ctx context.Context, prompt string, media []llmclient.Media) (string, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return "", err
	}
	return c.next.Generate(ctx, prompt, media)
}

// WithLogging logs request size, latency and errors. A nil logger uses
// slog.Default().
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next llmclient.Client) llmclient.Client {
		return &logging{next: next, log: logger}
	}
}

type logging struct {
	next llmclient.Client
	log  *slog.Logger
}

func (l *logging) Name() string { return l.next.Name() }
func (l *logging) Close() error { return l.next.Close() }

func (l *logging) Generate(ctx context.Context, prompt string, media []llmclient.Media) (string, error) {
	size := len(prompt)
	for _, m := range media {
		size += len(m.Data)
	}
	start := time.Now()
	out, err := l.next.Generate(ctx, prompt, media)
	attrs := []any{"client", l.next.Name(), "request_bytes", size, "attachments", len(media), "elapsed", time.Since(start)}
	if err != nil {
		l.log.WarnContext(ctx, "llm request failed", append(attrs, "error", err)...)
		return out, err
	}
	l.log.DebugContext(ctx, "llm request", append(attrs, "response_bytes", len(out))...)
	return out, nil
}
