package llm

import (
	"context"
	"testing"
	"time"

	"tcmdiag/internal/llmclient"
)

// fast fake client that returns immediately
type fastClient struct{}

func (f *fastClient) Name() string { return "fast" }
func (f *fastClient) Close() error { return nil }
func (f *fastClient) Generate(ctx context.Context, prompt string, media []llmclient.Media) (string, error) {
	return `{}`, nil
}

// spy records timestamps when requests reach the inner client
type spy struct{ times []time.Time }
type spyingClient struct {
	next llmclient.Client
	rec  *spy
}

func (s *spyingClient) Name() string { return s.next.Name() }
func (s *spyingClient) Close() error { return s.next.Close() }
func (s *spyingClient) Generate(ctx context.Context, prompt string, media []llmclient.Media) (string, error) {
	s.rec.times = append(s.rec.times, time.Now())
	return s.next.Generate(ctx, prompt, media)
}

func TestRate_RPS_2PerSecond_Burst1_Spacing(t *testing.T) {
	rec := &spy{}
	cli := Wrap(&spyingClient{next: &fastClient{}, rec: rec}, RateLimit(2, 1))
	t.Cleanup(func() { _ = cli.Close() })

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := cli.Generate(ctx, "p", nil); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Fatalf("expected >=400ms for 2 calls at 2rps, got %v", elapsed)
	}
}

func TestRate_WaitHonoursContext(t *testing.T) {
	cli := Wrap(&fastClient{}, RateLimit(0.1, 1))
	t.Cleanup(func() { _ = cli.Close() })

	if _, err := cli.Generate(context.Background(), "p", nil); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := cli.Generate(ctx, "p", nil); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRate_DisabledPassesThrough(t *testing.T) {
	inner := &fastClient{}
	if got := Wrap(inner, RateLimit(0, 0)); got != llmclient.Client(inner) {
		t.Fatalf("expected limiter to be skipped when rps <= 0")
	}
}
