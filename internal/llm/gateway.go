package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tcmdiag/internal/llmclient"
)

var ErrAllTiersExhausted = errors.New("all model tiers exhausted")

// Generator sends one prompt to the provider behind ref.
type Generator interface {
	Generate(ctx context.Context, ref, prompt string, media []llmclient.Media) (string, error)
}

// FailureReason classifies why a tier attempt did not produce an analysis.
type FailureReason string

const (
	ReasonTimeout       FailureReason = "timeout"
	ReasonProviderError FailureReason = "provider_error"
	ReasonRejected      FailureReason = "rejected"
	ReasonMalformed     FailureReason = "malformed_output"
)

// TierFailure records one failed attempt.
type TierFailure struct {
	TierID      string
	ProviderRef string
	Reason      FailureReason
	Err         error
}

func (f TierFailure) String() string {
	return fmt.Sprintf("%s(%s): %s: %v", f.TierID, f.ProviderRef, f.Reason, f.Err)
}

// AllTiersExhaustedError lists the failure of every tier in the chain.
type AllTiersExhaustedError struct {
	Failures []TierFailure
}

func (e *AllTiersExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return ErrAllTiersExhausted.Error() + ": empty chain"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.String()
	}
	return ErrAllTiersExhausted.Error() + ": " + strings.Join(parts, "; ")
}

func (e *AllTiersExhaustedError) Is(target error) bool { return target == ErrAllTiersExhausted }

// AnalysisRequest is the stage-specific input to the gateway.
type AnalysisRequest struct {
	Stage  string
	Prompt string
	Media  []llmclient.Media
}

// Output is a successful analysis plus the attempts that failed before it.
type Output struct {
	TierID        string
	ProviderRef   string
	Analysis      Analysis
	Raw           string
	PriorFailures []TierFailure
}

// Gateway walks a tier chain until one tier returns a well-formed analysis.
// It is the only place an inference call is retried.
type Gateway struct {
	gen            Generator
	attemptTimeout time.Duration
	log            *slog.Logger
}

type GatewayOption func(*Gateway)

// WithAttemptTimeout sets the timeout used for tiers without their own.
func WithAttemptTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.attemptTimeout = d
		}
	}
}

func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

func NewGateway(gen Generator, opts ...GatewayOption) *Gateway {
	g := &Gateway{gen: gen, attemptTimeout: 30 * time.Second, log: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Analyze tries each tier of chain in order. Cancellation of ctx stops the
// walk and returns ctx's error; exhaustion returns *AllTiersExhaustedError.
func (g *Gateway) Analyze(ctx context.Context, req AnalysisRequest, chain []ModelTier) (*Output, error) {
	var failures []TierFailure
	for _, tier := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, raw, fail := g.attempt(ctx, req, tier)
		if fail == nil {
			if len(failures) > 0 {
				g.log.InfoContext(ctx, "analysis served by fallback tier", "stage", req.Stage, "tier", tier.TierID, "failed_tiers", len(failures))
			}
			return &Output{
				TierID:        tier.TierID,
				ProviderRef:   tier.ProviderRef,
				Analysis:      a,
				Raw:           raw,
				PriorFailures: failures,
			}, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g.log.WarnContext(ctx, "tier attempt failed", "stage", req.Stage, "tier", tier.TierID, "provider", tier.ProviderRef, "reason", fail.Reason, "error", fail.Err)
		failures = append(failures, *fail)
	}
	return nil, &AllTiersExhaustedError{Failures: failures}
}

func (g *Gateway) attempt(ctx context.Context, req AnalysisRequest, tier ModelTier) (Analysis, string, *TierFailure) {
	timeout := tier.Timeout
	if timeout <= 0 {
		timeout = g.attemptTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fail := func(reason FailureReason, err error) *TierFailure {
		return &TierFailure{TierID: tier.TierID, ProviderRef: tier.ProviderRef, Reason: reason, Err: err}
	}
	raw, err := g.gen.Generate(actx, tier.ProviderRef, req.Prompt, req.Media)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded):
			return Analysis{}, "", fail(ReasonTimeout, err)
		case llmclient.IsPermanent(err):
			return Analysis{}, "", fail(ReasonRejected, err)
		default:
			return Analysis{}, "", fail(ReasonProviderError, err)
		}
	}
	a, err := ParseAnalysis(raw)
	if err != nil {
		return Analysis{}, raw, fail(ReasonMalformed, err)
	}
	return a, raw, nil
}
