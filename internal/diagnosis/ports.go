package diagnosis

import (
	"context"

	"tcmdiag/internal/llm"
)

// SessionStore persists session snapshots. Save is a compare-and-swap on
// State.Version (0 creates the record); on success the store bumps Version
// and stamps LastPersistedAt on the value passed in. A version mismatch, or
// a second active session for the same owner, yields
// ErrConcurrentModification.
type SessionStore interface {
	Save(ctx context.Context, s *State) error
	Load(ctx context.Context, sessionID string) (*State, error)
	LoadActiveByOwner(ctx context.Context, owner string) (*State, bool, error)
	MarkAbandoned(ctx context.Context, sessionID string) error
	ListByOwner(ctx context.Context, owner string) ([]*State, error)
}

// Analyzer walks a tier chain; *llm.Gateway implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req llm.AnalysisRequest, chain []llm.ModelTier) (*llm.Output, error)
}

// TierSelector chooses the tier chain; *llm.Router implements it.
type TierSelector interface {
	SelectTier(score float64, urgent bool) []llm.ModelTier
}

// MediaReader loads uploaded blobs by key.
type MediaReader interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// Notifier is told about every snapshot that was persisted.
type Notifier interface {
	Publish(s *State)
}
