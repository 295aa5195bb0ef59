package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"tcmdiag/internal/diagnosis"
)

type CacheConfig struct {
	StateTTL        time.Duration
	StateMaxEntries int
	OwnerTTL        time.Duration
	OwnerMaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		StateTTL:        5 * time.Minute,
		StateMaxEntries: 2048,
		OwnerTTL:        30 * time.Second,
		OwnerMaxEntries: 1024,
	}
}

// CachedStore is a read-through cache of session snapshots by id in front
// of a SessionStore. Writes go straight to the origin, whose version check
// stays authoritative; a stale cached snapshot can at worst cause one
// conflict, after which it is evicted. Owner lookups are never served from
// the cache: Start must see abandons made by any writer. The cache assumes
// one process owns the origin.
type CachedStore struct {
	origin diagnosis.SessionStore

	byID *expirable.LRU[string, *diagnosis.State]
	// owners maps an owner to the id of its last known active session so
	// that snapshot can be evicted once the origin reports otherwise.
	owners *expirable.LRU[string, string]
}

var _ diagnosis.SessionStore = (*CachedStore)(nil)

func NewCachedStore(origin diagnosis.SessionStore, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = def.StateTTL
	}
	if cfg.StateMaxEntries <= 0 {
		cfg.StateMaxEntries = def.StateMaxEntries
	}
	if cfg.OwnerTTL <= 0 {
		cfg.OwnerTTL = def.OwnerTTL
	}
	if cfg.OwnerMaxEntries <= 0 {
		cfg.OwnerMaxEntries = def.OwnerMaxEntries
	}
	return &CachedStore{
		origin: origin,
		byID:   expirable.NewLRU[string, *diagnosis.State](cfg.StateMaxEntries, nil, cfg.StateTTL),
		owners: expirable.NewLRU[string, string](cfg.OwnerMaxEntries, nil, cfg.OwnerTTL),
	}
}

func (s *CachedStore) Save(ctx context.Context, st *diagnosis.State) error {
	if err := s.origin.Save(ctx, st); err != nil {
		if errors.Is(err, diagnosis.ErrConcurrentModification) || errors.Is(err, diagnosis.ErrNotFound) {
			s.byID.Remove(st.SessionID)
			s.owners.Remove(st.OwnerRef)
		}
		return err
	}
	s.remember(st.Clone())
	return nil
}

func (s *CachedStore) Load(ctx context.Context, sessionID string) (*diagnosis.State, error) {
	id := strings.TrimSpace(sessionID)
	if st, ok := s.byID.Get(id); ok {
		return st.Clone(), nil
	}
	st, err := s.origin.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(st.Clone())
	return st, nil
}

// LoadActiveByOwner always asks the origin and refreshes the cached
// snapshot with the answer.
func (s *CachedStore) LoadActiveByOwner(ctx context.Context, owner string) (*diagnosis.State, bool, error) {
	owner = strings.TrimSpace(owner)
	st, ok, err := s.origin.LoadActiveByOwner(ctx, owner)
	if err != nil {
		return nil, false, err
	}
	if prev, had := s.owners.Peek(owner); had && (!ok || prev != st.SessionID) {
		s.byID.Remove(prev)
		s.owners.Remove(owner)
	}
	if !ok {
		return nil, false, nil
	}
	s.remember(st.Clone())
	return st, true, nil
}

func (s *CachedStore) MarkAbandoned(ctx context.Context, sessionID string) error {
	id := strings.TrimSpace(sessionID)
	err := s.origin.MarkAbandoned(ctx, id)
	if cached, ok := s.byID.Peek(id); ok {
		if cur, had := s.owners.Peek(cached.OwnerRef); had && cur == id {
			s.owners.Remove(cached.OwnerRef)
		}
	}
	s.byID.Remove(id)
	return err
}

// ListByOwner is not cached; listings are rare and must see every status.
func (s *CachedStore) ListByOwner(ctx context.Context, owner string) ([]*diagnosis.State, error) {
	return s.origin.ListByOwner(ctx, owner)
}

func (s *CachedStore) remember(st *diagnosis.State) {
	s.byID.Add(st.SessionID, st)
	if st.Status == diagnosis.StatusActive {
		s.owners.Add(st.OwnerRef, st.SessionID)
		return
	}
	if cur, ok := s.owners.Peek(st.OwnerRef); ok && cur == st.SessionID {
		s.owners.Remove(st.OwnerRef)
	}
}
