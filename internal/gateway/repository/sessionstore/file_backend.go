package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tcmdiag/internal/diagnosis"
)

func (s *Store) ensureLoadedFile() error {
	s.loadOnce.Do(func() {
		if s.path == "" {
			return
		}
		b, err := os.ReadFile(s.path)
		if err != nil {
			if !os.IsNotExist(err) {
				s.loadErr = fmt.Errorf("read session file: %w", err)
			}
			return
		}
		var rows []json.RawMessage
		if err := json.Unmarshal(b, &rows); err != nil {
			s.loadErr = fmt.Errorf("parse session file: %w", err)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, raw := range rows {
			st, err := diagnosis.DecodeState(raw)
			if err != nil {
				s.loadErr = fmt.Errorf("parse session file: %w", err)
				return
			}
			if id := strings.TrimSpace(st.SessionID); id != "" {
				s.byID[id] = st
			}
		}
	})
	return s.loadErr
}

// flushLocked replaces the session file atomically (temp file + rename).
// Callers hold s.mu.
func (s *Store) flushLocked() error {
	if s.path == "" {
		return nil
	}
	rows := make([]*diagnosis.State, 0, len(s.byID))
	for _, st := range s.byID {
		rows = append(rows, st)
	}
	sortNewestFirst(rows)
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *Store) saveFile(st *diagnosis.State) error {
	if err := s.ensureLoadedFile(); err != nil {
		return err
	}
	id := strings.TrimSpace(st.SessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.byID[id]
	switch {
	case st.Version == 0 && exists:
		return conflict(id, "already exists")
	case st.Version != 0 && !exists:
		return notFound(id)
	case exists && cur.Version != st.Version:
		return conflict(id, fmt.Sprintf("version %d, stored %d", st.Version, cur.Version))
	}
	if st.Status == diagnosis.StatusActive {
		for _, other := range s.byID {
			if other.SessionID != id && other.OwnerRef == st.OwnerRef && other.Status == diagnosis.StatusActive {
				return conflict(id, "owner already has active session "+other.SessionID)
			}
		}
	}

	next := st.Clone()
	next.Version = st.Version + 1
	next.LastPersistedAt = s.now()
	s.byID[id] = next
	if err := s.flushLocked(); err != nil {
		if exists {
			s.byID[id] = cur
		} else {
			delete(s.byID, id)
		}
		return fmt.Errorf("write session file: %w", err)
	}
	st.Version = next.Version
	st.LastPersistedAt = next.LastPersistedAt
	return nil
}

func (s *Store) loadFile(sessionID string) (*diagnosis.State, error) {
	if err := s.ensureLoadedFile(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(sessionID)
	s.mu.RLock()
	st, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	return st.Clone(), nil
}

func (s *Store) loadActiveFile(owner string) (*diagnosis.State, bool, error) {
	if err := s.ensureLoadedFile(); err != nil {
		return nil, false, err
	}
	owner = strings.TrimSpace(owner)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.byID {
		if st.OwnerRef == owner && st.Status == diagnosis.StatusActive {
			return st.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (s *Store) markAbandonedFile(sessionID string) error {
	if err := s.ensureLoadedFile(); err != nil {
		return err
	}
	id := strings.TrimSpace(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return notFound(id)
	}
	next := cur.Clone()
	changed, err := abandon(next)
	if err != nil || !changed {
		return err
	}
	next.Version = cur.Version + 1
	next.LastPersistedAt = s.now()
	s.byID[id] = next
	if err := s.flushLocked(); err != nil {
		s.byID[id] = cur
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (s *Store) listByOwnerFile(owner string) ([]*diagnosis.State, error) {
	if err := s.ensureLoadedFile(); err != nil {
		return nil, err
	}
	owner = strings.TrimSpace(owner)
	s.mu.RLock()
	out := make([]*diagnosis.State, 0, 8)
	for _, st := range s.byID {
		if st.OwnerRef == owner {
			out = append(out, st.Clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(rows []*diagnosis.State) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].SessionID > rows[j].SessionID
	})
}
