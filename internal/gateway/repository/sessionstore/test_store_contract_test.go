package sessionstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcmdiag/internal/diagnosis"
	"tcmdiag/internal/llm"
)

func backends(t *testing.T) map[string]func(t *testing.T) *Store {
	return map[string]func(t *testing.T) *Store{
		"memory": func(t *testing.T) *Store { return New("") },
		"file": func(t *testing.T) *Store {
			return New(filepath.Join(t.TempDir(), "sessions.json"))
		},
		"sqlite": func(t *testing.T) *Store {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"postgres": func(t *testing.T) *Store {
			s, err := NewPostgres(getenvOrSkip(t, "DATABASE_URL"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}

func newSession(owner string) *diagnosis.State {
	return diagnosis.NewState(uuid.NewString(), owner, time.Now().UTC().Truncate(time.Microsecond))
}

func richSession(owner string) *diagnosis.State {
	s := newSession(owner)
	s.CurrentStageOrdinal = 2
	s.StagePayloads[diagnosis.StageBasicInfo] = &diagnosis.BasicInfo{Name: "Li Wei", Age: 67, Gender: "male"}
	s.StagePayloads[diagnosis.StageInquiry] = &diagnosis.Inquiry{
		ChiefComplaint: "fatigue",
		Symptoms:       []diagnosis.Symptom{{Name: "bloating", Severity: 6, DurationDays: 14}},
	}
	s.StageResults[diagnosis.StageInquiry] = diagnosis.StageResult{
		Stage:       diagnosis.StageInquiry,
		TierID:      "standard",
		ProviderRef: "fake:standard",
		Analysis:    llm.Analysis{Summary: "spleen qi deficiency", Organs: []string{"spleen"}, Severity: 0.4},
		CompletedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Drafts[diagnosis.StageTongue] = &diagnosis.TongueImage{Notes: "pale"}
	s.CompletionPercentage = 28
	s.ComplexityScore = 0.52
	return s
}

func TestStore_Contract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("round trip", func(t *testing.T) {
				s := open(t)
				st := richSession("owner-rt-" + uuid.NewString())
				require.NoError(t, s.Save(ctx, st))
				assert.Equal(t, int64(1), st.Version)
				assert.False(t, st.LastPersistedAt.IsZero())

				got, err := s.Load(ctx, st.SessionID)
				require.NoError(t, err)
				assert.Equal(t, st, got)
			})

			t.Run("version conflict", func(t *testing.T) {
				s := open(t)
				st := newSession("owner-cas-" + uuid.NewString())
				require.NoError(t, s.Save(ctx, st))

				a, err := s.Load(ctx, st.SessionID)
				require.NoError(t, err)
				b, err := s.Load(ctx, st.SessionID)
				require.NoError(t, err)

				a.CurrentStageOrdinal = 1
				require.NoError(t, s.Save(ctx, a))
				b.CurrentStageOrdinal = 1
				err = s.Save(ctx, b)
				assert.ErrorIs(t, err, diagnosis.ErrConcurrentModification)
				assert.Equal(t, int64(1), b.Version)

				stale := newSession(st.OwnerRef)
				stale.SessionID = st.SessionID
				assert.ErrorIs(t, s.Save(ctx, stale), diagnosis.ErrConcurrentModification)
			})

			t.Run("not found", func(t *testing.T) {
				s := open(t)
				_, err := s.Load(ctx, uuid.NewString())
				assert.ErrorIs(t, err, diagnosis.ErrNotFound)
				assert.ErrorIs(t, s.MarkAbandoned(ctx, uuid.NewString()), diagnosis.ErrNotFound)

				ghost := newSession("ghost")
				ghost.Version = 3
				assert.ErrorIs(t, s.Save(ctx, ghost), diagnosis.ErrNotFound)
			})

			t.Run("one active session per owner", func(t *testing.T) {
				s := open(t)
				owner := "owner-active-" + uuid.NewString()
				first := newSession(owner)
				require.NoError(t, s.Save(ctx, first))
				assert.ErrorIs(t, s.Save(ctx, newSession(owner)), diagnosis.ErrConcurrentModification)

				active, ok, err := s.LoadActiveByOwner(ctx, owner)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, first.SessionID, active.SessionID)

				require.NoError(t, s.MarkAbandoned(ctx, first.SessionID))
				_, ok, err = s.LoadActiveByOwner(ctx, owner)
				require.NoError(t, err)
				assert.False(t, ok)

				second := newSession(owner)
				second.CreatedAt = second.CreatedAt.Add(time.Second)
				require.NoError(t, s.Save(ctx, second))

				list, err := s.ListByOwner(ctx, owner)
				require.NoError(t, err)
				require.Len(t, list, 2)
				assert.Equal(t, second.SessionID, list[0].SessionID)
				assert.Equal(t, diagnosis.StatusAbandoned, list[1].Status)
				assert.Equal(t, int64(2), list[1].Version)
			})

			t.Run("abandon is idempotent and refuses complete", func(t *testing.T) {
				s := open(t)
				st := newSession("owner-ab-" + uuid.NewString())
				require.NoError(t, s.Save(ctx, st))
				require.NoError(t, s.MarkAbandoned(ctx, st.SessionID))
				require.NoError(t, s.MarkAbandoned(ctx, st.SessionID))
				got, err := s.Load(ctx, st.SessionID)
				require.NoError(t, err)
				assert.Equal(t, int64(2), got.Version)

				done := newSession("owner-done-" + uuid.NewString())
				done.Status = diagnosis.StatusComplete
				require.NoError(t, s.Save(ctx, done))
				assert.ErrorIs(t, s.MarkAbandoned(ctx, done.SessionID), diagnosis.ErrSessionClosed)
			})

			t.Run("concurrent saves of one version", func(t *testing.T) {
				s := open(t)
				st := newSession("owner-race-" + uuid.NewString())
				require.NoError(t, s.Save(ctx, st))

				var wg sync.WaitGroup
				results := make([]error, 8)
				for i := range results {
					wg.Add(1)
					go func() {
						defer wg.Done()
						c := st.Clone()
						c.CompletionPercentage = float64(i)
						results[i] = s.Save(ctx, c)
					}()
				}
				wg.Wait()
				wins := 0
				for _, err := range results {
					if err == nil {
						wins++
						continue
					}
					assert.ErrorIs(t, err, diagnosis.ErrConcurrentModification)
				}
				assert.Equal(t, 1, wins)
			})
		})
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.json")
	ctx := context.Background()
	st := richSession("owner-reopen")
	require.NoError(t, New(path).Save(ctx, st))

	got, err := New(path).Load(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, st, got)

	active, ok, err := New(path).LoadActiveByOwner(ctx, "owner-reopen")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st.SessionID, active.SessionID)
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{Backend: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = Open(Config{Backend: "file"})
	assert.Error(t, err)
	_, err = Open(Config{Backend: "postgres"})
	assert.Error(t, err)
	_, err = Open(Config{Backend: "redis"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{dia: dialectPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &Store{dia: dialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSQLStore_CancelledRequestDoesNotPoisonStore(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Load(cancelled, uuid.NewString())
	assert.Error(t, err)

	ctx := context.Background()
	st := newSession("owner-cancel")
	require.NoError(t, s.Save(ctx, st))
	got, err := s.Load(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, st.SessionID, got.SessionID)
}
