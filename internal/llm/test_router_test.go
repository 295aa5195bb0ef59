package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fourTiers() []ModelTier {
	// Deliberately out of order; the router sorts by rank.
	return []ModelTier{
		{TierID: "C", CapabilityRank: 3, MaxComplexityScore: 0.8, ProviderRef: "fake:c"},
		{TierID: "A", CapabilityRank: 1, MaxComplexityScore: 0.3, ProviderRef: "fake:a"},
		{TierID: "D", CapabilityRank: 4, MaxComplexityScore: 1, ProviderRef: "fake:d"},
		{TierID: "B", CapabilityRank: 2, MaxComplexityScore: 0.55, ProviderRef: "fake:b"},
	}
}

func tierIDs(chain []ModelTier) []string {
	out := make([]string, len(chain))
	for i, t := range chain {
		out[i] = t.TierID
	}
	return out
}

func TestRouter_SelectsLowestQualifyingTier(t *testing.T) {
	r, err := NewRouter(fourTiers())
	require.NoError(t, err)

	cases := []struct {
		score  float64
		urgent bool
		want   []string
	}{
		{0, false, []string{"A", "B", "C", "D"}},
		{0.3, false, []string{"A", "B", "C", "D"}},
		{0.31, false, []string{"B", "C", "D"}},
		{0.7, false, []string{"C", "D"}},
		{0.95, false, []string{"D"}},
		{0.1, true, []string{"B", "C", "D"}},
		{0.95, true, []string{"D"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tierIDs(r.SelectTier(tc.score, tc.urgent)), "score=%v urgent=%v", tc.score, tc.urgent)
	}
}

func TestRouter_ScoreAboveEveryTierGetsHighest(t *testing.T) {
	r, err := NewRouter([]ModelTier{
		{TierID: "lo", CapabilityRank: 1, MaxComplexityScore: 0.2, ProviderRef: "fake:lo"},
		{TierID: "hi", CapabilityRank: 2, MaxComplexityScore: 0.5, ProviderRef: "fake:hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, tierIDs(r.SelectTier(0.9, false)))
}

func TestRouter_ChainIsMonotoneInScoreAndUrgency(t *testing.T) {
	r, err := NewRouter(fourTiers())
	require.NoError(t, err)
	rank := func(score float64, urgent bool) int { return r.SelectTier(score, urgent)[0].CapabilityRank }

	prev := 0
	for i := 0; i <= 100; i++ {
		s := float64(i) / 100
		got := rank(s, false)
		assert.GreaterOrEqual(t, got, prev, "score %v", s)
		assert.GreaterOrEqual(t, rank(s, true), got, "urgent at score %v", s)
		prev = got

		chain := r.SelectTier(s, i%2 == 0)
		for j := 1; j < len(chain); j++ {
			assert.Less(t, chain[j-1].CapabilityRank, chain[j].CapabilityRank)
		}
	}
}

func TestNewRouter_RejectsBadTables(t *testing.T) {
	cases := map[string][]ModelTier{
		"empty":          nil,
		"duplicate id":   {{TierID: "a", CapabilityRank: 1, MaxComplexityScore: 0.5, ProviderRef: "fake:a"}, {TierID: "a", CapabilityRank: 2, MaxComplexityScore: 1, ProviderRef: "fake:b"}},
		"duplicate rank": {{TierID: "a", CapabilityRank: 1, MaxComplexityScore: 0.5, ProviderRef: "fake:a"}, {TierID: "b", CapabilityRank: 1, MaxComplexityScore: 1, ProviderRef: "fake:b"}},
		"score range":    {{TierID: "a", CapabilityRank: 1, MaxComplexityScore: 1.5, ProviderRef: "fake:a"}},
		"no provider":    {{TierID: "a", CapabilityRank: 1, MaxComplexityScore: 0.5}},
	}
	for name, tiers := range cases {
		_, err := NewRouter(tiers)
		assert.True(t, errors.Is(err, ErrInvalidTierTable), name)
	}
}

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers([]byte(`
tiers:
  - id: lite
    rank: 1
    max_score: 0.4
    provider: " groq:llama-3.1-8b-instant "
    timeout: 15s
    rps: 2
    burst: 3
  - id: pro
    rank: 2
    max_score: 1
    provider: gemini:gemini-2.5-pro
`))
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, "groq:llama-3.1-8b-instant", tiers[0].ProviderRef)
	assert.Equal(t, 15e9, float64(tiers[0].Timeout))
	assert.Equal(t, 2.0, tiers[0].RPS)
	assert.Equal(t, 3, tiers[0].Burst)

	_, err = NewRouter(tiers)
	require.NoError(t, err)
}

func TestDefaultTiersAreValid(t *testing.T) {
	for _, fake := range []bool{true, false} {
		_, err := NewRouter(DefaultTiers(fake))
		require.NoError(t, err)
	}
}
