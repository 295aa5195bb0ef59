package diagnosis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageRegistry_DefaultOrder(t *testing.T) {
	reg := MustDefaultRegistry()
	require.Equal(t, 8, reg.Len())

	want := []StageID{StageBasicInfo, StageInquiry, StageTongue, StageFace, StageAudio, StagePulse, StageDeviceSync, StageSynthesis}
	total := 0
	for i, st := range reg.Stages() {
		assert.Equal(t, want[i], st.ID)
		assert.Equal(t, i, st.Ordinal)
		total += st.Weight
	}
	assert.Equal(t, 100, total)

	st, err := reg.Lookup(StagePulse)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Ordinal)

	_, err = reg.StageAt(8)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Lookup("horoscope")
	assert.ErrorIs(t, err, ErrNotFound)

	next, ok := reg.NextOrdinal(6)
	assert.True(t, ok)
	assert.Equal(t, 7, next)
	_, ok = reg.NextOrdinal(7)
	assert.False(t, ok)
}

func TestStageRegistry_ReturnsCopies(t *testing.T) {
	reg := MustDefaultRegistry()
	st, err := reg.StageAt(0)
	require.NoError(t, err)
	st.RequiredInputs[0] = "mutated"

	again, err := reg.StageAt(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age"}, again.RequiredInputs)
}

func TestNewStageRegistry_Rejects(t *testing.T) {
	cases := map[string][]Stage{
		"empty":         nil,
		"duplicate":     {{ID: StageBasicInfo, Weight: 50}, {ID: StageBasicInfo, Weight: 50}},
		"unknown stage": {{ID: "horoscope", Weight: 100}},
		"bad weights":   {{ID: StageBasicInfo, Weight: 40}, {ID: StageInquiry, Weight: 40}},
		"negative":      {{ID: StageBasicInfo, Weight: 110}, {ID: StageInquiry, Weight: -10}},
		"blank id":      {{ID: " ", Weight: 100}},
	}
	for name, stages := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewStageRegistry(stages)
			assert.Error(t, err)
		})
	}
}

func TestCompletion(t *testing.T) {
	reg := MustDefaultRegistry()
	s := NewState("s1", "o1", time.Now().UTC())
	assert.Equal(t, 0.0, reg.Completion(s))

	s.CurrentStageOrdinal = 2
	assert.Equal(t, 28.0, reg.Completion(s))

	s.Drafts[StageTongue] = &TongueImage{Image: &MediaRef{Key: "k"}}
	assert.Equal(t, 40.6, reg.Completion(s))

	// A draft for another stage does not count.
	delete(s.Drafts, StageTongue)
	s.Drafts[StageFace] = &FaceImage{Image: &MediaRef{Key: "k"}}
	assert.Equal(t, 28.0, reg.Completion(s))

	s.CurrentStageOrdinal = reg.Len()
	s.Status = StatusComplete
	assert.Equal(t, 100.0, reg.Completion(s))
}
