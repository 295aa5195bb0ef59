package diagnosis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tcmdiag/internal/llm"
)

func TestComplexityScorer_Score(t *testing.T) {
	var sc ComplexityScorer
	s := NewState("s1", "o1", time.Now().UTC())
	assert.Equal(t, 0.0, sc.Score(s))

	s.StagePayloads[StageInquiry] = &Inquiry{
		ChiefComplaint: "fatigue",
		Symptoms:       []Symptom{{Name: "fatigue", Severity: 4}, {Name: "bloating", Severity: 6}, {Name: "loose stool", Severity: 2}},
	}
	// 0.6*3/6 = 0.3 and 0.5*6/10 = 0.3
	assert.InDelta(t, 0.51, sc.Score(s), 1e-9)

	s.StagePayloads[StageBasicInfo] = &BasicInfo{Name: "Li", Age: 70}
	withAge := sc.Score(s)
	assert.InDelta(t, 1-0.7*0.7*0.8, withAge, 1e-9)

	s.StagePayloads[StagePulse] = &PulseReading{Readings: []PulseSample{
		{Position: "cun", Side: "left", RateBPM: 110},
		{Position: "guan", Side: "left", RateBPM: 72},
	}}
	withPulse := sc.Score(s)
	assert.Greater(t, withPulse, withAge)

	s.StageResults[StageInquiry] = StageResult{Stage: StageInquiry, Analysis: llm.Analysis{Organs: []string{"spleen", "stomach"}, Severity: 0.5}}
	s.StageResults[StageTongue] = StageResult{Stage: StageTongue, Analysis: llm.Analysis{Organs: []string{"spleen", "kidney"}, Severity: 0.2}}
	withResults := sc.Score(s)
	assert.Greater(t, withResults, withPulse)
	assert.LessOrEqual(t, withResults, 1.0)
}

func TestComplexityScorer_NeverDecreasesWithEvidence(t *testing.T) {
	var sc ComplexityScorer
	s := NewState("s1", "o1", time.Now().UTC())
	prev := sc.Score(s)
	steps := []func(){
		func() { s.StagePayloads[StageBasicInfo] = &BasicInfo{Name: "Kid", Age: 8} },
		func() {
			s.StagePayloads[StageInquiry] = &Inquiry{ChiefComplaint: "fever", Symptoms: []Symptom{{Name: "fever", Severity: 9}}, Urgent: true}
		},
		func() {
			s.StageResults[StageInquiry] = StageResult{Analysis: llm.Analysis{Organs: []string{"lung"}, Severity: 0.7}}
		},
		func() {
			s.StageResults[StageTongue] = StageResult{Analysis: llm.Analysis{Organs: []string{"lung", "heart", "liver", "kidney", "spleen"}, Severity: 0.9}}
		},
		func() {
			s.StagePayloads[StagePulse] = &PulseReading{Readings: []PulseSample{
				{RateBPM: 130}, {RateBPM: 128}, {RateBPM: 125}, {RateBPM: 40},
			}}
		},
	}
	for i, step := range steps {
		step()
		cur := sc.Score(s)
		assert.GreaterOrEqual(t, cur, prev, "step %d", i)
		assert.LessOrEqual(t, cur, 1.0)
		prev = cur
	}
}

func TestUrgent(t *testing.T) {
	s := NewState("s1", "o1", time.Now().UTC())
	assert.False(t, Urgent(s))
	s.StagePayloads[StageInquiry] = &Inquiry{Urgent: true}
	assert.True(t, Urgent(s))
}
