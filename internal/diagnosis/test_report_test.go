package diagnosis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tcmdiag/internal/llm"
)

func completedState() *State {
	s := NewState("s1", "o1", time.Now().UTC())
	s.StagePayloads[StageBasicInfo] = &BasicInfo{Name: "Ana", Age: 41, Gender: "female"}
	s.StageResults[StageSynthesis] = StageResult{Stage: StageSynthesis, TierID: "expert", Analysis: llm.Analysis{
		Summary:         "liver qi stagnation with spleen deficiency",
		Patterns:        []string{"liver qi stagnation", "spleen qi deficiency"},
		Organs:          []string{"liver", "spleen"},
		Severity:        0.4,
		Recommendations: []string{"regular meals"},
	}}
	s.StageResults[StageInquiry] = StageResult{Stage: StageInquiry, TierID: "lite", Analysis: llm.Analysis{
		Summary:         "stress related digestive complaints",
		Patterns:        []string{"liver qi stagnation"},
		Organs:          []string{"liver", "stomach"},
		Severity:        0.6,
		Recommendations: []string{"light exercise"},
	}}
	s.StageResults[StageTongue] = StageResult{Stage: StageTongue, TierID: "standard", Analysis: llm.Analysis{
		Summary: "pale tongue with tooth marks",
		Organs:  []string{"spleen"},
	}}
	return s
}

func TestBuildReport(t *testing.T) {
	reg := MustDefaultRegistry()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rep := BuildReport(reg, completedState(), now)

	assert.Equal(t, "liver qi stagnation with spleen deficiency", rep.Summary)
	assert.Equal(t, []StageID{StageInquiry, StageTongue, StageSynthesis}, rep.Stages)
	assert.Equal(t, []string{"liver qi stagnation", "spleen qi deficiency"}, rep.Patterns)
	assert.Equal(t, []string{"liver", "stomach", "spleen"}, rep.Organs)
	assert.Equal(t, []string{"light exercise", "regular meals"}, rep.Recommendations)
	assert.Equal(t, 0.6, rep.Severity)
	assert.Equal(t, map[StageID]string{StageInquiry: "lite", StageTongue: "standard", StageSynthesis: "expert"}, rep.GeneratedBy)
	assert.Equal(t, now, rep.GeneratedAt)
}

func TestBuildReport_WithoutSynthesisUsesFirstSummary(t *testing.T) {
	s := completedState()
	delete(s.StageResults, StageSynthesis)
	rep := BuildReport(MustDefaultRegistry(), s, time.Now())
	assert.Equal(t, "stress related digestive complaints", rep.Summary)
}

func TestBuildPrompt(t *testing.T) {
	reg := MustDefaultRegistry()
	s := completedState()
	stage, err := reg.Lookup(StagePulse)
	if err != nil {
		t.Fatal(err)
	}
	p := &PulseReading{Readings: []PulseSample{{Position: "guan", Side: "left", RateBPM: 88, Quality: "wiry"}}}
	prompt := BuildPrompt(reg, stage, s, p)

	assert.True(t, strings.HasPrefix(prompt, "Stage: pulse\n"))
	assert.Contains(t, prompt, "Patient: age 41, female")
	assert.Contains(t, prompt, `"quality": "wiry"`)
	assert.Contains(t, prompt, "- inquiry: stress related digestive complaints (organs: liver, stomach)")
	assert.Less(t, strings.Index(prompt, "- inquiry:"), strings.Index(prompt, "- synthesis:"))
	assert.Contains(t, prompt, `"severity": number between 0 and 1`)
}
