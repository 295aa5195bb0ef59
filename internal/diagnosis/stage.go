package diagnosis

import (
	"fmt"
	"strings"
)

// StageID names one step of the examination order.
type StageID string

const (
	StageBasicInfo  StageID = "basic_info"
	StageInquiry    StageID = "inquiry"
	StageTongue     StageID = "tongue"
	StageFace       StageID = "face"
	StageAudio      StageID = "audio"
	StagePulse      StageID = "pulse"
	StageDeviceSync StageID = "device_sync"
	StageSynthesis  StageID = "synthesis"
)

// Stage is immutable configuration for one examination step.
type Stage struct {
	ID               StageID  `json:"id"`
	Ordinal          int      `json:"ordinal"`
	RequiredInputs   []string `json:"required_inputs"`
	ProducesAIOutput bool     `json:"produces_ai_output"`
	// Weight is the number of completion percentage points the stage is worth.
	Weight int `json:"weight"`
}

// StageRegistry is the fixed, ordered list of stages.
// It is built once at startup and never mutated afterwards.
type StageRegistry struct {
	stages []Stage
	byID   map[StageID]int
}

// NewStageRegistry validates and freezes the given stage order. Ordinals are
// assigned from the slice position.
func NewStageRegistry(stages []Stage) (*StageRegistry, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("stage registry: no stages configured")
	}
	r := &StageRegistry{
		stages: make([]Stage, 0, len(stages)),
		byID:   make(map[StageID]int, len(stages)),
	}
	total := 0
	for i, st := range stages {
		id := StageID(strings.TrimSpace(string(st.ID)))
		if id == "" {
			return nil, fmt.Errorf("stage registry: stage %d has no id", i)
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("stage registry: duplicate stage %q", id)
		}
		if _, ok := payloadFactories[id]; !ok {
			return nil, fmt.Errorf("stage registry: stage %q has no payload schema", id)
		}
		if st.Weight < 0 {
			return nil, fmt.Errorf("stage registry: stage %q has negative weight", id)
		}
		total += st.Weight
		st.ID = id
		st.Ordinal = i
		st.RequiredInputs = append([]string(nil), st.RequiredInputs...)
		r.byID[id] = i
		r.stages = append(r.stages, st)
	}
	if total != 100 {
		return nil, fmt.Errorf("stage registry: weights sum to %d, want 100", total)
	}
	return r, nil
}

// DefaultStages is the examination order used by the wizard.
func DefaultStages() []Stage {
	return []Stage{
		{ID: StageBasicInfo, RequiredInputs: []string{"name", "age"}, Weight: 14},
		{ID: StageInquiry, RequiredInputs: []string{"chief_complaint", "symptoms"}, ProducesAIOutput: true, Weight: 14},
		{ID: StageTongue, RequiredInputs: []string{"image"}, ProducesAIOutput: true, Weight: 14},
		{ID: StageFace, RequiredInputs: []string{"image"}, ProducesAIOutput: true, Weight: 12},
		{ID: StageAudio, RequiredInputs: []string{"recording"}, ProducesAIOutput: true, Weight: 12},
		{ID: StagePulse, RequiredInputs: []string{"readings"}, ProducesAIOutput: true, Weight: 12},
		{ID: StageDeviceSync, RequiredInputs: []string{"device_id", "samples"}, Weight: 8},
		{ID: StageSynthesis, RequiredInputs: []string{"confirmed"}, ProducesAIOutput: true, Weight: 14},
	}
}

// MustDefaultRegistry returns the registry built from DefaultStages.
func MustDefaultRegistry() *StageRegistry {
	r, err := NewStageRegistry(DefaultStages())
	if err != nil {
		panic(err)
	}
	return r
}

// Stages returns the ordered stage list. The slice is a copy.
func (r *StageRegistry) Stages() []Stage {
	out := make([]Stage, len(r.stages))
	for i, st := range r.stages {
		st.RequiredInputs = append([]string(nil), st.RequiredInputs...)
		out[i] = st
	}
	return out
}

// Len returns the number of stages.
func (r *StageRegistry) Len() int { return len(r.stages) }

// StageAt returns the stage at ordinal or ErrNotFound.
func (r *StageRegistry) StageAt(ordinal int) (Stage, error) {
	if ordinal < 0 || ordinal >= len(r.stages) {
		return Stage{}, fmt.Errorf("%w: stage ordinal %d", ErrNotFound, ordinal)
	}
	st := r.stages[ordinal]
	st.RequiredInputs = append([]string(nil), st.RequiredInputs...)
	return st, nil
}

// Lookup returns the stage with the given id.
func (r *StageRegistry) Lookup(id StageID) (Stage, error) {
	i, ok := r.byID[id]
	if !ok {
		return Stage{}, fmt.Errorf("%w: stage %q", ErrNotFound, id)
	}
	return r.StageAt(i)
}

// NextOrdinal returns the ordinal after current, or false when current is the
// terminal stage.
func (r *StageRegistry) NextOrdinal(current int) (int, bool) {
	next := current + 1
	if current < 0 || next >= len(r.stages) {
		return 0, false
	}
	return next, true
}
