package diagnosis

import (
	"encoding/json"
	"math"
	"time"

	"tcmdiag/internal/llm"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusComplete  Status = "complete"
	StatusAbandoned Status = "abandoned"
)

// StageResult is the AI output stored for one completed stage.
type StageResult struct {
	Stage           StageID      `json:"stage"`
	TierID          string       `json:"tier_id"`
	ProviderRef     string       `json:"provider_ref"`
	ComplexityScore float64      `json:"complexity_score"`
	Analysis        llm.Analysis `json:"analysis"`
	FailedTiers     []string     `json:"failed_tiers,omitempty"`
	CompletedAt     time.Time    `json:"completed_at"`
}

// State is the durable snapshot of one diagnosis session.
type State struct {
	SessionID            string                  `json:"session_id"`
	OwnerRef             string                  `json:"owner_ref"`
	CurrentStageOrdinal  int                     `json:"current_stage_ordinal"`
	StagePayloads        Payloads                `json:"stage_payloads"`
	StageResults         map[StageID]StageResult `json:"stage_results"`
	Drafts               Payloads                `json:"drafts"`
	Status               Status                  `json:"status"`
	CompletionPercentage float64                 `json:"completion_percentage"`
	ComplexityScore      float64                 `json:"complexity_score"`
	Report               *Report                 `json:"report,omitempty"`
	Version              int64                   `json:"version"`
	CreatedAt            time.Time               `json:"created_at"`
	LastPersistedAt      time.Time               `json:"last_persisted_at"`
}

// NewState returns an empty active session positioned at the first stage.
func NewState(id, owner string, now time.Time) *State {
	return &State{
		SessionID:     id,
		OwnerRef:      owner,
		StagePayloads: Payloads{},
		StageResults:  map[StageID]StageResult{},
		Drafts:        Payloads{},
		Status:        StatusActive,
		CreatedAt:     now,
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	b, err := json.Marshal(s)
	if err != nil {
		panic("diagnosis: clone state: " + err.Error())
	}
	out := &State{}
	if err := json.Unmarshal(b, out); err != nil {
		panic("diagnosis: clone state: " + err.Error())
	}
	out.normalize()
	return out
}

func (s *State) normalize() {
	if s.StagePayloads == nil {
		s.StagePayloads = Payloads{}
	}
	if s.StageResults == nil {
		s.StageResults = map[StageID]StageResult{}
	}
	if s.Drafts == nil {
		s.Drafts = Payloads{}
	}
}

// DecodeState decodes a snapshot written by EncodeState.
func DecodeState(b []byte) (*State, error) {
	s := &State{}
	if err := json.Unmarshal(b, s); err != nil {
		return nil, err
	}
	s.normalize()
	return s, nil
}

// EncodeState encodes a snapshot for storage.
func EncodeState(s *State) ([]byte, error) {
	return json.Marshal(s)
}

// Completion derives the completion percentage of s: the weights of every
// completed stage plus the share of the current stage's required inputs
// already present in its draft. Complete sessions report 100.
func (r *StageRegistry) Completion(s *State) float64 {
	if s.Status == StatusComplete {
		return 100
	}
	total := 0.0
	for _, st := range r.stages {
		if st.Ordinal < s.CurrentStageOrdinal {
			total += float64(st.Weight)
		}
	}
	if cur, err := r.StageAt(s.CurrentStageOrdinal); err == nil && len(cur.RequiredInputs) > 0 {
		if d, ok := s.Drafts[cur.ID]; ok {
			have := len(intersect(cur.RequiredInputs, d.Present()))
			// A draft never counts as the whole stage.
			frac := math.Min(float64(have)/float64(len(cur.RequiredInputs)), 0.9)
			total += frac * float64(cur.Weight)
		}
	}
	return math.Min(100, math.Round(total*100)/100)
}

func intersect(want, have []string) []string {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	var out []string
	for _, w := range want {
		if set[w] {
			out = append(out, w)
		}
	}
	return out
}
