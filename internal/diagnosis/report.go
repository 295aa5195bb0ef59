package diagnosis

import (
	"math"
	"time"
)

// Report is the final aggregated assessment of a completed session.
type Report struct {
	Summary         string             `json:"summary"`
	Patterns        []string           `json:"patterns,omitempty"`
	Organs          []string           `json:"organs,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Severity        float64            `json:"severity"`
	Stages          []StageID          `json:"stages"`
	GeneratedBy     map[StageID]string `json:"generated_by"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

func (r *StageRegistry) resultsInOrder(s *State) []StageResult {
	var out []StageResult
	for _, st := range r.stages {
		if res, ok := s.StageResults[st.ID]; ok {
			out = append(out, res)
		}
	}
	return out
}

// BuildReport merges every stage result in stage order. The synthesis
// summary wins when present; lists are de-duplicated unions; severity is
// the maximum.
func BuildReport(reg *StageRegistry, s *State, now time.Time) *Report {
	rep := &Report{GeneratedBy: map[StageID]string{}, GeneratedAt: now}
	var patterns, organs, recs seenList
	for _, res := range reg.resultsInOrder(s) {
		rep.Stages = append(rep.Stages, res.Stage)
		rep.GeneratedBy[res.Stage] = res.TierID
		rep.Severity = math.Max(rep.Severity, res.Analysis.Severity)
		patterns.add(res.Analysis.Patterns...)
		organs.add(res.Analysis.Organs...)
		recs.add(res.Analysis.Recommendations...)
		if res.Stage == StageSynthesis || rep.Summary == "" {
			rep.Summary = res.Analysis.Summary
		}
	}
	rep.Patterns = patterns.items
	rep.Organs = organs.items
	rep.Recommendations = recs.items
	return rep
}

type seenList struct {
	seen  map[string]bool
	items []string
}

func (l *seenList) add(vals ...string) {
	if l.seen == nil {
		l.seen = map[string]bool{}
	}
	for _, v := range vals {
		if v == "" || l.seen[v] {
			continue
		}
		l.seen[v] = true
		l.items = append(l.items, v)
	}
}
