package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrMalformedOutput = errors.New("malformed model output")

// Analysis is the structured result every tier must return.
type Analysis struct {
	Summary         string   `json:"summary"`
	Patterns        []string `json:"patterns,omitempty"`
	Organs          []string `json:"organs,omitempty"`
	Severity        float64  `json:"severity"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// ParseAnalysis extracts the JSON object from a model reply. Code fences and
// surrounding prose are tolerated; a missing summary or a severity outside
// [0,1] is not.
func ParseAnalysis(raw string) (Analysis, error) {
	body := strings.TrimSpace(raw)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return Analysis{}, fmt.Errorf("%w: no json object", ErrMalformedOutput)
	}
	var a Analysis
	if err := json.Unmarshal([]byte(body[start:end+1]), &a); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	a.Summary = strings.TrimSpace(a.Summary)
	if a.Summary == "" {
		return Analysis{}, fmt.Errorf("%w: summary is empty", ErrMalformedOutput)
	}
	if math.IsNaN(a.Severity) || a.Severity < 0 || a.Severity > 1 {
		return Analysis{}, fmt.Errorf("%w: severity %v outside [0,1]", ErrMalformedOutput, a.Severity)
	}
	a.Patterns = cleanList(a.Patterns, false)
	a.Organs = cleanList(a.Organs, true)
	a.Recommendations = cleanList(a.Recommendations, false)
	return a, nil
}

func cleanList(in []string, lower bool) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if lower {
			s = strings.ToLower(s)
		}
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
