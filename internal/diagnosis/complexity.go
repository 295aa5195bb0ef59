package diagnosis

import "math"

// ComplexityScorer estimates how hard a case is from the evidence gathered
// so far. Score is pure: the same state always yields the same value, and
// adding evidence never lowers it.
type ComplexityScorer struct{}

// Score returns a value in [0,1]. Each component is a probability-like
// contribution in [0,1); they combine as 1 - Π(1 - c).
func (ComplexityScorer) Score(s *State) float64 {
	var comps []float64

	if in, ok := s.StagePayloads[StageInquiry].(*Inquiry); ok {
		n := len(in.Symptoms)
		comps = append(comps, 0.6*math.Min(1, float64(n)/6))
		maxSev := 0
		for _, sym := range in.Symptoms {
			if sym.Severity > maxSev {
				maxSev = sym.Severity
			}
		}
		comps = append(comps, 0.5*math.Min(1, float64(maxSev)/10))
		if in.Urgent {
			comps = append(comps, 0.3)
		}
	}

	if bi, ok := s.StagePayloads[StageBasicInfo].(*BasicInfo); ok && bi.Age > 0 {
		if bi.Age < 12 || bi.Age >= 65 {
			comps = append(comps, 0.2)
		}
	}

	if p, ok := s.StagePayloads[StagePulse].(*PulseReading); ok {
		abnormal := 0
		for _, r := range p.Readings {
			if r.RateBPM < 55 || r.RateBPM > 100 {
				abnormal++
			}
		}
		comps = append(comps, 0.3*math.Min(1, float64(abnormal)/3))
	}

	organs := map[string]struct{}{}
	maxResult := 0.0
	for _, r := range s.StageResults {
		for _, o := range r.Analysis.Organs {
			organs[o] = struct{}{}
		}
		maxResult = math.Max(maxResult, r.Analysis.Severity)
	}
	if d := len(organs); d > 1 {
		comps = append(comps, 0.7*math.Min(1, float64(d-1)/4))
	}
	comps = append(comps, 0.8*math.Min(1, maxResult))

	keep := 1.0
	for _, c := range comps {
		keep *= 1 - math.Max(0, math.Min(1, c))
	}
	return math.Max(0, math.Min(1, 1-keep))
}

// Urgent reports whether the patient flagged the case as urgent.
func Urgent(s *State) bool {
	in, ok := s.StagePayloads[StageInquiry].(*Inquiry)
	return ok && in.Urgent
}
