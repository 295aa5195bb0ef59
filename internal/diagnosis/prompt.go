package diagnosis

import (
	"encoding/json"
	"fmt"
	"strings"
)

var stageInstructions = map[StageID]string{
	StageInquiry:   "Review the chief complaint and symptom list. Identify the likely TCM patterns and the organ systems involved.",
	StageTongue:    "Inspect the attached tongue photo: body color, shape, coating color and thickness, moisture.",
	StageFace:      "Inspect the attached face photo: complexion, luster, color distribution.",
	StageAudio:     "Listen to the attached recording: voice strength, breathing sounds, cough.",
	StagePulse:     "Interpret the pulse readings by position and side: rate, depth, strength, quality.",
	StageSynthesis: "Combine every prior finding into one overall assessment for the patient.",
}

const analysisSchema = `Reply with one JSON object:
{"summary": string, "patterns": [string], "organs": [string], "severity": number between 0 and 1, "recommendations": [string]}`

// BuildPrompt assembles the stage prompt from the new payload and the
// findings already on record.
func BuildPrompt(reg *StageRegistry, stage Stage, s *State, p Payload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Stage: %s\n", stage.ID)
	sb.WriteString("You are assisting a Traditional Chinese Medicine practitioner. This is not a medical diagnosis.\n")
	if ins, ok := stageInstructions[stage.ID]; ok {
		sb.WriteString(ins)
		sb.WriteString("\n")
	}
	if bi, ok := s.StagePayloads[StageBasicInfo].(*BasicInfo); ok {
		fmt.Fprintf(&sb, "\nPatient: age %d", bi.Age)
		if bi.Gender != "" {
			fmt.Fprintf(&sb, ", %s", bi.Gender)
		}
		sb.WriteString("\n")
	}
	if b, err := json.MarshalIndent(p, "", "  "); err == nil {
		sb.WriteString("\n[STAGE INPUT]\n")
		sb.Write(b)
		sb.WriteString("\n")
	}
	if prior := priorFindings(reg, s); prior != "" {
		sb.WriteString("\n[PRIOR FINDINGS]\n")
		sb.WriteString(prior)
	}
	sb.WriteString("\n")
	sb.WriteString(analysisSchema)
	return sb.String()
}

func priorFindings(reg *StageRegistry, s *State) string {
	var sb strings.Builder
	for _, r := range reg.resultsInOrder(s) {
		fmt.Fprintf(&sb, "- %s: %s", r.Stage, r.Analysis.Summary)
		if len(r.Analysis.Organs) > 0 {
			fmt.Fprintf(&sb, " (organs: %s)", strings.Join(r.Analysis.Organs, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
