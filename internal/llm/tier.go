package llm

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelTier is one rung of the inference fallback ladder.
type ModelTier struct {
	TierID             string        `yaml:"id" json:"id"`
	CapabilityRank     int           `yaml:"rank" json:"rank"`
	MaxComplexityScore float64       `yaml:"max_score" json:"max_score"`
	ProviderRef        string        `yaml:"provider" json:"provider"`
	Timeout            time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RPS                float64       `yaml:"rps,omitempty" json:"rps,omitempty"`
	Burst              int           `yaml:"burst,omitempty" json:"burst,omitempty"`
}

type tierFile struct {
	Tiers []ModelTier `yaml:"tiers"`
}

// LoadTiersFile reads a YAML tier table of the form:
//
//	tiers:
//	  - id: lite
//	    rank: 1
//	    max_score: 0.3
//	    provider: groq:llama-3.1-8b-instant
//	    timeout: 20s
func LoadTiersFile(path string) ([]ModelTier, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier table: %w", err)
	}
	return ParseTiers(b)
}

// ParseTiers decodes a YAML tier table.
func ParseTiers(b []byte) ([]ModelTier, error) {
	var tf tierFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return nil, fmt.Errorf("parse tier table: %w", err)
	}
	for i := range tf.Tiers {
		tf.Tiers[i].TierID = strings.TrimSpace(tf.Tiers[i].TierID)
		tf.Tiers[i].ProviderRef = strings.TrimSpace(tf.Tiers[i].ProviderRef)
	}
	return tf.Tiers, nil
}

// DefaultTiers is the built-in four-rung table. With fake=true every rung
// is served by the offline fake provider.
func DefaultTiers(fake bool) []ModelTier {
	refs := []string{
		"groq:llama-3.1-8b-instant",
		"gemini:gemini-2.5-flash",
		"openai:gpt-4o",
		"gemini:gemini-2.5-pro",
	}
	if fake {
		refs = []string{"fake:lite", "fake:standard", "fake:advanced", "fake:expert"}
	}
	return []ModelTier{
		{TierID: "lite", CapabilityRank: 1, MaxComplexityScore: 0.3, ProviderRef: refs[0], Timeout: 20 * time.Second},
		{TierID: "standard", CapabilityRank: 2, MaxComplexityScore: 0.55, ProviderRef: refs[1], Timeout: 30 * time.Second},
		{TierID: "advanced", CapabilityRank: 3, MaxComplexityScore: 0.8, ProviderRef: refs[2], Timeout: 45 * time.Second},
		{TierID: "expert", CapabilityRank: 4, MaxComplexityScore: 1, ProviderRef: refs[3], Timeout: 60 * time.Second},
	}
}
