package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

var ErrFakeUnavailable = errors.New("fake provider configured as unavailable")

// FakeClient returns deterministic analyses derived from keywords in the
// prompt. It lets the service run end to end without provider keys. The
// model name "down" makes every call fail.
type FakeClient struct {
	model string
}

func NewFakeClient(model string) *FakeClient { return &FakeClient{model: model} }

func (f *FakeClient) Name() string { return "fake:" + f.model }
func (f *FakeClient) Close() error { return nil }

var fakeStageLine = regexp.MustCompile(`(?m)^Stage:\s*(\S+)`)

var fakeOrganWords = []struct{ word, organ string }{
	{"headache", "liver"},
	{"irritab", "liver"},
	{"bloat", "spleen"},
	{"fatigue", "spleen"},
	{"appetite", "stomach"},
	{"nausea", "stomach"},
	{"palpitation", "heart"},
	{"insomnia", "heart"},
	{"cough", "lung"},
	{"breath", "lung"},
	{"back pain", "kidney"},
	{"urinat", "kidney"},
}

var fakePatterns = map[string]string{
	"liver":   "liver qi stagnation",
	"spleen":  "spleen qi deficiency",
	"stomach": "stomach heat",
	"heart":   "heart blood deficiency",
	"lung":    "lung qi deficiency",
	"kidney":  "kidney yang deficiency",
}

func (f *FakeClient) Generate(ctx context.Context, prompt string, media []Media) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.model == "down" {
		return "", ErrFakeUnavailable
	}
	stage := "session"
	if m := fakeStageLine.FindStringSubmatch(prompt); len(m) == 2 {
		stage = m[1]
	}
	lower := strings.ToLower(prompt)
	var organs, patterns []string
	seen := map[string]bool{}
	for _, w := range fakeOrganWords {
		if strings.Contains(lower, w.word) && !seen[w.organ] {
			seen[w.organ] = true
			organs = append(organs, w.organ)
			patterns = append(patterns, fakePatterns[w.organ])
		}
	}
	severity := math.Min(0.9, 0.15+0.15*float64(len(organs)))
	out := map[string]any{
		"summary":         fmt.Sprintf("%s reviewed %s input with %d attachment(s)", f.Name(), stage, len(media)),
		"patterns":        patterns,
		"organs":          organs,
		"severity":        math.Round(severity*100) / 100,
		"recommendations": []string{"maintain regular sleep", "follow up with a licensed practitioner"},
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
