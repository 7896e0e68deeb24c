// internal/normalize/detect.go
package normalize

import "strings"

// Detection is the outcome of one AI-assistance signal.
type Detection struct {
	IsAssisted bool
	Tools      []string
}

// Detector classifies free text for signs of AI assistance. The sync engine
// consumes this as a pure function; richer classifiers (LLM-backed) plug in
// behind the same interface.
type Detector interface {
	Detect(text string) Detection
}

// patternDetector is the default text classifier: case-insensitive substring
// markers per known tool.
type patternDetector struct{}

// NewPatternDetector returns the built-in marker-based Detector.
func NewPatternDetector() Detector { return patternDetector{} }

var toolMarkers = []struct {
	tool    string
	markers []string
}{
	{"copilot", []string{"github copilot", "copilot"}},
	{"claude", []string{"claude code", "co-authored-by: claude", "generated with claude", "claude"}},
	{"cursor", []string{"cursor"}},
	{"chatgpt", []string{"chatgpt", "gpt-4", "gpt-5"}},
	{"codex", []string{"codex"}},
	{"devin", []string{"devin"}},
	{"gemini", []string{"gemini"}},
}

func (patternDetector) Detect(text string) Detection {
	lower := strings.ToLower(text)
	var det Detection
	for _, tm := range toolMarkers {
		for _, m := range tm.markers {
			if strings.Contains(lower, m) {
				det.IsAssisted = true
				det.Tools = append(det.Tools, tm.tool)
				break
			}
		}
	}
	return det
}

// AuthorSignal detects AI assistance from the author identity alone: bot
// accounts and logins naming a known tool.
func AuthorSignal(login, accountType string) Detection {
	lower := strings.ToLower(login)
	for _, tm := range toolMarkers {
		if strings.Contains(lower, tm.tool) {
			return Detection{IsAssisted: true, Tools: []string{tm.tool}}
		}
	}
	if strings.EqualFold(accountType, "Bot") || strings.HasSuffix(lower, "[bot]") {
		return Detection{IsAssisted: true}
	}
	return Detection{}
}

// Union combines two signals: assisted if either is, tool lists merged
// without duplicates, a's order first.
func Union(a, b Detection) Detection {
	out := Detection{IsAssisted: a.IsAssisted || b.IsAssisted}
	seen := make(map[string]bool)
	for _, t := range append(append([]string{}, a.Tools...), b.Tools...) {
		if !seen[t] {
			seen[t] = true
			out.Tools = append(out.Tools, t)
		}
	}
	return out
}
