package classify

import (
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/query-router/internal/model"
)

// Rules holds the keyword vocabulary for deterministic routing. Phrases match
// on word boundaries, case-insensitively.
type Rules struct {
	// Current marks requests that need fresh, external information.
	Current []string `yaml:"current"`
	// External marks general-knowledge requests that the web answers well.
	External []string `yaml:"external"`
	// FileReference marks requests that talk about the attached files.
	FileReference []string `yaml:"file_reference"`
}

// DefaultRules returns the built-in vocabulary.
func DefaultRules() Rules {
	return Rules{
		Current: []string{
			"current", "currently", "latest", "recent", "recently", "today", "now",
			"tonight", "yesterday", "this week", "this year", "breaking", "news",
			"weather", "stock", "price", "who won", "score", "election", "live",
			"trending", "upcoming",
		},
		External: []string{
			"what is", "who is", "when did", "where is", "how to", "capital of",
			"won", "championship", "population of", "define", "history of",
		},
		FileReference: []string{
			"this document", "this file", "this report", "the document", "the file",
			"the report", "attached", "uploaded", "resume", "summarize", "summarise",
			"the pdf", "the spreadsheet", "the table", "the image",
		},
	}
}

// LoadRules reads a YAML rules file. Lists present in the file replace the
// defaults; absent lists keep them.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, eris.Wrapf(err, "classify: read rules %s", path)
	}

	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return rules, eris.Wrapf(err, "classify: parse rules %s", path)
	}
	if len(override.Current) > 0 {
		rules.Current = override.Current
	}
	if len(override.External) > 0 {
		rules.External = override.External
	}
	if len(override.FileReference) > 0 {
		rules.FileReference = override.FileReference
	}
	return rules, nil
}

// Apply routes a request without a model. It is total and deterministic:
// identical inputs always give identical decisions.
//
//	files, no current signal  → RETRIEVE
//	files, current signal     → BOTH
//	no files                  → SEARCH
func (r Rules) Apply(text string, hasFiles bool) model.RoutingDecision {
	norm := normalize(text)
	current := firstMatch(norm, r.Current)

	d := model.RoutingDecision{Source: model.SourceRuleFallback}

	switch {
	case hasFiles && current != "":
		d.Route = model.RouteBoth
		d.Confidence = 0.6
		d.Rationale = "attached files plus current-information signal " + quote(current)
	case hasFiles:
		d.Route = model.RouteRetrieve
		d.Confidence = 0.6
		d.Rationale = "attached files and no current-information signal"
		if ref := firstMatch(norm, r.FileReference); ref != "" {
			d.Confidence = 0.7
			d.Rationale += "; refers to " + quote(ref)
		}
	case current != "":
		d.Route = model.RouteSearch
		d.Confidence = 0.7
		d.Rationale = "current-information signal " + quote(current)
	default:
		d.Route = model.RouteSearch
		d.Confidence = 0.5
		d.Rationale = "no files attached; defaulting to web search"
		if ext := firstMatch(norm, r.External); ext != "" {
			d.Confidence = 0.6
			d.Rationale = "general-knowledge signal " + quote(ext)
		}
	}
	return d
}

// normalize lowercases text and collapses every run of non-alphanumerics to a
// single space, padding both ends so phrase lookups respect word boundaries.
func normalize(text string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

func firstMatch(norm string, phrases []string) string {
	for _, p := range phrases {
		key := normalize(p)
		if strings.TrimSpace(key) == "" {
			continue
		}
		if strings.Contains(norm, key) {
			return p
		}
	}
	return ""
}

func quote(s string) string {
	return `"` + s + `"`
}
