package classify

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/query-router/internal/model"
)

// ErrAmbiguous is returned when a model response carries no recognizable label.
var ErrAmbiguous = eris.New("classify: ambiguous model response")

const systemPrompt = `You route user requests for a research assistant.

Reply with exactly one label on the first line:
SEARCH   - the answer needs web search (current events, public facts, general knowledge)
RETRIEVE - the answer is in the user's attached files
BOTH     - the answer needs the attached files and the web

Then give a one-sentence rationale on the next line.
Optionally add a final line "confidence: <0..1>".`

func buildPrompt(text string, hasFiles bool) string {
	var b strings.Builder
	b.WriteString("Request: ")
	b.WriteString(text)
	b.WriteString("\nFiles attached: ")
	if hasFiles {
		b.WriteString("yes")
	} else {
		b.WriteString("no")
	}
	return b.String()
}

// parsed is the validated content of a model response.
type parsed struct {
	route      model.Route
	rationale  string
	confidence float64 // -1 when the model gave none
}

// parseResponse reads the first non-empty line as the label and the remaining
// lines as rationale. A "label:" prefix on the first line is tolerated.
func parseResponse(text string) (parsed, error) {
	p := parsed{confidence: -1}

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return p, ErrAmbiguous
	}

	label := lines[0]
	if k, v, ok := strings.Cut(label, ":"); ok && strings.EqualFold(strings.TrimSpace(k), "label") {
		label = strings.TrimSpace(v)
	}
	rest := lines[1:]

	route, ok := model.ParseRoute(label)
	if !ok {
		// Accept "SEARCH - because ..." on a single line.
		if i := strings.IndexAny(label, " \t,;"); i > 0 {
			route, ok = model.ParseRoute(label[:i])
			if tail := strings.TrimLeft(label[i:], " \t,;-:"); ok && tail != "" {
				rest = append([]string{tail}, rest...)
			}
		}
	}
	if !ok {
		return p, eris.Wrapf(ErrAmbiguous, "label %q", lines[0])
	}
	p.route = route

	var rationale []string
	for _, l := range rest {
		if k, v, ok := strings.Cut(l, ":"); ok && strings.EqualFold(strings.TrimSpace(k), "confidence") {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				p.confidence = clamp01(f)
			}
			continue
		}
		rationale = append(rationale, l)
	}
	p.rationale = strings.Join(rationale, " ")
	return p, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
