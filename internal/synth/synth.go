// Package synth turns merged evidence into a cited answer.
package synth

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/query-router/internal/llm"
	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/resilience"
)

// NoInformationAnswer is returned when there is no evidence to answer from.
const NoInformationAnswer = "I could not find any information to answer this question."

// fallbackHeader introduces an answer assembled from raw evidence.
const fallbackHeader = "The answer could not be generated. Relevant evidence found:"

const (
	snippetLimit            = 400
	defaultMaxContextTokens = 6000
	defaultMaxTokens        = 1024
)

const systemPrompt = `You answer questions using only the numbered evidence provided.
Cite every statement with the number of the evidence it comes from, like [1] or [2, 3].
If the evidence does not answer the question, say so plainly. Do not invent sources.`

// Synthesizer produces the final answer.
type Synthesizer struct {
	completer        llm.Completer
	policy           resilience.Policy
	counter          TokenCounter
	maxContextTokens int
	maxTokens        int64
	temperature      float64
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithPolicy sets the timeout and retry policy for the model call.
func WithPolicy(p resilience.Policy) Option {
	return func(s *Synthesizer) { s.policy = p }
}

// WithTokenCounter sets the counter used for the context budget.
func WithTokenCounter(c TokenCounter) Option {
	return func(s *Synthesizer) {
		if c != nil {
			s.counter = c
		}
	}
}

// WithMaxContextTokens bounds the evidence context sent to the model.
func WithMaxContextTokens(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxContextTokens = n
		}
	}
}

// WithGeneration sets output length and sampling temperature.
func WithGeneration(maxTokens int64, temperature float64) Option {
	return func(s *Synthesizer) {
		if maxTokens > 0 {
			s.maxTokens = maxTokens
		}
		s.temperature = temperature
	}
}

// New creates a Synthesizer. A nil completer always takes the raw-evidence
// path.
func New(completer llm.Completer, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		completer:        completer,
		policy:           resilience.DefaultPolicy(30 * time.Second),
		counter:          ApproxCounter{},
		maxContextTokens: defaultMaxContextTokens,
		maxTokens:        defaultMaxTokens,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize answers query from evidence. It never fails. upstreamDegraded
// reports that a handler contributed less than it should have.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, evidence []model.EvidenceRecord, upstreamDegraded bool) model.SynthesisResult {
	if len(evidence) == 0 {
		zap.L().Info("synth: no evidence, skipping model")
		return model.SynthesisResult{
			Answer:     NoInformationAnswer,
			Citations:  []model.Citation{},
			Confidence: 0,
			Degraded:   true,
		}
	}

	used := s.budget(evidence)
	evidenceText := buildContext(evidence[:used])

	if s.completer == nil {
		zap.L().Warn("synth: no model configured, answering from raw evidence")
		return s.fallback(evidence[:used], len(evidence))
	}

	p := s.policy
	p.OnRetry = resilience.RetryLogger("llm", "synthesize")
	answer, err := resilience.DoVal(ctx, p, func(ctx context.Context) (string, error) {
		return s.completer.Complete(ctx, llm.Request{
			System:      systemPrompt,
			Prompt:      buildPrompt(query, evidenceText),
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
			Stage:       "synthesize",
		})
	})
	answer = strings.TrimSpace(answer)
	if err != nil || answer == "" {
		zap.L().Warn("synth: model unavailable, answering from raw evidence",
			zap.Error(err),
			zap.Int("evidence", used),
		)
		return s.fallback(evidence[:used], len(evidence))
	}

	citations := ExtractCitations(answer, evidence[:used])
	res := model.SynthesisResult{
		Answer:     answer,
		Citations:  citations,
		Confidence: Confidence(len(citations), len(evidence), upstreamDegraded),
		Degraded:   upstreamDegraded,
	}
	zap.L().Debug("synth: answer generated",
		zap.Int("evidence", len(evidence)),
		zap.Int("context_items", used),
		zap.Int("citations", len(citations)),
		zap.Float64("confidence", res.Confidence),
	)
	return res
}

// budget returns how many leading evidence items fit in the context budget.
// The first item is always included.
func (s *Synthesizer) budget(evidence []model.EvidenceRecord) int {
	total := 0
	for i, e := range evidence {
		total += s.counter.Count(formatItem(i+1, e))
		if total > s.maxContextTokens && i > 0 {
			zap.L().Debug("synth: context budget reached",
				zap.Int("kept", i),
				zap.Int("dropped", len(evidence)-i),
			)
			return i
		}
	}
	return len(evidence)
}

// fallback lists the raw snippets and cites every included item.
func (s *Synthesizer) fallback(evidence []model.EvidenceRecord, total int) model.SynthesisResult {
	var b strings.Builder
	b.WriteString(fallbackHeader)
	citations := make([]model.Citation, 0, len(evidence))
	for i, e := range evidence {
		c := citationFor(i+1, e)
		citations = append(citations, c)
		fmt.Fprintf(&b, "\n[%d] %s", c.Index, labelFor(e))
		if c.Snippet != "" {
			fmt.Fprintf(&b, ": %s", c.Snippet)
		}
	}
	return model.SynthesisResult{
		Answer:     b.String(),
		Citations:  citations,
		Confidence: clamp01(Confidence(len(citations), total, true) * fallbackFactor),
		Degraded:   true,
	}
}

func buildContext(evidence []model.EvidenceRecord) string {
	items := make([]string, len(evidence))
	for i, e := range evidence {
		items[i] = formatItem(i+1, e)
	}
	return strings.Join(items, "\n\n")
}

func formatItem(n int, e model.EvidenceRecord) string {
	return fmt.Sprintf("[%d] (%s) %s\n%s", n, e.Provenance.Ref(), e.Title, e.Content)
}

func buildPrompt(query, evidenceText string) string {
	return fmt.Sprintf("Evidence:\n%s\n\nQuestion: %s\n\nAnswer using only the evidence above, citing items as [n].", evidenceText, query)
}

func labelFor(e model.EvidenceRecord) string {
	if e.Title != "" {
		return e.Title
	}
	return e.Provenance.Ref()
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "..."
}
