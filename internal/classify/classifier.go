// Package classify decides which handlers answer a request.
package classify

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/query-router/internal/llm"
	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/resilience"
)

// defaultModelConfidence is used when the model does not state one.
const defaultModelConfidence = 0.85

// Classifier routes requests with a model and falls back to Rules.
type Classifier struct {
	model  llm.Completer
	rules  Rules
	policy resilience.Policy
}

// New creates a Classifier. A nil completer routes everything through rules.
func New(completer llm.Completer, rules Rules, policy resilience.Policy) *Classifier {
	return &Classifier{model: completer, rules: rules, policy: policy}
}

// Classify never fails: model errors and unparsable output are logged and
// answered by the rule fallback.
func (c *Classifier) Classify(ctx context.Context, text string, hasFiles bool) model.RoutingDecision {
	log := zap.L().With(zap.Bool("has_files", hasFiles))

	if c.model == nil {
		d := c.rules.Apply(text, hasFiles)
		log.Debug("classify: no model configured, using rules", zap.String("route", string(d.Route)))
		return d
	}

	p := c.policy
	p.OnRetry = resilience.RetryLogger("llm", "classify")
	out, err := resilience.DoVal(ctx, p, func(ctx context.Context) (string, error) {
		return c.model.Complete(ctx, llm.Request{
			System:      systemPrompt,
			Prompt:      buildPrompt(text, hasFiles),
			MaxTokens:   128,
			Temperature: 0,
			Stage:       "classify",
		})
	})
	if err != nil {
		d := c.rules.Apply(text, hasFiles)
		log.Warn("classify: model unavailable, using rules",
			zap.Error(err),
			zap.String("route", string(d.Route)),
		)
		return d
	}

	parsed, err := parseResponse(out)
	if err != nil {
		d := c.rules.Apply(text, hasFiles)
		log.Warn("classify: unparsable model response, using rules",
			zap.Error(err),
			zap.String("route", string(d.Route)),
		)
		return d
	}

	d := model.RoutingDecision{
		Route:      parsed.route,
		Rationale:  parsed.rationale,
		Confidence: parsed.confidence,
		Source:     model.SourceModel,
	}
	if d.Confidence < 0 {
		d.Confidence = defaultModelConfidence
	}

	// Retrieval needs files; a model asking for it without any is corrected.
	if !hasFiles && d.Route != model.RouteSearch {
		log.Info("classify: model chose retrieval without files, routing to search",
			zap.String("model_route", string(d.Route)),
		)
		d.Route = model.RouteSearch
		d.Rationale = "no files attached; " + d.Rationale
	}

	log.Debug("classify: model decision",
		zap.String("route", string(d.Route)),
		zap.Float64("confidence", d.Confidence),
	)
	return d
}
