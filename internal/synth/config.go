package synth

import (
	"go.uber.org/zap"

	"github.com/sells-group/query-router/internal/config"
	"github.com/sells-group/query-router/internal/llm"
	"github.com/sells-group/query-router/internal/resilience"
)

// NewFromConfig builds a synthesizer with the answer model. A token encoding
// that cannot be loaded falls back to the approximate counter.
func NewFromConfig(cfg *config.Config) *Synthesizer {
	opts := []Option{
		WithPolicy(resilience.FromConfig(cfg)),
		WithMaxContextTokens(cfg.Synth.MaxContextTokens),
		WithGeneration(cfg.LLM.MaxTokens, cfg.LLM.Temperature),
	}
	if cfg.Synth.TokenEncoding != "" {
		tc, err := NewTiktokenCounter(cfg.Synth.TokenEncoding)
		if err != nil {
			zap.L().Warn("synth: token encoding unavailable, using approximate counter",
				zap.String("encoding", cfg.Synth.TokenEncoding),
				zap.Error(err),
			)
		} else {
			opts = append(opts, WithTokenCounter(tc))
		}
	}
	return New(llm.FromConfig(cfg, llm.RoleAnswer), opts...)
}
